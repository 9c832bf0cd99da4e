package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"pgregory.net/rapid"
)

func TestIdentityIsExact(t *testing.T) {
	id := Identity()
	test.That(t, id.Matrix(), test.ShouldResemble, [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1})
	test.That(t, id.Compose(id).Matrix(), test.ShouldResemble, id.Matrix())
	test.That(t, id.Inverse().Matrix(), test.ShouldResemble, id.Matrix())
	test.That(t, IsRigid(id.Matrix(), 0), test.ShouldBeTrue)
}

func TestApplyAndCompose(t *testing.T) {
	rotZ := FromAxisAngle(r3.Vector{Z: 1}, math.Pi/2, r3.Vector{})
	p := rotZ.Apply(r3.Vector{X: 1})
	test.That(t, p.X, test.ShouldAlmostEqual, 0)
	test.That(t, p.Y, test.ShouldAlmostEqual, 1)
	test.That(t, p.Z, test.ShouldAlmostEqual, 0)

	shift := NewTranslation(r3.Vector{X: 1, Y: 2, Z: 3})
	// shift after rotation
	both := shift.Compose(rotZ)
	q := both.Apply(r3.Vector{X: 1})
	test.That(t, q.X, test.ShouldAlmostEqual, 1)
	test.That(t, q.Y, test.ShouldAlmostEqual, 3)
	test.That(t, q.Z, test.ShouldAlmostEqual, 3)

	n := both.ApplyNormal(r3.Vector{X: 1})
	test.That(t, n.Y, test.ShouldAlmostEqual, 1)
	test.That(t, n.Norm(), test.ShouldAlmostEqual, 1)

	test.That(t, both.RotationAngle(), test.ShouldAlmostEqual, math.Pi/2)
	test.That(t, both.Translation(), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
}

func TestInverse(t *testing.T) {
	tf := FromAxisAngle(r3.Vector{X: 1, Y: 1}, 0.7, r3.Vector{X: -0.3, Y: 0.2, Z: 5})
	round := tf.Compose(tf.Inverse())
	test.That(t, round.AlmostEqual(Identity(), 1e-12), test.ShouldBeTrue)

	p := r3.Vector{X: 0.4, Y: -1, Z: 2}
	back := tf.Inverse().Apply(tf.Apply(p))
	test.That(t, back.Sub(p).Norm(), test.ShouldBeLessThan, 1e-12)
}

func TestNewRigidTransformFromMatrix(t *testing.T) {
	good := FromAxisAngle(r3.Vector{Z: 1}, 0.3, r3.Vector{X: 1}).Matrix()
	tf, err := NewRigidTransformFromMatrix(good)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tf.AlmostEqual(RigidTransform{m: good}, 1e-12), test.ShouldBeTrue)

	reflect := Identity().Matrix()
	reflect[0] = -1
	_, err = NewRigidTransformFromMatrix(reflect)
	test.That(t, err, test.ShouldNotBeNil)

	badRow := Identity().Matrix()
	badRow[12] = 1
	_, err = NewRigidTransformFromMatrix(badRow)
	test.That(t, err, test.ShouldNotBeNil)

	nan := Identity().Matrix()
	nan[3] = math.NaN()
	_, err = NewRigidTransformFromMatrix(nan)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOrthonormalizeRepairsDrift(t *testing.T) {
	rot := FromAxisAngle(r3.Vector{X: 1, Y: 2, Z: 3}, 1.1, r3.Vector{}).Rotation()
	for i := range rot {
		rot[i] *= 1.01
	}
	rot[1] += 0.002
	tf := NewRigidTransform(rot, r3.Vector{})
	test.That(t, IsRigid(tf.Matrix(), 1e-9), test.ShouldBeTrue)
	test.That(t, tf.RotationAngle(), test.ShouldAlmostEqual, 1.1, 0.01)
}

func TestIsRigid(t *testing.T) {
	m := Identity().Matrix()
	m[0] = 2
	test.That(t, IsRigid(m, RigidTolerance), test.ShouldBeFalse)

	m = Identity().Matrix()
	m[15] = 2
	test.That(t, IsRigid(m, RigidTolerance), test.ShouldBeFalse)
}

func TestString(t *testing.T) {
	s := NewTranslation(r3.Vector{X: 0.5}).String()
	test.That(t, s, test.ShouldEqual,
		"1.000000 0.000000 0.000000 0.500000 0.000000 1.000000 0.000000 0.000000 "+
			"0.000000 0.000000 1.000000 0.000000 0.000000 0.000000 0.000000 1.000000")
}

func drawTransform(t *rapid.T) RigidTransform {
	axis := r3.Vector{
		X: rapid.Float64Range(-1, 1).Draw(t, "ax"),
		Y: rapid.Float64Range(-1, 1).Draw(t, "ay"),
		Z: rapid.Float64Range(-1, 1).Draw(t, "az"),
	}
	theta := rapid.Float64Range(-math.Pi, math.Pi).Draw(t, "theta")
	tr := r3.Vector{
		X: rapid.Float64Range(-10, 10).Draw(t, "tx"),
		Y: rapid.Float64Range(-10, 10).Draw(t, "ty"),
		Z: rapid.Float64Range(-10, 10).Draw(t, "tz"),
	}
	return FromAxisAngle(axis, theta, tr)
}

func TestTransformsStayRigid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := drawTransform(t)
		b := drawTransform(t)
		if !IsRigid(a.Matrix(), 1e-9) {
			t.Fatalf("not rigid: %v", a)
		}
		ab := a.Compose(b)
		if !IsRigid(ab.Matrix(), 1e-9) {
			t.Fatalf("composition not rigid: %v", ab)
		}
		if !ab.Compose(ab.Inverse()).AlmostEqual(Identity(), 1e-9) {
			t.Fatalf("inverse failed for %v", ab)
		}
	})
}

func TestRotationPreservesDistances(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tf := drawTransform(t)
		p := r3.Vector{
			X: rapid.Float64Range(-5, 5).Draw(t, "px"),
			Y: rapid.Float64Range(-5, 5).Draw(t, "py"),
			Z: rapid.Float64Range(-5, 5).Draw(t, "pz"),
		}
		q := r3.Vector{X: 1, Y: -2, Z: 0.5}
		d0 := p.Sub(q).Norm()
		d1 := tf.Apply(p).Sub(tf.Apply(q)).Norm()
		if math.Abs(d0-d1) > 1e-9 {
			t.Fatalf("distance changed: %v vs %v", d0, d1)
		}
	})
}
