package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestR4AAToQuat(t *testing.T) {
	th := math.Pi / 4.
	q45x := quat.Number{Real: math.Cos(th / 2.), Imag: math.Sin(th / 2.)}
	aa := &R4AA{th, 2., 0., 0.}
	q := aa.ToQuat()
	test.That(t, q.Real, test.ShouldAlmostEqual, q45x.Real)
	test.That(t, q.Imag, test.ShouldAlmostEqual, q45x.Imag)
	test.That(t, q.Jmag, test.ShouldAlmostEqual, 0)
	test.That(t, q.Kmag, test.ShouldAlmostEqual, 0)
	// normalized in place
	test.That(t, aa.RX, test.ShouldAlmostEqual, 1)

	test.That(t, NewR4AA().ToQuat(), test.ShouldResemble, quat.Number{Real: 1})
}

func TestR3R4RoundTrip(t *testing.T) {
	v := r3.Vector{X: 0.1, Y: -0.2, Z: 0.3}
	r4 := R3ToR4(v)
	test.That(t, r4.Theta, test.ShouldAlmostEqual, v.Norm())
	back := r3.Vector{X: r4.RX, Y: r4.RY, Z: r4.RZ}.Mul(r4.Theta)
	test.That(t, back.Sub(v).Norm(), test.ShouldBeLessThan, 1e-15)

	test.That(t, R3ToR4(r3.Vector{}), test.ShouldResemble, NewR4AA())
}

func TestZeroAxisNormalizes(t *testing.T) {
	aa := &R4AA{Theta: 1}
	aa.Normalize()
	test.That(t, *aa, test.ShouldResemble, *NewR4AA())
}

func TestFromRotationVectorMatchesAxisAngle(t *testing.T) {
	w := r3.Vector{X: 0, Y: 0, Z: 0.25}
	a := FromRotationVector(w, r3.Vector{X: 1})
	b := FromAxisAngle(r3.Vector{Z: 1}, 0.25, r3.Vector{X: 1})
	test.That(t, a.AlmostEqual(b, 1e-15), test.ShouldBeTrue)
	test.That(t, FromRotationVector(r3.Vector{}, r3.Vector{}).Matrix(), test.ShouldResemble, Identity().Matrix())
}
