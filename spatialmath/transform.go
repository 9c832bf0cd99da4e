package spatialmath

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/multialign/utils"
)

// RigidTolerance bounds how far a rotation block may drift from orthonormal before IsRigid rejects it.
const RigidTolerance = 1e-6

// RigidTransform is a proper rigid motion stored as a row-major 4x4 homogeneous matrix.
// The rotation block is orthonormal with determinant +1 and the last row is [0 0 0 1].
// Values are immutable; every operation returns a new transform.
type RigidTransform struct {
	m [16]float64
}

// Identity returns the identity transform. Its matrix is exactly the identity.
func Identity() RigidTransform {
	return RigidTransform{m: [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

func fromParts(rot [9]float64, t r3.Vector) RigidTransform {
	return RigidTransform{m: [16]float64{
		rot[0], rot[1], rot[2], t.X,
		rot[3], rot[4], rot[5], t.Y,
		rot[6], rot[7], rot[8], t.Z,
		0, 0, 0, 1,
	}}
}

// NewRigidTransform builds a transform from a row-major 3x3 rotation and a translation. The rotation
// is projected onto the nearest proper rotation, so nearly orthonormal inputs are accepted.
func NewRigidTransform(rot [9]float64, t r3.Vector) RigidTransform {
	return fromParts(Orthonormalize(rot), t)
}

// NewRigidTransformFromMatrix validates a row-major 4x4 matrix and returns it as a transform.
// The rotation block is re-orthonormalized.
func NewRigidTransformFromMatrix(m [16]float64) (RigidTransform, error) {
	for i, v := range m {
		if !utils.IsFinite(v) {
			return RigidTransform{}, errors.Errorf("matrix element %d is not finite", i)
		}
	}
	if m[12] != 0 || m[13] != 0 || m[14] != 0 || m[15] != 1 {
		return RigidTransform{}, errors.New("last row of a rigid transform must be [0 0 0 1]")
	}
	rot := [9]float64{m[0], m[1], m[2], m[4], m[5], m[6], m[8], m[9], m[10]}
	if det3(rot) <= 0 {
		return RigidTransform{}, errors.New("rotation block is a reflection or degenerate")
	}
	return NewRigidTransform(rot, r3.Vector{X: m[3], Y: m[7], Z: m[11]}), nil
}

// NewTranslation returns a pure translation.
func NewTranslation(t r3.Vector) RigidTransform {
	out := Identity()
	out.m[3], out.m[7], out.m[11] = t.X, t.Y, t.Z
	return out
}

// FromAxisAngle returns the rotation of theta radians about axis followed by the translation t.
func FromAxisAngle(axis r3.Vector, theta float64, t r3.Vector) RigidTransform {
	aa := &R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z}
	return fromParts(quatToRotation(aa.ToQuat()), t)
}

// FromRotationVector maps a rotation vector (axis scaled by angle) and a translation to a transform.
func FromRotationVector(w, t r3.Vector) RigidTransform {
	return fromParts(quatToRotation(R3ToR4(w).ToQuat()), t)
}

// Matrix returns the row-major 4x4 matrix.
func (rt RigidTransform) Matrix() [16]float64 {
	return rt.m
}

// Rotation returns the row-major 3x3 rotation block.
func (rt RigidTransform) Rotation() [9]float64 {
	m := rt.m
	return [9]float64{m[0], m[1], m[2], m[4], m[5], m[6], m[8], m[9], m[10]}
}

// Translation returns the translation column.
func (rt RigidTransform) Translation() r3.Vector {
	return r3.Vector{X: rt.m[3], Y: rt.m[7], Z: rt.m[11]}
}

// Apply maps a point through the transform.
func (rt RigidTransform) Apply(p r3.Vector) r3.Vector {
	m := &rt.m
	return r3.Vector{
		X: m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3],
		Y: m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7],
		Z: m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11],
	}
}

// ApplyNormal rotates a direction without translating it.
func (rt RigidTransform) ApplyNormal(n r3.Vector) r3.Vector {
	m := &rt.m
	return r3.Vector{
		X: m[0]*n.X + m[1]*n.Y + m[2]*n.Z,
		Y: m[4]*n.X + m[5]*n.Y + m[6]*n.Z,
		Z: m[8]*n.X + m[9]*n.Y + m[10]*n.Z,
	}
}

// Compose returns rt∘other: the transform that applies other first, then rt.
func (rt RigidTransform) Compose(other RigidTransform) RigidTransform {
	var out [16]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += rt.m[4*r+k] * other.m[4*k+c]
			}
			out[4*r+c] = sum
		}
	}
	return RigidTransform{m: out}
}

// Inverse returns the inverse motion, computed as [Rᵀ | -Rᵀt].
func (rt RigidTransform) Inverse() RigidTransform {
	r := rt.Rotation()
	rtT := [9]float64{r[0], r[3], r[6], r[1], r[4], r[7], r[2], r[5], r[8]}
	t := rt.Translation()
	inv := fromParts(rtT, r3.Vector{})
	nt := inv.ApplyNormal(t).Mul(-1)
	inv.m[3], inv.m[7], inv.m[11] = nt.X, nt.Y, nt.Z
	return inv
}

// Orthonormalized returns the transform with its rotation block projected back onto SO(3).
// Long chains of compositions call this to stop numerical drift.
func (rt RigidTransform) Orthonormalized() RigidTransform {
	return fromParts(Orthonormalize(rt.Rotation()), rt.Translation())
}

// RotationAngle returns the magnitude in radians of the rotation block.
func (rt RigidTransform) RotationAngle() float64 {
	m := &rt.m
	c := (m[0] + m[5] + m[10] - 1) / 2
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// AlmostEqual reports whether every matrix element is within epsilon of other's.
func (rt RigidTransform) AlmostEqual(other RigidTransform, epsilon float64) bool {
	for i := range rt.m {
		if math.Abs(rt.m[i]-other.m[i]) > epsilon {
			return false
		}
	}
	return true
}

// String renders the 16 matrix entries row-major as space separated %.6f values.
func (rt RigidTransform) String() string {
	parts := make([]string, len(rt.m))
	for i, v := range rt.m {
		parts[i] = fmt.Sprintf("%.6f", v)
	}
	return strings.Join(parts, " ")
}

// IsRigid reports whether a row-major 4x4 matrix is a proper rigid transform within tol:
// orthonormal rotation block, determinant +1, last row [0 0 0 1].
func IsRigid(m [16]float64, tol float64) bool {
	if m[12] != 0 || m[13] != 0 || m[14] != 0 || math.Abs(m[15]-1) > tol {
		return false
	}
	rot := [9]float64{m[0], m[1], m[2], m[4], m[5], m[6], m[8], m[9], m[10]}
	if math.Abs(det3(rot)-1) > tol {
		return false
	}
	// RᵀR = I
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += rot[3*k+i] * rot[3*k+j]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > tol {
				return false
			}
		}
	}
	return true
}

// Orthonormalize returns the proper rotation closest to a row-major 3x3 matrix in the Frobenius norm,
// R = U·diag(1, 1, det(UVᵀ))·Vᵀ from the SVD.
func Orthonormalize(rot [9]float64) [9]float64 {
	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(3, 3, rot[:]), mat.SVDFull) {
		return [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[3*i+j] = r.At(i, j)
		}
	}
	return out
}

func det3(r [9]float64) float64 {
	return r[0]*(r[4]*r[8]-r[5]*r[7]) - r[1]*(r[3]*r[8]-r[5]*r[6]) + r[2]*(r[3]*r[7]-r[4]*r[6])
}
