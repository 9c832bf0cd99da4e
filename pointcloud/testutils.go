package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// HeightField is a smooth, non-symmetric surface z = f(x, y) over the unit square. It has a
// single bump and a tilt so that no translation or rotation maps it onto itself.
func HeightField(x, y float64) float64 {
	bump := 0.12 * math.Exp(-((x-0.35)*(x-0.35)+(y-0.6)*(y-0.6))/0.04)
	return bump + 0.05*x*x - 0.04*x*y + 0.03*y
}

// MakeHeightFieldCloud samples HeightField on an n by n grid with the given spacing, offset by
// half a cell so that samples never sit on a voxel boundary for voxels that are a multiple of
// the spacing.
func MakeHeightFieldCloud(n int, spacing float64) *PointCloud {
	pc := NewWithPrealloc(n * n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x := spacing/2 + spacing*float64(i)
			y := spacing/2 + spacing*float64(j)
			pc.Append(r3.Vector{X: x, Y: y, Z: HeightField(x, y)})
		}
	}
	return pc
}

// MakeTestPointCloud creates the unit-square height field at 1cm spacing, about 10k points.
func MakeTestPointCloud() *PointCloud {
	return MakeHeightFieldCloud(100, 0.01)
}

// MakePlaneCloud samples the z = 0 plane on an n by n grid with the given spacing.
func MakePlaneCloud(n int, spacing float64) *PointCloud {
	pc := NewWithPrealloc(n * n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pc.Append(r3.Vector{X: spacing * float64(i), Y: spacing * float64(j)})
		}
	}
	return pc
}

// MakeSphereCloud places n points on a sphere using a Fibonacci lattice.
func MakeSphereCloud(n int, radius float64, center r3.Vector) *PointCloud {
	pc := NewWithPrealloc(n)
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		z := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - z*z)
		theta := golden * float64(i)
		pc.Append(center.Add(r3.Vector{X: r * math.Cos(theta), Y: r * math.Sin(theta), Z: z}.Mul(radius)))
	}
	return pc
}
