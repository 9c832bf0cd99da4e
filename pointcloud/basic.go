package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// New returns a PointCloud over the given points. The slice is not copied.
func New(points []r3.Vector) *PointCloud {
	return &PointCloud{Points: points}
}

// NewWithPrealloc returns an empty, preallocated PointCloud.
func NewWithPrealloc(size int) *PointCloud {
	return &PointCloud{Points: make([]r3.Vector, 0, size)}
}

// Size returns the number of points in the cloud.
func (cloud *PointCloud) Size() int {
	if cloud == nil {
		return 0
	}
	return len(cloud.Points)
}

// HasNormals reports whether the cloud carries a normal per point.
func (cloud *PointCloud) HasNormals() bool {
	return cloud.Normals != nil && len(cloud.Normals) == len(cloud.Points)
}

// HasColor reports whether the cloud carries a color per point.
func (cloud *PointCloud) HasColor() bool {
	return cloud.Colors != nil && len(cloud.Colors) == len(cloud.Points)
}

// Append adds a point without normal or color. It must not be mixed with the other
// Append variants on the same cloud.
func (cloud *PointCloud) Append(p r3.Vector) {
	cloud.Points = append(cloud.Points, p)
}

// AppendColored adds a colored point.
func (cloud *PointCloud) AppendColored(p r3.Vector, c color.NRGBA) {
	cloud.Points = append(cloud.Points, p)
	cloud.Colors = append(cloud.Colors, c)
}

// AppendWithNormal adds a point with its normal.
func (cloud *PointCloud) AppendWithNormal(p, n r3.Vector) {
	cloud.Points = append(cloud.Points, p)
	cloud.Normals = append(cloud.Normals, n)
}

// Clone returns a deep copy.
func (cloud *PointCloud) Clone() *PointCloud {
	out := &PointCloud{Points: append([]r3.Vector(nil), cloud.Points...)}
	if cloud.Normals != nil {
		out.Normals = append([]r3.Vector(nil), cloud.Normals...)
	}
	if cloud.Colors != nil {
		out.Colors = append([]color.NRGBA(nil), cloud.Colors...)
	}
	return out
}

// Centroid returns the mean of all points, or the zero vector for an empty cloud.
func (cloud *PointCloud) Centroid() r3.Vector {
	return centroid(cloud.Points)
}

func centroid(points []r3.Vector) r3.Vector {
	if len(points) == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}
