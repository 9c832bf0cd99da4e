// Package pointcloud defines an ordered point cloud with optional per-point normals and colors,
// a KD-tree spatial index over it, voxel downsampling, normal estimation, and PCD/LAS file I/O.
//
// Clouds are values: Transform, Merge, Downsample and WithNormals all return new clouds and
// never modify their input.
package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/multialign/spatialmath"
	"go.viam.com/multialign/utils"
)

var (
	// ErrInvalidInput is returned for empty, too small, or non-finite inputs and non-positive parameters.
	ErrInvalidInput = errors.New("invalid input")
	// ErrIndexConstruction is returned when a spatial index cannot be built over degenerate data.
	ErrIndexConstruction = errors.New("index construction failed")
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor   bool
	HasNormals bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns an empty MetaData whose bounds will grow to fit any merged point.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge grows the bounds to include v.
func (meta *MetaData) Merge(v r3.Vector) {
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
}

// Extent returns the size of the bounding box along each axis.
func (meta MetaData) Extent() r3.Vector {
	if meta.MinX > meta.MaxX {
		return r3.Vector{}
	}
	return r3.Vector{X: meta.MaxX - meta.MinX, Y: meta.MaxY - meta.MinY, Z: meta.MaxZ - meta.MinZ}
}

// PointCloud is an ordered sequence of points. Normals and Colors are either nil or the same
// length as Points. A zero normal marks a point whose normal is undefined.
type PointCloud struct {
	Points  []r3.Vector
	Normals []r3.Vector
	Colors  []color.NRGBA
}

// MetaData returns the bounding box and which optional attributes are present.
func (cloud *PointCloud) MetaData() MetaData {
	meta := NewMetaData()
	for _, p := range cloud.Points {
		meta.Merge(p)
	}
	meta.HasColor = cloud.HasColor()
	meta.HasNormals = cloud.HasNormals()
	return meta
}

// Transform returns a copy of the cloud mapped through t. Normals are rotated, undefined
// normals stay zero, and colors are copied.
func (cloud *PointCloud) Transform(t spatialmath.RigidTransform) *PointCloud {
	out := &PointCloud{Points: make([]r3.Vector, len(cloud.Points))}
	for i, p := range cloud.Points {
		out.Points[i] = t.Apply(p)
	}
	if cloud.HasNormals() {
		out.Normals = make([]r3.Vector, len(cloud.Normals))
		for i, n := range cloud.Normals {
			if n == (r3.Vector{}) {
				continue
			}
			out.Normals[i] = t.ApplyNormal(n)
		}
	}
	if cloud.HasColor() {
		out.Colors = append([]color.NRGBA(nil), cloud.Colors...)
	}
	return out
}

// Merge returns the concatenation of cloud followed by other. An optional attribute survives
// only when both inputs carry it.
func (cloud *PointCloud) Merge(other *PointCloud) *PointCloud {
	out := &PointCloud{Points: make([]r3.Vector, 0, cloud.Size()+other.Size())}
	out.Points = append(append(out.Points, cloud.Points...), other.Points...)
	if cloud.HasNormals() && other.HasNormals() {
		out.Normals = make([]r3.Vector, 0, len(out.Points))
		out.Normals = append(append(out.Normals, cloud.Normals...), other.Normals...)
	}
	if cloud.HasColor() && other.HasColor() {
		out.Colors = make([]color.NRGBA, 0, len(out.Points))
		out.Colors = append(append(out.Colors, cloud.Colors...), other.Colors...)
	}
	return out
}

// WithNormals returns a shallow copy of the cloud carrying the given normals.
func (cloud *PointCloud) WithNormals(normals []r3.Vector) (*PointCloud, error) {
	if len(normals) != len(cloud.Points) {
		return nil, errors.Wrapf(ErrInvalidInput, "got %d normals for %d points", len(normals), len(cloud.Points))
	}
	return &PointCloud{Points: cloud.Points, Normals: normals, Colors: cloud.Colors}, nil
}

// Validate checks that the cloud has at least minPoints points, that every coordinate is finite,
// and that optional attributes have one entry per point.
func (cloud *PointCloud) Validate(minPoints int) error {
	if cloud == nil {
		return errors.Wrap(ErrInvalidInput, "nil point cloud")
	}
	if len(cloud.Points) < minPoints {
		return errors.Wrapf(ErrInvalidInput, "point cloud has %d points, need at least %d", len(cloud.Points), minPoints)
	}
	if cloud.Normals != nil && len(cloud.Normals) != len(cloud.Points) {
		return errors.Wrapf(ErrInvalidInput, "point cloud has %d normals for %d points", len(cloud.Normals), len(cloud.Points))
	}
	if cloud.Colors != nil && len(cloud.Colors) != len(cloud.Points) {
		return errors.Wrapf(ErrInvalidInput, "point cloud has %d colors for %d points", len(cloud.Colors), len(cloud.Points))
	}
	for i, p := range cloud.Points {
		if !isFinite(p) {
			return errors.Wrapf(ErrInvalidInput, "point %d is not finite: %v", i, p)
		}
	}
	return nil
}

func isFinite(v r3.Vector) bool {
	return utils.IsFinite(v.X) && utils.IsFinite(v.Y) && utils.IsFinite(v.Z)
}
