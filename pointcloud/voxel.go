package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/multialign/utils"
)

/* A voxel represents a value on a regular grid in three-dimensional space. As with pixels in
a 2D bitmap, voxels do not store their position; a point belongs to the voxel whose integer
coordinates are floor(p / voxelSize) on every axis.
More information:
- https://en.wikipedia.org/wiki/Voxel
*/

// VoxelCoords stores Voxel coordinates in VoxelGrid axes.
type VoxelCoords struct {
	I, J, K int64
}

// GetVoxelCoordinates computes the voxel coordinates of a point for a grid anchored at the origin.
func GetVoxelCoordinates(pt r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor(pt.X / voxelSize)),
		J: int64(math.Floor(pt.Y / voxelSize)),
		K: int64(math.Floor(pt.Z / voxelSize)),
	}
}

// Voxel accumulates the points that fall into one grid cell.
type Voxel struct {
	Key     VoxelCoords
	Members []int // indices into the source cloud, in input order

	sum       r3.Vector
	normalSum r3.Vector
	colors    colorSum
}

// Center returns the centroid of the voxel's points.
func (v *Voxel) Center() r3.Vector {
	return v.sum.Mul(1 / float64(len(v.Members)))
}

// VoxelGrid is a sparse grid of occupied voxels that remembers the order in which voxels were
// first occupied.
type VoxelGrid struct {
	VoxelSize float64
	Voxels    map[VoxelCoords]*Voxel
	order     []VoxelCoords
}

// NewVoxelGridFromPointCloud assigns every point of the cloud to its voxel.
func NewVoxelGridFromPointCloud(cloud *PointCloud, voxelSize float64) (*VoxelGrid, error) {
	if !(voxelSize > 0) || !utils.IsFinite(voxelSize) {
		return nil, errors.Wrapf(ErrInvalidInput, "voxel size must be positive, got %v", voxelSize)
	}
	if err := cloud.Validate(0); err != nil {
		return nil, err
	}
	vg := &VoxelGrid{VoxelSize: voxelSize, Voxels: map[VoxelCoords]*Voxel{}}
	hasNormals, hasColor := cloud.HasNormals(), cloud.HasColor()
	for i, p := range cloud.Points {
		key := GetVoxelCoordinates(p, voxelSize)
		vox, ok := vg.Voxels[key]
		if !ok {
			vox = &Voxel{Key: key}
			vg.Voxels[key] = vox
			vg.order = append(vg.order, key)
		}
		vox.Members = append(vox.Members, i)
		vox.sum = vox.sum.Add(p)
		if hasNormals {
			vox.normalSum = vox.normalSum.Add(cloud.Normals[i])
		}
		if hasColor {
			vox.colors.add(cloud.Colors[i])
		}
	}
	return vg, nil
}

// Size returns the number of occupied voxels.
func (vg *VoxelGrid) Size() int {
	return len(vg.order)
}

// Keys returns the occupied voxel coordinates in first-occupied order.
func (vg *VoxelGrid) Keys() []VoxelCoords {
	return append([]VoxelCoords(nil), vg.order...)
}

// GetVoxelFromKey returns the voxel at coords, or nil if it is empty.
func (vg *VoxelGrid) GetVoxelFromKey(coords VoxelCoords) *Voxel {
	return vg.Voxels[coords]
}

// ToPointCloud emits one point per occupied voxel at the centroid of its members. Colors are
// averaged, normals summed and renormalized (an all-undefined or cancelling sum stays zero).
func (vg *VoxelGrid) ToPointCloud(withNormals, withColor bool) *PointCloud {
	out := NewWithPrealloc(len(vg.order))
	if withNormals {
		out.Normals = make([]r3.Vector, 0, len(vg.order))
	}
	if withColor {
		out.Colors = make([]color.NRGBA, 0, len(vg.order))
	}
	for _, key := range vg.order {
		vox := vg.Voxels[key]
		out.Points = append(out.Points, vox.Center())
		if withNormals {
			n := vox.normalSum
			if norm := n.Norm(); norm > 1e-12 {
				n = n.Mul(1 / norm)
			} else {
				n = r3.Vector{}
			}
			out.Normals = append(out.Normals, n)
		}
		if withColor {
			out.Colors = append(out.Colors, vox.colors.mean())
		}
	}
	return out
}

// Downsample replaces the points in each occupied voxel of edge voxelSize by their centroid.
// Output order follows the order in which voxels were first encountered in the input.
func Downsample(cloud *PointCloud, voxelSize float64) (*PointCloud, error) {
	vg, err := NewVoxelGridFromPointCloud(cloud, voxelSize)
	if err != nil {
		return nil, err
	}
	return vg.ToPointCloud(cloud.HasNormals(), cloud.HasColor()), nil
}
