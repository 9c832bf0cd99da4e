package pointcloud

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/multialign/utils"
)

// MinNormalNeighbors is the smallest neighborhood (the point itself included) that defines a normal.
const MinNormalNeighbors = 3

// orientEps is the magnitude below which a normal component does not decide orientation.
const orientEps = 1e-6

// EstimateNormals returns a copy of the cloud with a unit normal per point, fitted to the at most
// maxNN neighbors within radius. Points with fewer than MinNormalNeighbors neighbors, or whose
// neighborhood has no spread, get the zero (undefined) normal.
func EstimateNormals(ctx context.Context, cloud *PointCloud, radius float64, maxNN int) (*PointCloud, error) {
	if !(radius > 0) {
		return nil, errors.Wrapf(ErrInvalidInput, "normal radius must be positive, got %v", radius)
	}
	if maxNN < MinNormalNeighbors {
		return nil, errors.Wrapf(ErrInvalidInput, "normal neighbor count must be at least %d, got %d", MinNormalNeighbors, maxNN)
	}
	if err := cloud.Validate(1); err != nil {
		return nil, err
	}
	tree, err := NewKDTree(cloud.Points)
	if err != nil {
		return nil, err
	}
	return EstimateNormalsWithTree(ctx, cloud, tree, radius, maxNN)
}

// EstimateNormalsWithTree is EstimateNormals with a prebuilt index over cloud.Points.
func EstimateNormalsWithTree(ctx context.Context, cloud *PointCloud, tree *KDTree, radius float64, maxNN int) (*PointCloud, error) {
	normals := make([]r3.Vector, cloud.Size())
	err := utils.ForEachParallel(ctx, cloud.Size(), func(i int) {
		neighbors := tree.HybridSearch(cloud.Points[i], radius, maxNN)
		if len(neighbors) < MinNormalNeighbors {
			return
		}
		pts := make([]r3.Vector, len(neighbors))
		for j, nb := range neighbors {
			pts[j] = cloud.Points[nb.Index]
		}
		normals[i] = estimatePlaneNormalFromPoints(pts)
	})
	if err != nil {
		return nil, err
	}
	return cloud.WithNormals(normals)
}

// estimatePlaneNormalFromPoints returns the canonically oriented eigenvector of the smallest
// eigenvalue of the points' covariance, or the zero vector when the points have no spread.
func estimatePlaneNormalFromPoints(points []r3.Vector) r3.Vector {
	center := centroid(points)
	var xx, xy, xz, yy, yz, zz float64
	for _, p := range points {
		d := p.Sub(center)
		xx += d.X * d.X
		xy += d.X * d.Y
		xz += d.X * d.Z
		yy += d.Y * d.Y
		yz += d.Y * d.Z
		zz += d.Z * d.Z
	}
	n := float64(len(points))
	cov := mat.NewSymDense(3, []float64{
		xx / n, xy / n, xz / n,
		xy / n, yy / n, yz / n,
		xz / n, yz / n, zz / n,
	})

	var es mat.EigenSym
	if !es.Factorize(cov, true) {
		return r3.Vector{}
	}
	values := es.Values(nil)
	if values[len(values)-1] <= 1e-18 {
		return r3.Vector{}
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	normal := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	norm := normal.Norm()
	if norm == 0 || !utils.IsFinite(norm) {
		return r3.Vector{}
	}
	return OrientNormal(normal.Mul(1 / norm))
}

// OrientNormal flips n so that its first non-negligible component, checked in the order Z, Y, X,
// is positive. The zero vector is returned unchanged.
func OrientNormal(n r3.Vector) r3.Vector {
	for _, c := range []float64{n.Z, n.Y, n.X} {
		if math.Abs(c) > orientEps {
			if c < 0 {
				return n.Mul(-1)
			}
			return n
		}
	}
	return n
}

// NormalizeNormals returns cloud with every normal scaled to unit length. Normals that are not
// finite or have zero length become the zero vector, which marks them undefined. A cloud
// without normals is returned as is.
func NormalizeNormals(cloud *PointCloud) *PointCloud {
	if !cloud.HasNormals() {
		return cloud
	}
	normals := make([]r3.Vector, len(cloud.Normals))
	for i, n := range cloud.Normals {
		norm := n.Norm()
		if !isFinite(n) || !utils.IsFinite(norm) || norm == 0 {
			continue
		}
		normals[i] = n.Mul(1 / norm)
	}
	return &PointCloud{Points: cloud.Points, Normals: normals, Colors: cloud.Colors}
}
