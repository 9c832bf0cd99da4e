// Package registration aligns pairs of point clouds: FPFH descriptors, reciprocal descriptor
// matching, fast global registration and point-to-plane ICP, combined by a Registrar.
package registration

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/multialign/pointcloud"
	"go.viam.com/multialign/utils"
)

// DefaultFeatureBins is the number of histogram bins per pair feature.
const DefaultFeatureBins = 11

// Features holds one descriptor per point of a cloud. Each descriptor has 3*Bins values:
// the angle, phi and theta histograms in that order.
type Features struct {
	Bins  int
	Data  [][]float64
	Valid []bool
}

// Size returns the number of descriptors.
func (f *Features) Size() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// Dim returns the length of a descriptor.
func (f *Features) Dim() int {
	return 3 * f.Bins
}

// NumValid counts the descriptors usable as correspondence endpoints.
func (f *Features) NumValid() int {
	count := 0
	for _, ok := range f.Valid {
		if ok {
			count++
		}
	}
	return count
}

// ComputeFPFH computes Fast Point Feature Histograms for a cloud with normals, using at most maxNN
// neighbors within radius of each point. Points with an undefined normal, or without a single
// usable neighbor, get a zero descriptor marked invalid.
func ComputeFPFH(ctx context.Context, cloud *pointcloud.PointCloud, radius float64, maxNN, bins int) (*Features, error) {
	if err := cloud.Validate(1); err != nil {
		return nil, err
	}
	tree, err := pointcloud.NewKDTree(cloud.Points)
	if err != nil {
		return nil, err
	}
	return ComputeFPFHWithTree(ctx, cloud, tree, radius, maxNN, bins)
}

// ComputeFPFHWithTree is ComputeFPFH with a prebuilt index over cloud.Points.
func ComputeFPFHWithTree(
	ctx context.Context,
	cloud *pointcloud.PointCloud,
	tree *pointcloud.KDTree,
	radius float64,
	maxNN, bins int,
) (*Features, error) {
	switch {
	case !(radius > 0):
		return nil, errors.Wrapf(ErrInvalidInput, "feature radius must be positive, got %v", radius)
	case maxNN < 2:
		return nil, errors.Wrapf(ErrInvalidInput, "feature neighbor count must be at least 2, got %d", maxNN)
	case bins < 1:
		return nil, errors.Wrapf(ErrInvalidInput, "feature bins must be positive, got %d", bins)
	case !cloud.HasNormals():
		return nil, errors.Wrap(ErrInvalidInput, "descriptors require normals")
	}

	n := cloud.Size()
	neighbors := make([][]pointcloud.Neighbor, n)
	spfh := make([][]float64, n)
	valid := make([]bool, n)
	err := utils.ForEachParallel(ctx, n, func(i int) {
		neighbors[i] = tree.HybridSearch(cloud.Points[i], radius, maxNN)
		spfh[i], valid[i] = computeSPFH(cloud, i, neighbors[i], bins)
	})
	if err != nil {
		return nil, err
	}

	feats := &Features{Bins: bins, Data: make([][]float64, n), Valid: valid}
	err = utils.ForEachParallel(ctx, n, func(i int) {
		desc := make([]float64, 3*bins)
		feats.Data[i] = desc
		if !valid[i] {
			return
		}
		for _, nb := range neighbors[i] {
			if nb.Index == i || nb.Dist2 == 0 {
				continue
			}
			floats.AddScaled(desc, 1/nb.Dist2, spfh[nb.Index])
		}
		for b := 0; b < 3; b++ {
			block := desc[b*bins : (b+1)*bins]
			if sum := floats.Sum(block); sum != 0 {
				floats.Scale(100/sum, block)
			}
		}
		floats.Add(desc, spfh[i])
	})
	if err != nil {
		return nil, err
	}
	return feats, nil
}

// computeSPFH builds the simplified histogram of point i against its neighbors.
func computeSPFH(cloud *pointcloud.PointCloud, i int, neighbors []pointcloud.Neighbor, bins int) ([]float64, bool) {
	hist := make([]float64, 3*bins)
	n1 := cloud.Normals[i]
	if n1 == (r3.Vector{}) || len(neighbors) < 2 {
		return hist, false
	}
	incr := 100 / float64(len(neighbors)-1)
	pairs := 0
	for _, nb := range neighbors {
		if nb.Index == i {
			continue
		}
		n2 := cloud.Normals[nb.Index]
		if n2 == (r3.Vector{}) {
			continue
		}
		f, ok := pairFeatures(cloud.Points[i], n1, cloud.Points[nb.Index], n2)
		if !ok {
			continue
		}
		hist[featureBin(f[0], -math.Pi, math.Pi, bins)] += incr
		hist[bins+featureBin(f[1], -1, 1, bins)] += incr
		hist[2*bins+featureBin(f[2], -1, 1, bins)] += incr
		pairs++
	}
	return hist, pairs > 0
}

// pairFeatures computes the Darboux-frame angles between two oriented points. The point whose
// normal is closer to the connecting line is taken as the frame origin, so the result does not
// depend on argument order. It reports false for coincident points or a degenerate frame.
func pairFeatures(p1, n1, p2, n2 r3.Vector) ([3]float64, bool) {
	dp := p2.Sub(p1)
	dist := dp.Norm()
	if dist == 0 {
		return [3]float64{}, false
	}
	angle1 := n1.Dot(dp) / dist
	angle2 := n2.Dot(dp) / dist
	var f2 float64
	if math.Acos(math.Abs(angle1)) > math.Acos(math.Abs(angle2)) {
		n1, n2 = n2, n1
		dp = dp.Mul(-1)
		f2 = -angle2
	} else {
		f2 = angle1
	}

	v := dp.Cross(n1)
	vNorm := v.Norm()
	if vNorm == 0 {
		return [3]float64{}, false
	}
	v = v.Mul(1 / vNorm)
	w := n1.Cross(v)
	return [3]float64{
		math.Atan2(w.Dot(n2), n1.Dot(n2)),
		v.Dot(n2),
		f2,
	}, true
}

func featureBin(value, lo, hi float64, bins int) int {
	idx := int(math.Floor(float64(bins) * (value - lo) / (hi - lo)))
	return utils.ClampInt(idx, 0, bins-1)
}
