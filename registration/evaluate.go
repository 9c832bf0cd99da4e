package registration

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/multialign/pointcloud"
	"go.viam.com/multialign/spatialmath"
	"go.viam.com/multialign/utils"
)

// EvaluateRegistration scores a transform: every transformed source point whose nearest target
// point lies within maxDistance is an inlier. Fitness is the inlier fraction of the source cloud
// and RMSE the root mean square inlier distance.
func EvaluateRegistration(
	ctx context.Context,
	source *pointcloud.PointCloud,
	target *pointcloud.KDTree,
	transform spatialmath.RigidTransform,
	maxDistance float64,
) (*Result, error) {
	if source.Size() == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "cannot evaluate an empty source cloud")
	}
	if !(maxDistance > 0) {
		return nil, errors.Wrapf(ErrInvalidInput, "correspondence distance must be positive, got %v", maxDistance)
	}
	dists := make([]float64, source.Size())
	err := utils.ForEachParallel(ctx, source.Size(), func(i int) {
		dists[i] = -1
		nbs := target.HybridSearch(transform.Apply(source.Points[i]), maxDistance, 1)
		if len(nbs) > 0 {
			dists[i] = math.Sqrt(nbs[0].Dist2)
		}
	})
	if err != nil {
		return nil, err
	}
	inliers := make([]float64, 0, len(dists))
	for _, d := range dists {
		if d >= 0 {
			inliers = append(inliers, d)
		}
	}
	rmse, median := residualStats(inliers)
	return &Result{
		Transform:       transform,
		Fitness:         float64(len(inliers)) / float64(len(dists)),
		RMSE:            rmse,
		MedianResidual:  median,
		Correspondences: len(inliers),
	}, nil
}
