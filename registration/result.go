package registration

import (
	"math"

	"github.com/montanaflynn/stats"

	"go.viam.com/multialign/spatialmath"
)

// Result describes the outcome of a registration stage.
type Result struct {
	Transform spatialmath.RigidTransform
	// Fitness is the fraction of source points (or correspondences, for the global stage)
	// that have an inlier match under Transform.
	Fitness float64
	// RMSE is the root mean square point-to-point distance over inliers.
	RMSE float64
	// MedianResidual is the median inlier distance.
	MedianResidual  float64
	Correspondences int
	Iterations      int
	Converged       bool
	// Conditioning is the ratio of the smallest to the largest eigenvalue of the point-to-plane
	// constraint system at Transform, with rotations measured about the source centroid in
	// units of the source spread. Near zero means some motion, like sliding along a plane, is
	// unobservable. Only local refinement sets it.
	Conditioning float64
	// LowConfidence is set by the Registrar when Fitness or Conditioning is below its
	// configured minimum.
	LowConfidence bool
}

// residualStats returns the root mean square and the median of residual distances.
// An empty set gives zeros.
func residualStats(residuals []float64) (float64, float64) {
	if len(residuals) == 0 {
		return 0, 0
	}
	squares := make([]float64, len(residuals))
	for i, r := range residuals {
		squares[i] = r * r
	}
	meanSq, err := stats.Mean(squares)
	if err != nil {
		return 0, 0
	}
	median, err := stats.Median(residuals)
	if err != nil {
		median = 0
	}
	return math.Sqrt(meanSq), median
}
