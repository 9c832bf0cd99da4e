package registration

import (
	"strconv"

	"github.com/pkg/errors"

	"go.viam.com/multialign/utils"
)

// Config holds every tunable of the pairwise pipeline. Distances are expressed as multiples of
// VoxelSize so a single scale parameter adapts the whole pipeline to a dataset.
type Config struct {
	VoxelSize float64 `json:"voxel_size"`

	NormalRadiusMultiplier float64 `json:"normal_radius_multiplier"`
	NormalMaxNeighbors     int     `json:"normal_max_neighbors"`

	FeatureRadiusMultiplier float64 `json:"feature_radius_multiplier"`
	FeatureMaxNeighbors     int     `json:"feature_max_neighbors"`
	FeatureBins             int     `json:"feature_bins"`

	// GlobalRegistration runs descriptor based global alignment before ICP. When false, ICP
	// starts from the identity, which suits clouds that are already roughly aligned.
	GlobalRegistration                bool    `json:"global_registration"`
	GlobalMaxCorrespondenceMultiplier float64 `json:"global_max_correspondence_multiplier"`
	MaxGlobalIterations               int     `json:"max_global_iterations"`
	GlobalDivisionFactor              float64 `json:"global_division_factor"`
	TupleScale                        float64 `json:"tuple_scale"`
	MaxTuples                         int     `json:"max_tuples"`
	UseTupleTest                      bool    `json:"use_tuple_test"`

	ICPMaxCorrespondenceMultiplier float64 `json:"icp_max_correspondence_multiplier"`
	MaxICPIterations               int     `json:"max_icp_iterations"`
	ICPConvergenceTolerance        float64 `json:"icp_convergence_tolerance"`
	ICPMaxNormalAngleDeg           float64 `json:"icp_max_normal_angle_deg"`

	MinFitness      float64 `json:"min_fitness"`
	MinConditioning float64 `json:"min_conditioning"`
	Seed            int64   `json:"seed"`
}

// DefaultConfig returns the standard parameters for the given voxel size.
func DefaultConfig(voxelSize float64) Config {
	return Config{
		VoxelSize:                         voxelSize,
		NormalRadiusMultiplier:            2,
		NormalMaxNeighbors:                30,
		FeatureRadiusMultiplier:           5,
		FeatureMaxNeighbors:               100,
		FeatureBins:                       11,
		GlobalRegistration:                true,
		GlobalMaxCorrespondenceMultiplier: 5,
		MaxGlobalIterations:               64,
		GlobalDivisionFactor:              1.4,
		TupleScale:                        0.95,
		MaxTuples:                         1000,
		UseTupleTest:                      true,
		ICPMaxCorrespondenceMultiplier:    1.5,
		MaxICPIterations:                  30,
		ICPConvergenceTolerance:           1e-6,
		ICPMaxNormalAngleDeg:              0,
		MinFitness:                        0.25,
		MinConditioning:                   1e-6,
		Seed:                              42,
	}
}

func positive(name string, v float64) error {
	if !(v > 0) || !utils.IsFinite(v) {
		return errors.Wrap(ErrInvalidInput, utils.NewOutOfRangeError(name, v, "> 0").Error())
	}
	return nil
}

func atLeast(name string, v, lo int) error {
	if v < lo {
		return errors.Wrap(ErrInvalidInput, utils.NewOutOfRangeError(name, v, ">= "+strconv.Itoa(lo)).Error())
	}
	return nil
}

// Validate reports the first invalid field, wrapping ErrInvalidInput.
func (c Config) Validate() error {
	for _, check := range []error{
		positive("voxel_size", c.VoxelSize),
		positive("normal_radius_multiplier", c.NormalRadiusMultiplier),
		atLeast("normal_max_neighbors", c.NormalMaxNeighbors, 3),
		positive("feature_radius_multiplier", c.FeatureRadiusMultiplier),
		atLeast("feature_max_neighbors", c.FeatureMaxNeighbors, 2),
		atLeast("feature_bins", c.FeatureBins, 1),
		positive("global_max_correspondence_multiplier", c.GlobalMaxCorrespondenceMultiplier),
		atLeast("max_global_iterations", c.MaxGlobalIterations, 1),
		positive("icp_max_correspondence_multiplier", c.ICPMaxCorrespondenceMultiplier),
		atLeast("max_icp_iterations", c.MaxICPIterations, 1),
		atLeast("max_tuples", c.MaxTuples, 1),
	} {
		if check != nil {
			return check
		}
	}
	if !(c.GlobalDivisionFactor > 1) {
		return errors.Wrap(ErrInvalidInput, utils.NewOutOfRangeError("global_division_factor", c.GlobalDivisionFactor, "> 1").Error())
	}
	if !(c.TupleScale > 0 && c.TupleScale < 1) {
		return errors.Wrap(ErrInvalidInput, utils.NewOutOfRangeError("tuple_scale", c.TupleScale, "in (0, 1)").Error())
	}
	if !(c.ICPConvergenceTolerance >= 0) {
		return errors.Wrap(ErrInvalidInput, utils.NewOutOfRangeError("icp_convergence_tolerance", c.ICPConvergenceTolerance, ">= 0").Error())
	}
	if !(c.ICPMaxNormalAngleDeg >= 0 && c.ICPMaxNormalAngleDeg <= 90) {
		return errors.Wrap(ErrInvalidInput, utils.NewOutOfRangeError("icp_max_normal_angle_deg", c.ICPMaxNormalAngleDeg, "in [0, 90]").Error())
	}
	if !(c.MinFitness >= 0 && c.MinFitness <= 1) {
		return errors.Wrap(ErrInvalidInput, utils.NewOutOfRangeError("min_fitness", c.MinFitness, "in [0, 1]").Error())
	}
	if !(c.MinConditioning >= 0 && c.MinConditioning < 1) {
		return errors.Wrap(ErrInvalidInput, utils.NewOutOfRangeError("min_conditioning", c.MinConditioning, "in [0, 1)").Error())
	}
	return nil
}

// NormalRadius is the neighborhood radius for normal estimation.
func (c Config) NormalRadius() float64 {
	return c.NormalRadiusMultiplier * c.VoxelSize
}

// FeatureRadius is the neighborhood radius for descriptors.
func (c Config) FeatureRadius() float64 {
	return c.FeatureRadiusMultiplier * c.VoxelSize
}

// GlobalOptions derives the global alignment parameters.
func (c Config) GlobalOptions() GlobalOptions {
	return GlobalOptions{
		MaxCorrespondenceDistance: c.GlobalMaxCorrespondenceMultiplier * c.VoxelSize,
		MaxIterations:             c.MaxGlobalIterations,
		DivisionFactor:            c.GlobalDivisionFactor,
		TupleScale:                c.TupleScale,
		MaxTuples:                 c.MaxTuples,
		UseTupleTest:              c.UseTupleTest,
		Seed:                      c.Seed,
	}
}

// ICPOptions derives the local refinement parameters.
func (c Config) ICPOptions() ICPOptions {
	return ICPOptions{
		MaxCorrespondenceDistance: c.ICPMaxCorrespondenceMultiplier * c.VoxelSize,
		MaxIterations:             c.MaxICPIterations,
		Tolerance:                 c.ICPConvergenceTolerance,
		MaxNormalAngle:            utils.DegToRad(c.ICPMaxNormalAngleDeg),
	}
}
