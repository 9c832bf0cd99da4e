package registration

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/multialign/logging"
	"go.viam.com/multialign/pointcloud"
	"go.viam.com/multialign/spatialmath"
	"go.viam.com/multialign/utils"
)

// Prepared is a cloud with everything registration needs computed once: full resolution normals
// and index for refinement, and the downsampled cloud with its descriptors for global alignment.
// Features is nil when global registration is disabled.
type Prepared struct {
	Cloud    *pointcloud.PointCloud
	Tree     *pointcloud.KDTree
	Down     *pointcloud.PointCloud
	Features *Features
}

// Registrar aligns pairs of clouds with global registration followed by ICP. It holds no state
// between calls and is safe for concurrent use.
type Registrar struct {
	cfg    Config
	logger logging.Logger
}

// NewRegistrar validates cfg and returns a Registrar using it. A nil logger discards output.
func NewRegistrar(cfg Config, logger logging.Logger) (*Registrar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewBlankLogger("registration")
	}
	return &Registrar{cfg: cfg, logger: logger}, nil
}

// Config returns the registrar's configuration.
func (r *Registrar) Config() Config {
	return r.cfg
}

// Prepare validates a cloud and computes its normals, downsampled copy and descriptors.
func (r *Registrar) Prepare(ctx context.Context, cloud *pointcloud.PointCloud) (*Prepared, error) {
	if err := cloud.Validate(MinCorrespondences); err != nil {
		return nil, err
	}
	tree, err := pointcloud.NewKDTree(cloud.Points)
	if err != nil {
		return nil, err
	}
	// supplied normals may be unnormalized or NaN for undefined
	full := pointcloud.NormalizeNormals(cloud)
	if !cloud.HasNormals() {
		full, err = pointcloud.EstimateNormalsWithTree(ctx, cloud, tree, r.cfg.NormalRadius(), r.cfg.NormalMaxNeighbors)
		if err != nil {
			return nil, errors.Wrap(err, "estimating normals")
		}
	}

	stripped := &pointcloud.PointCloud{Points: cloud.Points, Colors: cloud.Colors}
	down, err := pointcloud.Downsample(stripped, r.cfg.VoxelSize)
	if err != nil {
		return nil, err
	}
	if down.Size() < MinCorrespondences {
		return nil, errors.Wrapf(ErrInvalidInput, "cloud occupies %d voxels of size %v, need at least %d",
			down.Size(), r.cfg.VoxelSize, MinCorrespondences)
	}
	prepared := &Prepared{Cloud: full, Tree: tree, Down: down}
	if !r.cfg.GlobalRegistration {
		r.logger.Debugw("prepared cloud", "points", cloud.Size(), "downsampled", down.Size())
		return prepared, nil
	}
	downTree, err := pointcloud.NewKDTree(down.Points)
	if err != nil {
		return nil, err
	}
	prepared.Down, err = pointcloud.EstimateNormalsWithTree(ctx, down, downTree, r.cfg.NormalRadius(), r.cfg.NormalMaxNeighbors)
	if err != nil {
		return nil, errors.Wrap(err, "estimating downsampled normals")
	}
	prepared.Features, err = ComputeFPFHWithTree(ctx, prepared.Down, downTree, r.cfg.FeatureRadius(), r.cfg.FeatureMaxNeighbors, r.cfg.FeatureBins)
	if err != nil {
		return nil, errors.Wrap(err, "computing descriptors")
	}
	r.logger.Debugw("prepared cloud",
		"points", cloud.Size(), "downsampled", prepared.Down.Size(), "valid_descriptors", prepared.Features.NumValid())
	return prepared, nil
}

// RegisterPrepared estimates the transform mapping source onto target. Results with fitness or
// conditioning below the configured minimum are flagged LowConfidence rather than rejected.
func (r *Registrar) RegisterPrepared(ctx context.Context, source, target *Prepared) (*Result, error) {
	start := time.Now()
	initial := spatialmath.Identity()
	if r.cfg.GlobalRegistration {
		global, err := AlignGlobal(ctx, source.Down, target.Down, source.Features, target.Features, r.cfg.GlobalOptions())
		if err != nil {
			return nil, errors.Wrap(err, "global alignment")
		}
		r.logger.Debugw("global alignment",
			"fitness", global.Fitness, "rmse", global.RMSE, "correspondences", global.Correspondences)
		initial = global.Transform
	}

	local, err := RefineLocalWithTree(ctx, source.Cloud, target.Cloud, target.Tree, initial, r.cfg.ICPOptions())
	if err != nil {
		return nil, errors.Wrap(err, "local refinement")
	}
	local.LowConfidence = local.Fitness < r.cfg.MinFitness || local.Conditioning < r.cfg.MinConditioning
	r.logger.Debugw("local refinement",
		"fitness", local.Fitness,
		"rmse", local.RMSE,
		"median_residual", local.MedianResidual,
		"iterations", local.Iterations,
		"converged", local.Converged,
		"conditioning", local.Conditioning,
		"took", time.Since(start))
	if local.LowConfidence {
		r.logger.Warnw("registration has low confidence",
			"fitness", local.Fitness,
			"min_fitness", r.cfg.MinFitness,
			"conditioning", local.Conditioning,
			"min_conditioning", r.cfg.MinConditioning)
	}
	return local, nil
}

// Register prepares both clouds concurrently and aligns source onto target.
func (r *Registrar) Register(ctx context.Context, source, target *pointcloud.PointCloud) (*Result, error) {
	var src, tgt *Prepared
	if _, err := utils.RunInParallel(ctx, []utils.SimpleFunc{
		func(ctx context.Context) error {
			var err error
			src, err = r.Prepare(ctx, source)
			return errors.Wrap(err, "source")
		},
		func(ctx context.Context) error {
			var err error
			tgt, err = r.Prepare(ctx, target)
			return errors.Wrap(err, "target")
		},
	}); err != nil {
		return nil, err
	}
	return r.RegisterPrepared(ctx, src, tgt)
}
