// Package multialign registers a sequence of point clouds into the frame of the first one.
package multialign

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/multialign/logging"
	"go.viam.com/multialign/pointcloud"
	"go.viam.com/multialign/registration"
	"go.viam.com/multialign/spatialmath"
	"go.viam.com/multialign/utils"
)

// ErrBusy is returned when Align is called while another run is in progress.
var ErrBusy = errors.New("orchestrator is already running")

// State is the phase of an orchestrator run.
type State int

// The phases of a run, in order.
const (
	StateIdle State = iota
	StatePreparing
	StateRegistering
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateRegistering:
		return "registering"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Progress is a snapshot of an orchestrator's state. Cloud is the index of the cloud most
// recently started while Registering.
type Progress struct {
	State State
	Cloud int
}

// Options control how clouds are chained to the reference.
type Options struct {
	// ExtendReference merges each aligned cloud into the reference before the next one is
	// registered. Clouds are then processed strictly in order.
	ExtendReference bool `json:"extend_reference"`
	// Parallelism bounds concurrent pairwise registrations when not extending. Zero means
	// one per available CPU.
	Parallelism int `json:"parallelism"`
}

// Orchestrator aligns every cloud of a batch onto the first one.
type Orchestrator struct {
	registrar *registration.Registrar
	opts      Options
	logger    logging.Logger

	mu       sync.Mutex
	running  bool
	progress Progress
}

// NewOrchestrator returns an orchestrator using a Registrar built from cfg.
func NewOrchestrator(cfg registration.Config, opts Options, logger logging.Logger) (*Orchestrator, error) {
	if opts.Parallelism < 0 {
		return nil, errors.Wrap(registration.ErrInvalidInput, utils.NewOutOfRangeError("parallelism", opts.Parallelism, ">= 0").Error())
	}
	if logger == nil {
		logger = logging.NewBlankLogger("multialign")
	}
	registrar, err := registration.NewRegistrar(cfg, logger.Sublogger("registration"))
	if err != nil {
		return nil, err
	}
	return &Orchestrator{registrar: registrar, opts: opts, logger: logger}, nil
}

// State returns the current phase and cloud.
func (o *Orchestrator) State() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

func (o *Orchestrator) setState(state State, cloud int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = Progress{State: state, Cloud: cloud}
}

// Align registers clouds[1:] onto clouds[0]. The returned report always has one transform per
// input cloud, with the identity for the reference and for every cloud that failed.
//
// The only batch level error is invalid input, detected before any registration starts: an
// empty batch, or a cloud with fewer than three points. Failures of individual clouds are
// recorded in the report. If ctx is cancelled the partial report is returned with ctx's error.
func (o *Orchestrator) Align(ctx context.Context, clouds []*pointcloud.PointCloud) (*Report, error) {
	if err := validateBatch(clouds); err != nil {
		return nil, err
	}
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.running = true
	o.progress = Progress{State: StatePreparing}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	start := time.Now()
	report := newReport(uuid.New(), len(clouds))
	logger := o.logger
	logger.Infow("aligning clouds",
		"run_id", report.RunID, "clouds", len(clouds), "extend_reference", o.opts.ExtendReference)

	reference, err := o.registrar.Prepare(ctx, clouds[0])
	if err != nil {
		err = errors.Wrap(err, "preparing reference")
		for i := 1; i < len(clouds); i++ {
			report.set(i, nil, err)
		}
	} else if o.opts.ExtendReference {
		o.alignSequential(ctx, clouds, reference, report)
	} else {
		o.alignParallel(ctx, clouds, reference, report)
	}

	report.Duration = time.Since(start)
	o.setState(StateDone, len(clouds)-1)
	logger.Infow("alignment finished",
		"run_id", report.RunID, "took", report.Duration, "failed", len(report.Failed()))
	return report, ctx.Err()
}

func validateBatch(clouds []*pointcloud.PointCloud) error {
	if len(clouds) == 0 {
		return errors.Wrap(registration.ErrInvalidInput, "no clouds to align")
	}
	for i, cloud := range clouds {
		if err := cloud.Validate(registration.MinCorrespondences); err != nil {
			return errors.Wrapf(err, "cloud %d", i)
		}
	}
	return nil
}

func (o *Orchestrator) parallelism() int {
	if o.opts.Parallelism > 0 {
		return o.opts.Parallelism
	}
	return utils.ParallelFactor
}

// alignParallel registers every cloud against the fixed reference. Results land in their input
// slot so order does not depend on scheduling.
func (o *Orchestrator) alignParallel(
	ctx context.Context,
	clouds []*pointcloud.PointCloud,
	reference *registration.Prepared,
	report *Report,
) {
	var group errgroup.Group
	group.SetLimit(o.parallelism())
	for i := 1; i < len(clouds); i++ {
		i := i
		group.Go(func() error {
			o.setState(StateRegistering, i)
			res, err := o.alignOne(ctx, clouds[i], reference)
			report.set(i, res, err)
			o.logCloud(report, i)
			return nil
		})
	}
	// per-cloud errors are kept in the report so one failure never cancels its siblings
	_ = group.Wait()
}

// accumulator is the growing reference of a sequential run.
type accumulator struct {
	cloud    *pointcloud.PointCloud
	prepared *registration.Prepared
}

// extend returns the accumulator with the aligned cloud merged in, reduced to one point per
// voxel so the reference does not grow without bound.
func (o *Orchestrator) extend(ctx context.Context, acc accumulator, aligned *pointcloud.PointCloud) (accumulator, error) {
	merged, err := pointcloud.Downsample(acc.cloud.Merge(aligned), o.registrar.Config().VoxelSize)
	if err != nil {
		return acc, err
	}
	prepared, err := o.registrar.Prepare(ctx, merged)
	if err != nil {
		return acc, err
	}
	return accumulator{cloud: merged, prepared: prepared}, nil
}

// alignSequential registers clouds in order, each against the reference extended by every
// cloud aligned before it. Clouds that fail or have low confidence do not extend it.
func (o *Orchestrator) alignSequential(
	ctx context.Context,
	clouds []*pointcloud.PointCloud,
	reference *registration.Prepared,
	report *Report,
) {
	acc := accumulator{cloud: reference.Cloud, prepared: reference}
	for i := 1; i < len(clouds); i++ {
		o.setState(StateRegistering, i)
		res, err := o.alignOne(ctx, clouds[i], acc.prepared)
		report.set(i, res, err)
		o.logCloud(report, i)

		status := report.Clouds[i].Status
		if status != StatusAligned && status != StatusNotConverged {
			continue
		}
		next, err := o.extend(ctx, acc, clouds[i].Transform(res.Transform))
		if err != nil {
			o.logger.Warnw("could not extend reference", "run_id", report.RunID, "cloud", i, "error", err)
			continue
		}
		acc = next
	}
}

func (o *Orchestrator) alignOne(ctx context.Context, cloud *pointcloud.PointCloud, reference *registration.Prepared) (*registration.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	source, err := o.registrar.Prepare(ctx, cloud)
	if err != nil {
		return nil, errors.Wrap(err, "preparing cloud")
	}
	return o.registrar.RegisterPrepared(ctx, source, reference)
}

func (o *Orchestrator) logCloud(report *Report, i int) {
	cr := report.Clouds[i]
	if cr.Err != nil {
		o.logger.Warnw("cloud failed to align", "run_id", report.RunID, "cloud", i, "error", cr.Err)
		return
	}
	o.logger.Infow("cloud aligned",
		"run_id", report.RunID,
		"cloud", i,
		"status", cr.Status,
		"fitness", cr.Result.Fitness,
		"rmse", cr.Result.RMSE)
}

// transformOf returns the transform to report for a registration outcome.
func transformOf(res *registration.Result, err error) spatialmath.RigidTransform {
	if err != nil || res == nil {
		return spatialmath.Identity()
	}
	return res.Transform
}
