package multialign

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/multialign/registration"
	"go.viam.com/multialign/spatialmath"
	"go.viam.com/multialign/utils"
)

// Status is the outcome for one cloud.
type Status int

// Cloud outcomes.
const (
	StatusReference Status = iota
	StatusAligned
	StatusNotConverged
	StatusLowConfidence
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusReference:
		return "reference"
	case StatusAligned:
		return "aligned"
	case StatusNotConverged:
		return "not_converged"
	case StatusLowConfidence:
		return "low_confidence"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func statusOf(res *registration.Result, err error) Status {
	switch {
	case err != nil || res == nil:
		return StatusFailed
	case res.LowConfidence:
		return StatusLowConfidence
	case !res.Converged:
		return StatusNotConverged
	default:
		return StatusAligned
	}
}

// CloudResult is the outcome of aligning one cloud onto the reference.
type CloudResult struct {
	Index     int
	Status    Status
	Transform spatialmath.RigidTransform
	// Result is nil for the reference and for failed clouds.
	Result *registration.Result
	Err    error
}

// Report collects the outcome of an Align run.
type Report struct {
	RunID uuid.UUID
	// Transforms maps each input cloud into the reference frame, in input order.
	Transforms []spatialmath.RigidTransform
	Clouds     []CloudResult
	Duration   time.Duration
}

func newReport(runID uuid.UUID, n int) *Report {
	r := &Report{
		RunID:      runID,
		Transforms: make([]spatialmath.RigidTransform, n),
		Clouds:     make([]CloudResult, n),
	}
	for i := range r.Clouds {
		r.Transforms[i] = spatialmath.Identity()
		r.Clouds[i] = CloudResult{Index: i, Status: StatusFailed, Transform: spatialmath.Identity()}
	}
	r.Clouds[0].Status = StatusReference
	return r
}

// set records the outcome for cloud i. Distinct indices may be set concurrently.
func (r *Report) set(i int, res *registration.Result, err error) {
	status := statusOf(res, err)
	if status == StatusFailed {
		res = nil
		if err == nil {
			err = errors.New("registration produced no result")
		}
	}
	t := transformOf(res, err)
	r.Transforms[i] = t
	r.Clouds[i] = CloudResult{Index: i, Status: status, Transform: t, Result: res, Err: err}
}

// Failed returns the indices of clouds that could not be aligned.
func (r *Report) Failed() []int {
	return lo.FilterMap(r.Clouds, func(c CloudResult, _ int) (int, bool) {
		return c.Index, c.Status == StatusFailed
	})
}

// CountByStatus tallies clouds per status.
func (r *Report) CountByStatus() map[Status]int {
	return lo.CountValuesBy(r.Clouds, func(c CloudResult) Status {
		return c.Status
	})
}

// Err combines the errors of every failed cloud, or returns nil if none failed.
func (r *Report) Err() error {
	return multierr.Combine(lo.FilterMap(r.Clouds, func(c CloudResult, _ int) (error, bool) {
		if c.Err == nil {
			return nil, false
		}
		return errors.Wrapf(c.Err, "cloud %d", c.Index), true
	})...)
}

// String renders a table with one row per cloud.
func (r *Report) String() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Status", "Fitness", "RMSE", "Iterations", "Translation", "Rotation", "Error"})
	for _, c := range r.Clouds {
		tra := c.Transform.Translation()
		row := table.Row{
			fmt.Sprintf("%d", c.Index),
			c.Status.String(),
			"", "", "",
			fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", tra.X, tra.Y, tra.Z),
			fmt.Sprintf("%.2f deg", utils.RadToDeg(c.Transform.RotationAngle())),
			"",
		}
		if c.Result != nil {
			row[2] = fmt.Sprintf("%.3f", c.Result.Fitness)
			row[3] = fmt.Sprintf("%.4f", c.Result.RMSE)
			row[4] = fmt.Sprintf("%d", c.Result.Iterations)
		}
		if c.Err != nil {
			row[7] = c.Err.Error()
		}
		t.AppendRow(row)
	}
	return t.Render()
}
