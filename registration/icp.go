package registration

import (
	"context"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/multialign/pointcloud"
	"go.viam.com/multialign/spatialmath"
	"go.viam.com/multialign/utils"
)

// ICPOptions parameterizes RefineLocal.
type ICPOptions struct {
	MaxCorrespondenceDistance float64
	MaxIterations             int
	// Tolerance stops iterating once the update's rotation (radians) plus translation magnitude
	// falls below it.
	Tolerance float64
	// MaxNormalAngle, in radians, rejects pairs whose normals disagree by more than this angle,
	// ignoring normal sign. Zero disables the check.
	MaxNormalAngle float64
}

func (opts ICPOptions) validate() error {
	switch {
	case !(opts.MaxCorrespondenceDistance > 0):
		return errors.Wrapf(ErrInvalidInput, "correspondence distance must be positive, got %v", opts.MaxCorrespondenceDistance)
	case opts.MaxIterations < 1:
		return errors.Wrapf(ErrInvalidInput, "iterations must be positive, got %d", opts.MaxIterations)
	case !(opts.Tolerance >= 0):
		return errors.Wrapf(ErrInvalidInput, "tolerance must not be negative, got %v", opts.Tolerance)
	case !(opts.MaxNormalAngle >= 0 && opts.MaxNormalAngle <= math.Pi/2):
		return errors.Wrapf(ErrInvalidInput, "normal angle must be in [0, pi/2], got %v", opts.MaxNormalAngle)
	}
	return nil
}

// RefineLocal runs point-to-plane ICP from init, minimizing the squared distances from
// transformed source points to the tangent planes of their nearest target points. The target
// must have normals. Reaching MaxIterations is not an error; the result reports Converged=false.
func RefineLocal(
	ctx context.Context,
	source, target *pointcloud.PointCloud,
	init spatialmath.RigidTransform,
	opts ICPOptions,
) (*Result, error) {
	if err := target.Validate(MinCorrespondences); err != nil {
		return nil, errors.Wrap(err, "target")
	}
	tree, err := pointcloud.NewKDTree(target.Points)
	if err != nil {
		return nil, err
	}
	return RefineLocalWithTree(ctx, source, target, tree, init, opts)
}

// RefineLocalWithTree is RefineLocal with a prebuilt index over target.Points.
func RefineLocalWithTree(
	ctx context.Context,
	source, target *pointcloud.PointCloud,
	tree *pointcloud.KDTree,
	init spatialmath.RigidTransform,
	opts ICPOptions,
) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := source.Validate(MinCorrespondences); err != nil {
		return nil, errors.Wrap(err, "source")
	}
	if !target.HasNormals() {
		return nil, errors.Wrap(ErrInvalidInput, "point-to-plane refinement requires target normals")
	}

	current := init
	converged := false
	iterations := 0
	for iterations < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sys, err := pointToPlaneSystem(ctx, source, target, tree, current, opts, r3.Vector{}, 1)
		if err != nil {
			return nil, err
		}
		if sys.count < MinCorrespondences {
			return nil, errors.Wrapf(ErrInsufficientCorrespondences,
				"%d correspondences within %v at iteration %d", sys.count, opts.MaxCorrespondenceDistance, iterations)
		}
		omega, v, err := sys.solve()
		if err != nil {
			return nil, err
		}
		current = spatialmath.FromRotationVector(omega, v).Compose(current).Orthonormalized()
		iterations++
		if omega.Norm()+v.Norm() < opts.Tolerance {
			converged = true
			break
		}
	}

	res, err := EvaluateRegistration(ctx, source, tree, current, opts.MaxCorrespondenceDistance)
	if err != nil {
		return nil, err
	}
	if res.Correspondences < MinCorrespondences {
		return nil, errors.Wrapf(ErrInsufficientCorrespondences, "%d inliers after refinement", res.Correspondences)
	}
	res.Iterations = iterations
	res.Converged = converged
	res.Conditioning, err = constraintConditioning(ctx, source, target, tree, current, opts)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// constraintConditioning rebuilds the point-to-plane system at t about the centroid of the
// moved source, scaled by its RMS spread, and returns its eigenvalue ratio.
func constraintConditioning(
	ctx context.Context,
	source, target *pointcloud.PointCloud,
	tree *pointcloud.KDTree,
	t spatialmath.RigidTransform,
	opts ICPOptions,
) (float64, error) {
	moved := make([]r3.Vector, source.Size())
	for i, p := range source.Points {
		moved[i] = t.Apply(p)
	}
	center := mean(moved)
	spread := 0.0
	for _, p := range moved {
		spread += p.Sub(center).Norm2()
	}
	spread = math.Sqrt(spread / float64(len(moved)))
	if spread == 0 {
		return 0, nil
	}
	sys, err := pointToPlaneSystem(ctx, source, target, tree, t, opts, center, spread)
	if err != nil {
		return 0, err
	}
	return sys.conditioning(), nil
}

// pointToPlaneSystem linearizes the point-to-plane cost around current, with rotations about
// center and lever arms divided by scale. Each worker group accumulates its own system and
// merges it when done.
func pointToPlaneSystem(
	ctx context.Context,
	source, target *pointcloud.PointCloud,
	tree *pointcloud.KDTree,
	current spatialmath.RigidTransform,
	opts ICPOptions,
	center r3.Vector,
	scale float64,
) (*normalSystem, error) {
	checkNormals := opts.MaxNormalAngle > 0 && source.HasNormals()
	minCos := math.Cos(opts.MaxNormalAngle)

	var total normalSystem
	var mu sync.Mutex
	err := utils.GroupWorkParallel(
		ctx,
		source.Size(),
		nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			var local normalSystem
			return func(memberNum, workNum int) {
					p := current.Apply(source.Points[workNum])
					nbs := tree.HybridSearch(p, opts.MaxCorrespondenceDistance, 1)
					if len(nbs) == 0 {
						return
					}
					nt := target.Normals[nbs[0].Index]
					if nt == (r3.Vector{}) {
						return
					}
					if checkNormals {
						ns := current.ApplyNormal(source.Normals[workNum])
						if ns != (r3.Vector{}) && math.Abs(ns.Dot(nt)) < minCos {
							return
						}
					}
					r := p.Sub(target.Points[nbs[0].Index]).Dot(nt)
					c := p.Sub(center).Cross(nt).Mul(1 / scale)
					local.add([6]float64{c.X, c.Y, c.Z, nt.X, nt.Y, nt.Z}, r, 1)
				}, func() {
					mu.Lock()
					defer mu.Unlock()
					total.merge(&local)
				}
		},
	)
	if err != nil {
		return nil, err
	}
	return &total, nil
}
