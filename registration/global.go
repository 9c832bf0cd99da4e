package registration

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/multialign/pointcloud"
	"go.viam.com/multialign/spatialmath"
	"go.viam.com/multialign/utils"
)

// GlobalOptions parameterizes AlignGlobal.
type GlobalOptions struct {
	// MaxCorrespondenceDistance bounds the inlier distance and the final robust kernel width.
	MaxCorrespondenceDistance float64
	MaxIterations             int
	// DivisionFactor shrinks the robust kernel every four iterations.
	DivisionFactor float64
	TupleScale     float64
	MaxTuples      int
	UseTupleTest   bool
	Seed           int64
}

func (opts GlobalOptions) validate() error {
	switch {
	case !(opts.MaxCorrespondenceDistance > 0):
		return errors.Wrapf(ErrInvalidInput, "correspondence distance must be positive, got %v", opts.MaxCorrespondenceDistance)
	case opts.MaxIterations < 1:
		return errors.Wrapf(ErrInvalidInput, "iterations must be positive, got %d", opts.MaxIterations)
	case !(opts.DivisionFactor > 1):
		return errors.Wrapf(ErrInvalidInput, "division factor must exceed 1, got %v", opts.DivisionFactor)
	case opts.UseTupleTest && !(opts.TupleScale > 0 && opts.TupleScale < 1):
		return errors.Wrapf(ErrInvalidInput, "tuple scale must be in (0, 1), got %v", opts.TupleScale)
	case opts.UseTupleTest && opts.MaxTuples < 1:
		return errors.Wrapf(ErrInvalidInput, "max tuples must be positive, got %d", opts.MaxTuples)
	}
	return nil
}

// collinearTolerance is the relative spread below which correspondence points count as collinear.
const (
	collinearTolerance = 1e-9
	// globalStepTolerance is the final update size, relative to the extent of the matched points,
	// below which the global optimization counts as converged.
	globalStepTolerance = 1e-6
)

// AlignGlobal estimates the transform mapping source onto target from descriptor correspondences
// alone, with no initial pose. It runs fast global registration: reciprocal matching, the tuple
// consistency test, then Gauss-Newton iterations under a Geman-McClure kernel that is narrowed
// as the solution settles.
func AlignGlobal(
	ctx context.Context,
	source, target *pointcloud.PointCloud,
	sourceFeat, targetFeat *Features,
	opts GlobalOptions,
) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := source.Validate(MinCorrespondences); err != nil {
		return nil, errors.Wrap(err, "source")
	}
	if err := target.Validate(MinCorrespondences); err != nil {
		return nil, errors.Wrap(err, "target")
	}
	if sourceFeat.Size() != source.Size() || targetFeat.Size() != target.Size() {
		return nil, errors.Wrapf(ErrInvalidInput, "feature counts %d/%d do not match cloud sizes %d/%d",
			sourceFeat.Size(), targetFeat.Size(), source.Size(), target.Size())
	}

	corr, err := MatchFeatures(ctx, sourceFeat, targetFeat)
	if err != nil {
		return nil, err
	}
	if opts.UseTupleTest {
		if tuples := tupleTest(corr, source.Points, target.Points, opts.TupleScale, opts.MaxTuples, opts.Seed); len(tuples) >= MinCorrespondences {
			corr = tuples
		}
	}
	if len(corr) < MinCorrespondences {
		return nil, errors.Wrapf(ErrInsufficientCorrespondences, "%d descriptor matches", len(corr))
	}

	src := make([]r3.Vector, len(corr))
	tgt := make([]r3.Vector, len(corr))
	for i, c := range corr {
		src[i] = source.Points[c.Source]
		tgt[i] = target.Points[c.Target]
	}
	if collinear(src) || collinear(tgt) {
		return nil, errors.Wrap(ErrInsufficientCorrespondences, "matched points are collinear")
	}

	srcMean, tgtMean := mean(src), mean(tgt)
	scale := 0.0
	for i := range src {
		src[i] = src[i].Sub(srcMean)
		tgt[i] = tgt[i].Sub(tgtMean)
		scale = math.Max(scale, math.Max(src[i].Norm(), tgt[i].Norm()))
	}

	t, iterations, step, err := optimizePairwise(ctx, src, tgt, scale*scale, opts)
	if err != nil {
		return nil, err
	}
	final := spatialmath.NewTranslation(tgtMean).Compose(t).Compose(spatialmath.NewTranslation(srcMean.Mul(-1))).Orthonormalized()

	maxDist2 := opts.MaxCorrespondenceDistance * opts.MaxCorrespondenceDistance
	inliers := 0
	for _, c := range corr {
		if final.Apply(source.Points[c.Source]).Sub(target.Points[c.Target]).Norm2() < maxDist2 {
			inliers++
		}
	}
	if inliers < MinCorrespondences {
		return nil, errors.Wrapf(ErrInsufficientCorrespondences, "%d of %d correspondences agree with the global estimate", inliers, len(corr))
	}

	tree, err := pointcloud.NewKDTree(target.Points)
	if err != nil {
		return nil, err
	}
	eval, err := EvaluateRegistration(ctx, source, tree, final, opts.MaxCorrespondenceDistance)
	if err != nil {
		return nil, err
	}
	eval.Correspondences = len(corr)
	eval.Iterations = iterations
	eval.Converged = step < globalStepTolerance*scale
	return eval, nil
}

// optimizePairwise minimizes the Geman-McClure cost of the residuals src[i]' - tgt[i] over rigid
// motions. src is updated in place to the current estimate each iteration. The returned step is
// the largest displacement the last update applied to a point within sqrt(mu) of the origin.
func optimizePairwise(
	ctx context.Context,
	src, tgt []r3.Vector,
	mu float64,
	opts GlobalOptions,
) (spatialmath.RigidTransform, int, float64, error) {
	t := spatialmath.Identity()
	maxDist2 := opts.MaxCorrespondenceDistance * opts.MaxCorrespondenceDistance
	lever := math.Sqrt(mu)
	step := math.Inf(1)
	iter := 0
	for ; iter < opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return t, iter, step, err
		}
		if iter%4 == 0 && mu > maxDist2 {
			mu /= opts.DivisionFactor
		}

		var sys normalSystem
		for i, p := range src {
			r := p.Sub(tgt[i])
			w := mu / (r.Norm2() + mu)
			w *= w
			sys.add([6]float64{0, p.Z, -p.Y, 1, 0, 0}, r.X, w)
			sys.add([6]float64{-p.Z, 0, p.X, 0, 1, 0}, r.Y, w)
			sys.add([6]float64{p.Y, -p.X, 0, 0, 0, 1}, r.Z, w)
		}
		omega, v, err := sys.solve()
		if err != nil {
			return t, iter, step, err
		}
		step = omega.Norm()*lever + v.Norm()
		delta := spatialmath.FromRotationVector(omega, v)
		t = delta.Compose(t)
		for i := range src {
			src[i] = delta.Apply(src[i])
		}
	}
	return t, iter, step, nil
}

// normalSystem accumulates the weighted normal equations JᵀJ ξ = -Jᵀr of a 6-DoF linearized
// least squares problem, with ξ = (ω, v).
type normalSystem struct {
	ata   [36]float64
	atb   [6]float64
	count int
}

func (s *normalSystem) add(j [6]float64, r, weight float64) {
	for a := 0; a < 6; a++ {
		wa := weight * j[a]
		for b := a; b < 6; b++ {
			s.ata[6*a+b] += wa * j[b]
		}
		s.atb[a] += wa * r
	}
	s.count++
}

func (s *normalSystem) merge(other *normalSystem) {
	for i := range s.ata {
		s.ata[i] += other.ata[i]
	}
	for i := range s.atb {
		s.atb[i] += other.atb[i]
	}
	s.count += other.count
}

func (s *normalSystem) symmetric() (*mat.SymDense, float64) {
	sym := mat.NewSymDense(6, nil)
	trace := 0.0
	for a := 0; a < 6; a++ {
		trace += s.ata[6*a+a]
		for b := a; b < 6; b++ {
			sym.SetSym(a, b, s.ata[6*a+b])
		}
	}
	return sym, trace
}

// conditioning returns the ratio of the smallest to the largest eigenvalue of JᵀJ, or zero
// for an empty or indefinite system.
func (s *normalSystem) conditioning() float64 {
	sym, _ := s.symmetric()
	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		return 0
	}
	vals := eig.Values(nil)
	largest := vals[len(vals)-1]
	if !(largest > 0) {
		return 0
	}
	return math.Max(vals[0], 0) / largest
}

// solve returns the rotation vector and translation minimizing the accumulated system. A small
// diagonal damping term keeps rank deficient systems, like a flat surface, solvable.
func (s *normalSystem) solve() (r3.Vector, r3.Vector, error) {
	sym, trace := s.symmetric()
	damping := 1e-9*trace/6 + 1e-15
	for a := 0; a < 6; a++ {
		sym.SetSym(a, a, sym.At(a, a)+damping)
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(ErrInsufficientCorrespondences, "normal equations are singular")
	}
	rhs := mat.NewVecDense(6, nil)
	for a := 0; a < 6; a++ {
		rhs.SetVec(a, -s.atb[a])
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, rhs); err != nil {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(ErrInsufficientCorrespondences, err.Error())
	}
	for a := 0; a < 6; a++ {
		if !utils.IsFinite(x.AtVec(a)) {
			return r3.Vector{}, r3.Vector{}, errors.Wrap(ErrInsufficientCorrespondences, "normal equations have no finite solution")
		}
	}
	return r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)},
		r3.Vector{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)}, nil
}

func mean(points []r3.Vector) r3.Vector {
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}

// collinear reports whether all points lie on one line, relative to their extent.
func collinear(points []r3.Vector) bool {
	if len(points) < 3 {
		return true
	}
	origin := points[0]
	far, farDist := origin, 0.0
	for _, p := range points {
		if d := p.Sub(origin).Norm(); d > farDist {
			far, farDist = p, d
		}
	}
	if farDist == 0 {
		return true
	}
	axis := far.Sub(origin).Mul(1 / farDist)
	for _, p := range points {
		if p.Sub(origin).Cross(axis).Norm() > collinearTolerance*farDist {
			return false
		}
	}
	return true
}
