package registration

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/multialign/logging"
	"go.viam.com/multialign/pointcloud"
	"go.viam.com/multialign/spatialmath"
)

func newTestRegistrar(t *testing.T) *Registrar {
	t.Helper()
	r, err := NewRegistrar(DefaultConfig(0.05), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return r
}

func TestNewRegistrarInvalidConfig(t *testing.T) {
	_, err := NewRegistrar(DefaultConfig(0), logging.NewTestLogger(t))
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
}

func TestPrepare(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistrar(t)
	pc := pointcloud.MakeTestPointCloud()
	prepared, err := r.Prepare(ctx, pc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, prepared.Cloud.Size(), test.ShouldEqual, pc.Size())
	test.That(t, prepared.Cloud.HasNormals(), test.ShouldBeTrue)
	test.That(t, pc.HasNormals(), test.ShouldBeFalse)
	test.That(t, prepared.Tree.Size(), test.ShouldEqual, pc.Size())
	test.That(t, prepared.Down.Size(), test.ShouldBeLessThan, pc.Size())
	test.That(t, prepared.Down.HasNormals(), test.ShouldBeTrue)
	test.That(t, prepared.Features.Size(), test.ShouldEqual, prepared.Down.Size())
	test.That(t, prepared.Features.NumValid(), test.ShouldBeGreaterThan, 0)

	_, err = r.Prepare(ctx, pointcloud.New([]r3.Vector{{}, {X: 1}}))
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)

	// three points inside one voxel
	_, err = r.Prepare(ctx, pointcloud.New([]r3.Vector{{X: 0.01}, {X: 0.02}, {X: 0.01, Y: 0.01}}))
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)

	_, err = r.Prepare(ctx, pointcloud.New([]r3.Vector{{X: 1}, {X: 1}, {X: 1}}))
	test.That(t, errors.Is(err, ErrIndexConstruction), test.ShouldBeTrue)
}

func TestRegisterPrepareFailure(t *testing.T) {
	r := newTestRegistrar(t)
	bad := pointcloud.New([]r3.Vector{{X: 1}, {X: 1}, {X: 1}})
	_, err := r.Register(context.Background(), bad, pointcloud.MakeTestPointCloud())
	test.That(t, errors.Is(err, ErrIndexConstruction), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "source")

	_, err = r.Register(context.Background(), pointcloud.MakeTestPointCloud(), bad)
	test.That(t, errors.Is(err, ErrIndexConstruction), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "target")
}

func TestRegisterIdenticalClouds(t *testing.T) {
	r := newTestRegistrar(t)
	pc := pointcloud.MakeTestPointCloud()
	res, err := r.Register(context.Background(), pc, pc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Transform.AlmostEqual(spatialmath.Identity(), 1e-6), test.ShouldBeTrue)
	test.That(t, res.Fitness, test.ShouldAlmostEqual, 1)
	test.That(t, res.LowConfidence, test.ShouldBeFalse)
}

func TestRegisterRecoversTranslation(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistrar(t)
	reference := pointcloud.MakeTestPointCloud()
	target, err := r.Prepare(ctx, reference)
	test.That(t, err, test.ShouldBeNil)

	for _, shift := range []r3.Vector{{X: 0.1}, {Y: 0.1}} {
		source, err := r.Prepare(ctx, reference.Transform(spatialmath.NewTranslation(shift)))
		test.That(t, err, test.ShouldBeNil)
		res, err := r.RegisterPrepared(ctx, source, target)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Transform.Translation().Sub(shift.Mul(-1)).Norm(), test.ShouldBeLessThan, 0.01)
		test.That(t, res.Transform.RotationAngle(), test.ShouldBeLessThan, 0.01)
		test.That(t, spatialmath.IsRigid(res.Transform.Matrix(), spatialmath.RigidTolerance), test.ShouldBeTrue)
		test.That(t, res.Fitness, test.ShouldBeGreaterThan, 0.8)
		test.That(t, res.Conditioning, test.ShouldBeGreaterThan, DefaultConfig(0.05).MinConditioning)
		test.That(t, res.LowConfidence, test.ShouldBeFalse)
	}
}

func TestRegisterSuppliedNormals(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistrar(t)
	pc, err := pointcloud.EstimateNormals(ctx, pointcloud.MakeTestPointCloud(), 0.05, 30)
	test.That(t, err, test.ShouldBeNil)
	normals := append([]r3.Vector(nil), pc.Normals...)
	normals[500] = r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
	normals[600] = normals[600].Mul(7)
	pc, err = pc.WithNormals(normals)
	test.That(t, err, test.ShouldBeNil)

	prepared, err := r.Prepare(ctx, pc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, prepared.Cloud.Normals[500], test.ShouldResemble, r3.Vector{})
	test.That(t, prepared.Cloud.Normals[600].Norm(), test.ShouldAlmostEqual, 1)

	res, err := r.Register(ctx, pc, pc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Transform.AlmostEqual(spatialmath.Identity(), 1e-6), test.ShouldBeTrue)
	test.That(t, res.Fitness, test.ShouldBeGreaterThan, 0.99)
	test.That(t, res.LowConfidence, test.ShouldBeFalse)
}

func TestRegisterWithoutGlobal(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig(0.05)
	cfg.GlobalRegistration = false
	r, err := NewRegistrar(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	reference := pointcloud.MakeTestPointCloud()
	target, err := r.Prepare(ctx, reference)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, target.Features, test.ShouldBeNil)

	shift := r3.Vector{X: 0.01, Y: -0.005}
	source, err := r.Prepare(ctx, reference.Transform(spatialmath.NewTranslation(shift)))
	test.That(t, err, test.ShouldBeNil)
	res, err := r.RegisterPrepared(ctx, source, target)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Transform.Translation().Sub(shift.Mul(-1)).Norm(), test.ShouldBeLessThan, 0.005)
	test.That(t, res.LowConfidence, test.ShouldBeFalse)
}

func TestRegisterFlatPlane(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	r, err := NewRegistrar(DefaultConfig(0.05), logger)
	test.That(t, err, test.ShouldBeNil)

	plane := pointcloud.MakePlaneCloud(100, 0.01)
	shifted := plane.Transform(spatialmath.NewTranslation(r3.Vector{X: 0.1}))
	res, err := r.Register(context.Background(), shifted, plane)
	if err != nil {
		return
	}
	test.That(t, res.Conditioning, test.ShouldBeLessThan, 1e-9)
	test.That(t, res.LowConfidence, test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("registration has low confidence").Len(), test.ShouldEqual, 1)
}

func TestRegisterNoOverlap(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	r, err := NewRegistrar(DefaultConfig(0.05), logger)
	test.That(t, err, test.ShouldBeNil)

	sphere := pointcloud.MakeSphereCloud(8000, 0.5, r3.Vector{X: 5, Y: 5, Z: 5})
	res, err := r.Register(context.Background(), sphere, pointcloud.MakeTestPointCloud())
	if err != nil {
		test.That(t, errors.Is(err, ErrInsufficientCorrespondences), test.ShouldBeTrue)
		return
	}
	test.That(t, res.LowConfidence, test.ShouldBeTrue)
	test.That(t, res.Fitness, test.ShouldBeLessThan, 0.25)
	test.That(t, logs.FilterMessage("registration has low confidence").Len(), test.ShouldEqual, 1)
}
