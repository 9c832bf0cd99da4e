package registration

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"go.viam.com/multialign/pointcloud"
)

func lineFeatures(valid []bool, xs ...float64) *Features {
	f := &Features{Bins: 1, Valid: valid}
	for _, x := range xs {
		f.Data = append(f.Data, []float64{x, 0, 0})
	}
	if f.Valid == nil {
		f.Valid = make([]bool, len(xs))
		for i := range f.Valid {
			f.Valid[i] = true
		}
	}
	return f
}

func TestMatchFeaturesReciprocal(t *testing.T) {
	ctx := context.Background()
	source := lineFeatures(nil, 0, 10, 10.6)
	target := lineFeatures(nil, 10.5, 0.1)

	// 1 is closest to target 0, but target 0 prefers 2
	corr, err := MatchFeatures(ctx, source, target)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff([]Correspondence{{Source: 0, Target: 1}, {Source: 2, Target: 0}}, corr), test.ShouldBeEmpty)

	// without 2, the pair becomes mutual
	source.Valid[2] = false
	corr, err = MatchFeatures(ctx, source, target)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff([]Correspondence{{Source: 0, Target: 1}, {Source: 1, Target: 0}}, corr), test.ShouldBeEmpty)
}

func TestMatchFeaturesIdenticalSets(t *testing.T) {
	_, feats := describe(t, downsampledField(t))
	corr, err := MatchFeatures(context.Background(), feats, feats)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(corr), test.ShouldBeGreaterThan, 0)
	for _, c := range corr {
		test.That(t, c.Source, test.ShouldEqual, c.Target)
		test.That(t, feats.Valid[c.Source], test.ShouldBeTrue)
	}
}

func TestMatchFeaturesErrors(t *testing.T) {
	ctx := context.Background()
	_, err := MatchFeatures(ctx, &Features{Bins: 1}, lineFeatures(nil, 1))
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)

	_, err = MatchFeatures(ctx, lineFeatures([]bool{false, false}, 1, 2), lineFeatures(nil, 1))
	test.That(t, errors.Is(err, ErrInsufficientCorrespondences), test.ShouldBeTrue)

	other := lineFeatures(nil, 1)
	other.Bins = 2
	other.Data[0] = make([]float64, 6)
	_, err = MatchFeatures(ctx, lineFeatures(nil, 1), other)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
}

func TestTupleTest(t *testing.T) {
	pc := pointcloud.MakeHeightFieldCloud(10, 0.1)
	corr := make([]Correspondence, pc.Size())
	for i := range corr {
		corr[i] = Correspondence{Source: i, Target: i}
	}

	tuples := tupleTest(corr, pc.Points, pc.Points, 0.95, 50, 42)
	test.That(t, len(tuples), test.ShouldEqual, 150)
	for _, c := range tuples {
		test.That(t, c.Source, test.ShouldEqual, c.Target)
	}
	again := tupleTest(corr, pc.Points, pc.Points, 0.95, 50, 42)
	test.That(t, cmp.Diff(tuples, again), test.ShouldBeEmpty)

	// doubling every distance breaks every tuple
	scaled := make([]r3.Vector, pc.Size())
	for i, p := range pc.Points {
		scaled[i] = p.Mul(2)
	}
	test.That(t, tupleTest(corr, pc.Points, scaled, 0.95, 50, 42), test.ShouldBeEmpty)
	test.That(t, tupleTest(corr[:2], pc.Points, pc.Points, 0.95, 50, 42), test.ShouldBeEmpty)
}
