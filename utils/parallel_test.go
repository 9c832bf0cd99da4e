package utils

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.viam.com/test"
	gutils "go.viam.com/utils"
)

func TestRunInParallel(t *testing.T) {
	wait100ms := func(ctx context.Context) error {
		gutils.SelectContextOrWait(ctx, 100*time.Millisecond)
		return ctx.Err()
	}

	elapsed, err := RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, elapsed, test.ShouldBeLessThan, 150*time.Millisecond)
	test.That(t, elapsed, test.ShouldBeGreaterThan, 90*time.Millisecond)

	errFunc := func(ctx context.Context) error {
		return errors.New("bad")
	}

	elapsed, err = RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms, errFunc})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, elapsed, test.ShouldBeLessThan, 50*time.Millisecond)

	panicFunc := func(ctx context.Context) error {
		panic(1)
	}

	_, err = RunInParallel(context.Background(), []SimpleFunc{panicFunc})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGroupWorkParallelCoversEveryIndex(t *testing.T) {
	for _, n := range []int{0, 1, 3, ParallelFactor, ParallelFactor + 1, 1000} {
		seen := make([]int32, n)
		err := GroupWorkParallel(context.Background(), n, nil, func(_, _, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return func(_, workNum int) {
				atomic.AddInt32(&seen[workNum], 1)
			}, nil
		})
		test.That(t, err, test.ShouldBeNil)
		for i := range seen {
			test.That(t, seen[i], test.ShouldEqual, int32(1))
		}
	}
}

func TestForEachParallel(t *testing.T) {
	out := make([]int, 257)
	err := ForEachParallel(context.Background(), len(out), func(i int) {
		out[i] = i * i
	})
	test.That(t, err, test.ShouldBeNil)
	for i, v := range out {
		test.That(t, v, test.ShouldEqual, i*i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = ForEachParallel(ctx, 10, func(int) {})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestGroupWorkParallelStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	total := 100 * groupCancelCheck * ParallelFactor
	var ran, done int32
	err := GroupWorkParallel(ctx, total, nil, func(_, _, _, _ int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return func(_, _ int) {
				atomic.AddInt32(&ran, 1)
				cancel()
			}, func() {
				atomic.AddInt32(&done, 1)
			}
	})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, int(atomic.LoadInt32(&ran)), test.ShouldBeLessThanOrEqualTo, groupCancelCheck*ParallelFactor)
	test.That(t, atomic.LoadInt32(&done), test.ShouldEqual, int32(ParallelFactor))
}
