package registration

import (
	"context"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/multialign/pointcloud"
	"go.viam.com/multialign/utils"
)

// Correspondence pairs a source point index with a target point index.
type Correspondence struct {
	Source int
	Target int
}

// descriptorIndex is a KD-tree over the valid descriptors of a cloud, with the mapping back to
// point indices.
type descriptorIndex struct {
	tree    *pointcloud.KDTreeN
	pointID []int
}

func newDescriptorIndex(f *Features) (*descriptorIndex, error) {
	var rows [][]float64
	var ids []int
	for i, ok := range f.Valid {
		if ok {
			rows = append(rows, f.Data[i])
			ids = append(ids, i)
		}
	}
	if len(rows) == 0 {
		return nil, errors.Wrap(ErrInsufficientCorrespondences, "no valid descriptors")
	}
	tree, err := pointcloud.NewKDTreeN(rows)
	if err != nil {
		return nil, err
	}
	return &descriptorIndex{tree: tree, pointID: ids}, nil
}

func (di *descriptorIndex) nearest(desc []float64) int {
	nb := di.tree.Nearest(desc)
	if nb.Index < 0 {
		return -1
	}
	return di.pointID[nb.Index]
}

// MatchFeatures pairs each valid source descriptor with its nearest valid target descriptor and
// keeps only reciprocal pairs, where the source point is also the target's nearest neighbor.
// Results are ordered by source index. Ties resolve to the lowest index.
func MatchFeatures(ctx context.Context, source, target *Features) ([]Correspondence, error) {
	if source.Size() == 0 || target.Size() == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "cannot match empty feature sets")
	}
	if source.Bins != target.Bins {
		return nil, errors.Wrapf(ErrInvalidInput, "descriptor bins differ: %d and %d", source.Bins, target.Bins)
	}
	srcIndex, err := newDescriptorIndex(source)
	if err != nil {
		return nil, errors.Wrap(err, "source")
	}
	tgtIndex, err := newDescriptorIndex(target)
	if err != nil {
		return nil, errors.Wrap(err, "target")
	}

	forward := make([]int, source.Size())
	err = utils.ForEachParallel(ctx, source.Size(), func(i int) {
		forward[i] = -1
		if !source.Valid[i] {
			return
		}
		j := tgtIndex.nearest(source.Data[i])
		if j >= 0 && srcIndex.nearest(target.Data[j]) == i {
			forward[i] = j
		}
	})
	if err != nil {
		return nil, err
	}

	var corr []Correspondence
	for i, j := range forward {
		if j >= 0 {
			corr = append(corr, Correspondence{Source: i, Target: j})
		}
	}
	return corr, nil
}

// tupleTest samples triples of correspondences and keeps those whose three edge lengths agree
// between source and target within scale. Accepted triples are appended as they are found, so a
// correspondence may appear more than once.
func tupleTest(corr []Correspondence, source, target []r3.Vector, scale float64, maxTuples int, seed int64) []Correspondence {
	ncorr := len(corr)
	if ncorr < MinCorrespondences {
		return nil
	}
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec
	var out []Correspondence
	tuples := 0
	for trial := 0; trial < 100*ncorr && tuples < maxTuples; trial++ {
		c := [3]Correspondence{corr[rng.Intn(ncorr)], corr[rng.Intn(ncorr)], corr[rng.Intn(ncorr)]}
		ok := true
		for k := 0; k < 3 && ok; k++ {
			a, b := c[k], c[(k+1)%3]
			li := source[a.Source].Sub(source[b.Source]).Norm()
			lj := target[a.Target].Sub(target[b.Target]).Norm()
			ok = li*scale < lj && lj < li/scale
		}
		if ok {
			out = append(out, c[:]...)
			tuples++
		}
	}
	return out
}
