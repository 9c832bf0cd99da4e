package pointcloud

import (
	"container/heap"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/multialign/utils"
)

// kdLeafSize is the largest number of points kept in a leaf before splitting.
const kdLeafSize = 12

// Neighbor is a search result: the index of a point in the indexed set and its squared
// distance to the query.
type Neighbor struct {
	Index int
	Dist2 float64
}

// neighborLess orders by distance, then index, so results are deterministic.
func neighborLess(a, b Neighbor) bool {
	if a.Dist2 != b.Dist2 {
		return a.Dist2 < b.Dist2
	}
	return a.Index < b.Index
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool { return neighborLess(ns[i], ns[j]) })
}

type kdNode struct {
	start, end  int
	axis        int
	split       float64
	left, right int // -1 for leaves
}

// KDTreeN is a static KD-tree over points of a fixed dimension. It is immutable once built
// and safe for concurrent queries.
type KDTreeN struct {
	dim   int
	data  []float64 // row-major copy, len = n*dim
	idx   []int     // permutation of point indices; each leaf owns a contiguous range
	nodes []kdNode
}

// NewKDTreeN builds a tree over rows of equal, non-zero length. An empty set or non-finite
// values give ErrInvalidInput. More than one row with all rows identical gives ErrIndexConstruction.
func NewKDTreeN(data [][]float64) (*KDTreeN, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "cannot index an empty point set")
	}
	dim := len(data[0])
	if dim == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "cannot index zero-dimensional points")
	}
	flat := make([]float64, len(data)*dim)
	for i, row := range data {
		if len(row) != dim {
			return nil, errors.Wrapf(ErrInvalidInput, "row %d has dimension %d, expected %d", i, len(row), dim)
		}
		for _, v := range row {
			if !utils.IsFinite(v) {
				return nil, errors.Wrapf(ErrInvalidInput, "row %d is not finite", i)
			}
		}
		copy(flat[i*dim:], row)
	}
	return newKDTreeN(dim, flat)
}

func newKDTreeN(dim int, flat []float64) (*KDTreeN, error) {
	n := len(flat) / dim
	t := &KDTreeN{dim: dim, data: flat, idx: make([]int, n)}
	for i := range t.idx {
		t.idx[i] = i
	}
	if n > 1 {
		if _, spread := t.widestAxis(0, n); spread == 0 {
			return nil, errors.Wrapf(ErrIndexConstruction, "all %d points are identical", n)
		}
	}
	t.nodes = make([]kdNode, 0, 2*(n/kdLeafSize+1))
	t.build(0, n)
	return t, nil
}

// Size returns the number of indexed points.
func (t *KDTreeN) Size() int {
	return len(t.idx)
}

// Dim returns the dimension of the indexed points.
func (t *KDTreeN) Dim() int {
	return t.dim
}

func (t *KDTreeN) coord(i, axis int) float64 {
	return t.data[i*t.dim+axis]
}

func (t *KDTreeN) dist2(i int, q []float64) float64 {
	row := t.data[i*t.dim : (i+1)*t.dim]
	var sum float64
	for j, v := range row {
		d := v - q[j]
		sum += d * d
	}
	return sum
}

func (t *KDTreeN) widestAxis(start, end int) (int, float64) {
	bestAxis, bestSpread := 0, -1.0
	for axis := 0; axis < t.dim; axis++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, id := range t.idx[start:end] {
			v := t.coord(id, axis)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi-lo > bestSpread {
			bestAxis, bestSpread = axis, hi-lo
		}
	}
	return bestAxis, bestSpread
}

func (t *KDTreeN) build(start, end int) int {
	nodeIdx := len(t.nodes)
	t.nodes = append(t.nodes, kdNode{start: start, end: end, left: -1, right: -1})
	if end-start <= kdLeafSize {
		return nodeIdx
	}
	axis, spread := t.widestAxis(start, end)
	if spread == 0 {
		return nodeIdx
	}
	mid := (start + end) / 2
	t.selectNth(start, end-1, mid, axis)
	split := t.coord(t.idx[mid], axis)
	left := t.build(start, mid)
	right := t.build(mid, end)

	nd := &t.nodes[nodeIdx]
	nd.axis, nd.split, nd.left, nd.right = axis, split, left, right
	return nodeIdx
}

// selectNth reorders idx[lo..hi] so that idx[k] holds the k-th smallest coordinate along axis,
// with everything before it no larger and everything after it no smaller.
func (t *KDTreeN) selectNth(lo, hi, k, axis int) {
	for lo < hi {
		lt, gt := t.partition3(lo, hi, axis)
		switch {
		case k < lt:
			hi = lt - 1
		case k > gt:
			lo = gt + 1
		default:
			return
		}
	}
}

// partition3 splits idx[lo..hi] into runs below, equal to, and above a median-of-three pivot
// and returns the inclusive bounds of the equal run.
func (t *KDTreeN) partition3(lo, hi, axis int) (int, int) {
	a, b, c := t.coord(t.idx[lo], axis), t.coord(t.idx[(lo+hi)/2], axis), t.coord(t.idx[hi], axis)
	pivot := math.Max(math.Min(a, b), math.Min(math.Max(a, b), c))

	lt, i, gt := lo, lo, hi
	for i <= gt {
		v := t.coord(t.idx[i], axis)
		switch {
		case v < pivot:
			t.idx[lt], t.idx[i] = t.idx[i], t.idx[lt]
			lt++
			i++
		case v > pivot:
			t.idx[i], t.idx[gt] = t.idx[gt], t.idx[i]
			gt--
		default:
			i++
		}
	}
	return lt, gt
}

// neighborHeap is a max-heap under neighborLess so the worst kept candidate sits on top.
type neighborHeap []Neighbor

func (h neighborHeap) Len() int            { return len(h) }
func (h neighborHeap) Less(i, j int) bool  { return neighborLess(h[j], h[i]) }
func (h neighborHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x interface{}) { *h = append(*h, x.(Neighbor)) }
func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// KNearest returns the k points closest to q, nearest first. q must have the tree's dimension.
func (t *KDTreeN) KNearest(q []float64, k int) []Neighbor {
	return t.knn(q, k, math.Inf(1))
}

// HybridSearch returns at most maxNN of the points within radius of q, nearest first.
// The radius is inclusive.
func (t *KDTreeN) HybridSearch(q []float64, radius float64, maxNN int) []Neighbor {
	if radius < 0 {
		return nil
	}
	return t.knn(q, maxNN, radius*radius)
}

// RadiusSearch returns every point within radius of q (inclusive), nearest first.
func (t *KDTreeN) RadiusSearch(q []float64, radius float64) []Neighbor {
	if radius < 0 || len(q) != t.dim || len(t.idx) == 0 {
		return nil
	}
	var out []Neighbor
	t.searchRadius(0, q, radius*radius, &out)
	sortNeighbors(out)
	return out
}

// Nearest returns the closest point to q. The tree is never empty, so a result always exists.
func (t *KDTreeN) Nearest(q []float64) Neighbor {
	ns := t.knn(q, 1, math.Inf(1))
	if len(ns) == 0 {
		return Neighbor{Index: -1, Dist2: math.Inf(1)}
	}
	return ns[0]
}

func (t *KDTreeN) knn(q []float64, k int, maxDist2 float64) []Neighbor {
	if k <= 0 || len(q) != t.dim || len(t.idx) == 0 {
		return nil
	}
	if k > len(t.idx) {
		k = len(t.idx)
	}
	h := make(neighborHeap, 0, k)
	t.searchKNN(0, q, k, maxDist2, &h)
	if len(h) == 0 {
		return nil
	}
	out := []Neighbor(h)
	sortNeighbors(out)
	return out
}

func (t *KDTreeN) searchKNN(n int, q []float64, k int, maxDist2 float64, h *neighborHeap) {
	nd := &t.nodes[n]
	if nd.left < 0 {
		for _, id := range t.idx[nd.start:nd.end] {
			cand := Neighbor{Index: id, Dist2: t.dist2(id, q)}
			if cand.Dist2 > maxDist2 {
				continue
			}
			if h.Len() < k {
				heap.Push(h, cand)
			} else if neighborLess(cand, (*h)[0]) {
				(*h)[0] = cand
				heap.Fix(h, 0)
			}
		}
		return
	}
	diff := q[nd.axis] - nd.split
	near, far := nd.left, nd.right
	if diff > 0 {
		near, far = far, near
	}
	t.searchKNN(near, q, k, maxDist2, h)
	d2 := diff * diff
	if d2 <= maxDist2 && (h.Len() < k || d2 <= (*h)[0].Dist2) {
		t.searchKNN(far, q, k, maxDist2, h)
	}
}

func (t *KDTreeN) searchRadius(n int, q []float64, r2 float64, out *[]Neighbor) {
	nd := &t.nodes[n]
	if nd.left < 0 {
		for _, id := range t.idx[nd.start:nd.end] {
			if d := t.dist2(id, q); d <= r2 {
				*out = append(*out, Neighbor{Index: id, Dist2: d})
			}
		}
		return
	}
	diff := q[nd.axis] - nd.split
	near, far := nd.left, nd.right
	if diff > 0 {
		near, far = far, near
	}
	t.searchRadius(near, q, r2, out)
	if diff*diff <= r2 {
		t.searchRadius(far, q, r2, out)
	}
}

// KDTree is a KD-tree over 3D points.
type KDTree struct {
	tree *KDTreeN
}

// NewKDTree builds a tree over points. Indices in results refer to positions in points.
func NewKDTree(points []r3.Vector) (*KDTree, error) {
	if len(points) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "cannot index an empty point set")
	}
	flat := make([]float64, 3*len(points))
	for i, p := range points {
		if !isFinite(p) {
			return nil, errors.Wrapf(ErrInvalidInput, "point %d is not finite: %v", i, p)
		}
		flat[3*i], flat[3*i+1], flat[3*i+2] = p.X, p.Y, p.Z
	}
	tree, err := newKDTreeN(3, flat)
	if err != nil {
		return nil, err
	}
	return &KDTree{tree: tree}, nil
}

// Size returns the number of indexed points.
func (t *KDTree) Size() int {
	return t.tree.Size()
}

// RadiusSearch returns every point within radius of q (inclusive), nearest first.
func (t *KDTree) RadiusSearch(q r3.Vector, radius float64) []Neighbor {
	return t.tree.RadiusSearch([]float64{q.X, q.Y, q.Z}, radius)
}

// KNearest returns the k points closest to q, nearest first.
func (t *KDTree) KNearest(q r3.Vector, k int) []Neighbor {
	return t.tree.KNearest([]float64{q.X, q.Y, q.Z}, k)
}

// HybridSearch returns at most maxNN of the points within radius of q, nearest first.
func (t *KDTree) HybridSearch(q r3.Vector, radius float64, maxNN int) []Neighbor {
	return t.tree.HybridSearch([]float64{q.X, q.Y, q.Z}, radius, maxNN)
}

// Nearest returns the closest indexed point to q.
func (t *KDTree) Nearest(q r3.Vector) Neighbor {
	return t.tree.Nearest([]float64{q.X, q.Y, q.Z})
}
