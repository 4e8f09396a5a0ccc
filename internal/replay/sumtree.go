package replay

// sumTree is a fixed-size segment tree over leaf weights supporting O(log n)
// point updates, total-mass queries, and inverse-CDF prefix lookups. The leaf
// count is padded to the next power of two; leaves beyond the buffer's fill
// level hold zero weight and can never be drawn.
type sumTree struct {
	size  int // leaf capacity (power of two)
	nodes []float64
}

func newSumTree(capacity int) *sumTree {
	size := 1
	for size < capacity {
		size *= 2
	}
	return &sumTree{
		size:  size,
		nodes: make([]float64, 2*size),
	}
}

// Set assigns the weight at leaf i and updates ancestors.
func (t *sumTree) Set(i int, v float64) {
	idx := i + t.size
	t.nodes[idx] = v
	for idx > 1 {
		idx /= 2
		t.nodes[idx] = t.nodes[2*idx] + t.nodes[2*idx+1]
	}
}

// Get returns the weight at leaf i.
func (t *sumTree) Get(i int) float64 {
	return t.nodes[i+t.size]
}

// Total returns the sum of all leaf weights.
func (t *sumTree) Total() float64 {
	return t.nodes[1]
}

// FindPrefixSum returns the smallest leaf index i such that the cumulative
// weight of leaves [0, i] exceeds mass. mass must be in [0, Total()).
func (t *sumTree) FindPrefixSum(mass float64) int {
	idx := 1
	for idx < t.size {
		left := 2 * idx
		if t.nodes[left] > mass {
			idx = left
		} else {
			mass -= t.nodes[left]
			idx = left + 1
		}
	}
	return idx - t.size
}
