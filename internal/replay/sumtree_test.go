package replay

import "testing"

func TestSumTreePrefixLookup(t *testing.T) {
	tree := newSumTree(5)
	weights := []float64{1, 2, 0, 4, 3}
	for i, w := range weights {
		tree.Set(i, w)
	}

	if tree.Total() != 10 {
		t.Fatalf("Total() = %v, want 10", tree.Total())
	}

	cases := []struct {
		mass float64
		want int
	}{
		{0, 0},
		{0.99, 0},
		{1.0, 1},
		{2.99, 1},
		{3.0, 3}, // leaf 2 has zero mass and is skipped
		{6.99, 3},
		{7.0, 4},
		{9.99, 4},
	}
	for _, tc := range cases {
		if got := tree.FindPrefixSum(tc.mass); got != tc.want {
			t.Errorf("FindPrefixSum(%v) = %d, want %d", tc.mass, got, tc.want)
		}
	}
}

func TestSumTreeUpdate(t *testing.T) {
	tree := newSumTree(4)
	tree.Set(0, 5)
	tree.Set(0, 1)
	tree.Set(3, 2)

	if tree.Total() != 3 {
		t.Errorf("Total() after overwrite = %v, want 3", tree.Total())
	}
	if tree.Get(0) != 1 || tree.Get(3) != 2 {
		t.Errorf("leaves = %v,%v, want 1,2", tree.Get(0), tree.Get(3))
	}
}
