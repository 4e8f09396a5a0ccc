package replay

import (
	"errors"
	"testing"
)

func TestNewSampleBatchValidation(t *testing.T) {
	valid := &SampleBatch{
		Obs:     [][]float64{{1}, {2}},
		Actions: [][]float64{{0}, {1}},
		Rewards: []float64{1, 0},
		NewObs:  [][]float64{{2}, {3}},
		Dones:   []bool{false, true},
		Weights: []float64{1, 1},
	}
	if _, err := NewSampleBatch(valid); err != nil {
		t.Fatalf("valid batch rejected: %v", err)
	}

	ragged := &SampleBatch{
		Obs:     [][]float64{{1}, {2}},
		Actions: [][]float64{{0}},
		Rewards: []float64{1, 0},
		NewObs:  [][]float64{{2}, {3}},
		Dones:   []bool{false, true},
		Weights: []float64{1, 1},
	}
	if _, err := NewSampleBatch(ragged); !errors.Is(err, ErrRaggedBatch) {
		t.Errorf("ragged batch error = %v, want ErrRaggedBatch", err)
	}

	badIndexes := &SampleBatch{
		Obs:          [][]float64{{1}},
		Actions:      [][]float64{{0}},
		Rewards:      []float64{1},
		NewObs:       [][]float64{{2}},
		Dones:        []bool{false},
		Weights:      []float64{1},
		BatchIndexes: []int{0, 1},
	}
	if _, err := NewSampleBatch(badIndexes); !errors.Is(err, ErrRaggedBatch) {
		t.Errorf("bad batch_indexes error = %v, want ErrRaggedBatch", err)
	}
}

func TestBatchRoundTripRows(t *testing.T) {
	rows := []Transition{
		{Obs: []float64{1, 2}, Action: []float64{0}, Reward: 0.5, NewObs: []float64{2, 3}, Done: false, Weight: 1},
		{Obs: []float64{3, 4}, Action: []float64{1}, Reward: -1, NewObs: []float64{4, 5}, Done: true, Weight: 0.5},
	}
	b := FromTransitions(rows)
	if b.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", b.Count())
	}
	for i, want := range rows {
		got := b.Row(i)
		if got.Reward != want.Reward || got.Done != want.Done || got.Weight != want.Weight {
			t.Errorf("row %d = %+v, want %+v", i, got, want)
		}
	}
}
