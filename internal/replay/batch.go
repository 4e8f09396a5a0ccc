// Package replay implements the prioritized experience replay buffer and
// its batch types.
package replay

import (
	"errors"
	"fmt"
)

// ErrRaggedBatch is returned when batch columns have mismatched lengths.
var ErrRaggedBatch = errors.New("sample batch columns have mismatched lengths")

// Transition is one (state, action, reward, next state, terminal) tuple
// plus the importance weight attached when it was produced. Transitions
// are immutable once appended to a buffer; slots are overwritten in place
// on wraparound.
type Transition struct {
	Obs    []float64
	Action []float64
	Reward float64
	NewObs []float64
	Done   bool
	Weight float64
}

// SampleBatch is a fixed-schema record of parallel columns. All columns
// share the same length, validated at construction. BatchIndexes is only
// present on batches produced by replay sampling and correlates rows back
// to buffer slots for priority updates.
type SampleBatch struct {
	Obs     [][]float64
	Actions [][]float64
	Rewards []float64
	NewObs  [][]float64
	Dones   []bool
	Weights []float64

	// BatchIndexes correlates rows to buffer slots; nil on rollout batches.
	BatchIndexes []int
}

// NewSampleBatch validates the equal-length invariant and returns the batch.
func NewSampleBatch(b *SampleBatch) (*SampleBatch, error) {
	n := len(b.Obs)
	if len(b.Actions) != n || len(b.Rewards) != n || len(b.NewObs) != n ||
		len(b.Dones) != n || len(b.Weights) != n {
		return nil, fmt.Errorf("%w: obs=%d actions=%d rewards=%d new_obs=%d dones=%d weights=%d",
			ErrRaggedBatch, n, len(b.Actions), len(b.Rewards), len(b.NewObs), len(b.Dones), len(b.Weights))
	}
	if b.BatchIndexes != nil && len(b.BatchIndexes) != n {
		return nil, fmt.Errorf("%w: batch_indexes=%d rows=%d", ErrRaggedBatch, len(b.BatchIndexes), n)
	}
	return b, nil
}

// FromTransitions assembles a batch from rows.
func FromTransitions(rows []Transition) *SampleBatch {
	b := &SampleBatch{
		Obs:     make([][]float64, 0, len(rows)),
		Actions: make([][]float64, 0, len(rows)),
		Rewards: make([]float64, 0, len(rows)),
		NewObs:  make([][]float64, 0, len(rows)),
		Dones:   make([]bool, 0, len(rows)),
		Weights: make([]float64, 0, len(rows)),
	}
	for _, r := range rows {
		b.Append(r)
	}
	return b
}

// Append adds one row field-wise during batch assembly.
func (b *SampleBatch) Append(t Transition) {
	b.Obs = append(b.Obs, t.Obs)
	b.Actions = append(b.Actions, t.Action)
	b.Rewards = append(b.Rewards, t.Reward)
	b.NewObs = append(b.NewObs, t.NewObs)
	b.Dones = append(b.Dones, t.Done)
	b.Weights = append(b.Weights, t.Weight)
}

// Count returns the number of rows.
func (b *SampleBatch) Count() int {
	if b == nil {
		return 0
	}
	return len(b.Obs)
}

// Row returns the i-th row as a Transition.
func (b *SampleBatch) Row(i int) Transition {
	return Transition{
		Obs:    b.Obs[i],
		Action: b.Actions[i],
		Reward: b.Rewards[i],
		NewObs: b.NewObs[i],
		Done:   b.Dones[i],
		Weight: b.Weights[i],
	}
}
