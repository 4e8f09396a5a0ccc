package replay

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrBufferUnderfilled is returned by Sample before the warm-up
	// threshold is reached. Non-fatal: the caller skips replay for now.
	ErrBufferUnderfilled = errors.New("replay buffer below warm-up threshold")

	// ErrBadPriority is returned for non-positive or mismatched priority
	// updates.
	ErrBadPriority = errors.New("invalid priority update")
)

// PrioritizedReplayBuffer is a fixed-capacity ring of transitions with a
// parallel sum tree over priorities^alpha for proportional sampling.
// It is not internally synchronized: a single shard actor owns each
// instance and serializes access.
type PrioritizedReplayBuffer struct {
	capacity     int
	replayStarts int
	alpha        float64

	storage []Transition
	next    int // insert cursor, wraps modulo capacity

	tree        *sumTree
	maxPriority float64

	added   int64
	sampled int64
	rng     *rand.Rand
}

// BufferStats is the buffer's statistics snapshot.
type BufferStats struct {
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	Added       int64   `json:"added"`
	Sampled     int64   `json:"sampled"`
	MaxPriority float64 `json:"max_priority"`
}

// NewPrioritizedReplayBuffer creates a buffer with the given capacity,
// warm-up threshold, and prioritization exponent alpha (alpha=0 degenerates
// to uniform sampling).
func NewPrioritizedReplayBuffer(capacity, replayStarts int, alpha float64, seed int64) (*PrioritizedReplayBuffer, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be greater than zero")
	}
	if alpha < 0 {
		return nil, errors.New("alpha must be non-negative")
	}
	return &PrioritizedReplayBuffer{
		capacity:     capacity,
		replayStarts: replayStarts,
		alpha:        alpha,
		storage:      make([]Transition, 0, capacity),
		tree:         newSumTree(capacity),
		maxPriority:  1.0,
		rng:          rand.New(rand.NewSource(seed)),
	}, nil
}

// Len returns the current fill level.
func (b *PrioritizedReplayBuffer) Len() int {
	return len(b.storage)
}

// Capacity returns the fixed capacity.
func (b *PrioritizedReplayBuffer) Capacity() int {
	return b.capacity
}

// Add inserts a transition at the cursor, overwriting the oldest entry once
// full. New entries take the running maximum priority so they are sampled
// at least once before their true error is known.
func (b *PrioritizedReplayBuffer) Add(t Transition) {
	if len(b.storage) < b.capacity {
		b.storage = append(b.storage, t)
	} else {
		b.storage[b.next] = t
	}
	b.tree.Set(b.next, math.Pow(b.maxPriority, b.alpha))
	b.next = (b.next + 1) % b.capacity
	b.added++
}

// Sample draws n transitions with probability proportional to priority^alpha
// using stratified inverse-CDF lookups: the cumulative mass is split into n
// contiguous segments and one index is drawn per segment. Importance weights
// (1/(N*P(i)))^beta are normalized by the batch maximum so all weights are
// in (0, 1]. Returns ErrBufferUnderfilled below the warm-up threshold.
func (b *PrioritizedReplayBuffer) Sample(n int, beta float64) (*SampleBatch, error) {
	if len(b.storage) < b.replayStarts || len(b.storage) == 0 {
		return nil, ErrBufferUnderfilled
	}
	if n <= 0 {
		return nil, fmt.Errorf("sample size must be positive, got %d", n)
	}

	total := b.tree.Total()
	if total <= 0 {
		return nil, fmt.Errorf("sum tree has no mass over %d entries", len(b.storage))
	}

	indexes := make([]int, n)
	segment := total / float64(n)
	for i := 0; i < n; i++ {
		mass := (float64(i) + b.rng.Float64()) * segment
		idx := b.tree.FindPrefixSum(mass)
		if idx >= len(b.storage) {
			idx = len(b.storage) - 1
		}
		indexes[i] = idx
	}

	size := float64(len(b.storage))
	weights := make([]float64, n)
	maxWeight := 0.0
	for i, idx := range indexes {
		p := b.tree.Get(idx) / total
		w := math.Pow(1.0/(size*p), beta)
		weights[i] = w
		maxWeight = math.Max(maxWeight, w)
	}
	for i := range weights {
		weights[i] /= maxWeight
	}

	batch := &SampleBatch{
		Obs:          make([][]float64, n),
		Actions:      make([][]float64, n),
		Rewards:      make([]float64, n),
		NewObs:       make([][]float64, n),
		Dones:        make([]bool, n),
		Weights:      weights,
		BatchIndexes: indexes,
	}
	for i, idx := range indexes {
		t := b.storage[idx]
		batch.Obs[i] = t.Obs
		batch.Actions[i] = t.Action
		batch.Rewards[i] = t.Reward
		batch.NewObs[i] = t.NewObs
		batch.Dones[i] = t.Done
	}
	b.sampled += int64(n)
	return batch, nil
}

// UpdatePriorities writes new priorities in place. Priorities must be
// strictly positive (callers derive them as |error| + eps); the running
// maximum is updated so future inserts inherit the new ceiling.
func (b *PrioritizedReplayBuffer) UpdatePriorities(indexes []int, priorities []float64) error {
	if len(indexes) != len(priorities) {
		return fmt.Errorf("%w: %d indexes, %d priorities", ErrBadPriority, len(indexes), len(priorities))
	}
	for i, idx := range indexes {
		p := priorities[i]
		if p <= 0 {
			return fmt.Errorf("%w: priority %g at index %d", ErrBadPriority, p, idx)
		}
		if idx < 0 || idx >= len(b.storage) {
			return fmt.Errorf("%w: index %d out of range [0,%d)", ErrBadPriority, idx, len(b.storage))
		}
		b.tree.Set(idx, math.Pow(p, b.alpha))
		b.maxPriority = math.Max(b.maxPriority, p)
	}
	return nil
}

// Data returns up to count transitions starting at start, in slot order.
// Used for bulk export during checkpointing.
func (b *PrioritizedReplayBuffer) Data(start, count int) []Transition {
	if start < 0 || start >= len(b.storage) || count <= 0 {
		return nil
	}
	end := start + count
	if end > len(b.storage) {
		end = len(b.storage)
	}
	out := make([]Transition, end-start)
	copy(out, b.storage[start:end])
	return out
}

// Stats returns the buffer statistics snapshot.
func (b *PrioritizedReplayBuffer) Stats() BufferStats {
	return BufferStats{
		Size:        len(b.storage),
		Capacity:    b.capacity,
		Added:       b.added,
		Sampled:     b.sampled,
		MaxPriority: b.maxPriority,
	}
}
