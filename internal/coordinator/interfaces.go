package coordinator

import (
	"context"
	"errors"

	"github.com/apexrl/replay-coordinator/internal/replay"
)

// ErrUnsupportedCapability is returned at construction time when the
// supplied worker set or evaluator cannot drive the asynchronous replay
// pipeline (no workers, or no evaluator to train and snapshot weights).
var ErrUnsupportedCapability = errors.New("unsupported capability for asynchronous replay")

// RolloutWorker produces experience batches from the current policy.
// Sample calls are issued asynchronously with up to sampleQueueDepth in
// flight per worker; SetWeights may be called concurrently with Sample.
type RolloutWorker interface {
	ID() int
	Sample(ctx context.Context) (*replay.SampleBatch, error)
	SetWeights(ctx context.Context, weights []float64) error
}

// Evaluator is the training side of the pipeline: it consumes replay
// batches on the learner goroutine and exposes weight snapshots that the
// coordinator broadcasts to stale rollout workers.
type Evaluator interface {
	ComputeApply(batch *replay.SampleBatch) (tdErrors []float64, err error)
	GetWeights() []float64
}
