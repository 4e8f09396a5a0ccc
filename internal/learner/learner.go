// Package learner runs the background training goroutine. It drains a
// bounded inbound queue of replay batches, performs one optimization step
// per batch, and publishes priority-update signals to an unbounded outbound
// queue drained by the coordinator each tick.
package learner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/apexrl/replay-coordinator/internal/logging"
	"github.com/apexrl/replay-coordinator/internal/metrics"
	"github.com/apexrl/replay-coordinator/internal/replay"
	"github.com/apexrl/replay-coordinator/internal/shard"
	"github.com/apexrl/replay-coordinator/internal/stats"
)

// DefaultQueueSize bounds the inbound queue; the producer blocks when it is
// full, which couples sampling rate to training rate.
const DefaultQueueSize = 16

// Evaluator performs one optimization step on a batch and returns the
// per-transition error signal used for re-prioritization.
type Evaluator interface {
	ComputeApply(batch *replay.SampleBatch) (tdErrors []float64, err error)
}

// Item is one replay batch tagged with its originating shard.
type Item struct {
	Shard *shard.ReplayShard
	Batch *replay.SampleBatch
}

// Result is one trained batch plus its error signal, destined for a
// priority update on the originating shard.
type Result struct {
	Shard    *shard.ReplayShard
	Batch    *replay.SampleBatch
	TDErrors []float64
	Count    int
}

// Worker is the background learner.
type Worker struct {
	evaluator Evaluator
	log       *slog.Logger

	inqueue chan Item
	out     *resultQueue

	queueTimer *stats.TimerStat
	gradTimer  *stats.TimerStat
	queueDepth *stats.WindowStat

	// weightsUpdated signals the coordinator that a fresh weight snapshot
	// should be captured before the next sync.
	weightsUpdated atomic.Bool

	startOnce sync.Once
	started   atomic.Bool
	stopOnce  sync.Once
	stopped   chan struct{}
	done      chan struct{}
}

// New creates a learner draining into the given evaluator. queueSize bounds
// the inbound queue; zero selects DefaultQueueSize.
func New(evaluator Evaluator, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Worker{
		evaluator:  evaluator,
		log:        logging.Component("learner"),
		inqueue:    make(chan Item, queueSize),
		out:        newResultQueue(),
		queueTimer: stats.NewTimerStat(),
		gradTimer:  stats.NewTimerStat(),
		queueDepth: stats.NewWindowStat("learner_queue_size", 50),
		stopped:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the learner goroutine. Idempotent.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.run()
	})
}

// Stop terminates the learner goroutine after the current step.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
	})
	if w.started.Load() {
		<-w.done
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		start := nowSeconds()
		select {
		case <-w.stopped:
			return
		case item := <-w.inqueue:
			w.queueTimer.Push(nowSeconds() - start)
			w.step(item)
		}
	}
}

// step performs one training step and publishes the priority signal.
func (w *Worker) step(item Item) {
	if item.Batch == nil {
		return
	}

	var tdErrors []float64
	var err error
	w.gradTimer.Time(func() {
		tdErrors, err = w.evaluator.ComputeApply(item.Batch)
	})
	if err != nil {
		w.log.Error("training step failed", "error", err, "batch_size", item.Batch.Count())
		if m := metrics.Get(); m != nil {
			m.IncTaskFailures("train")
		}
		return
	}

	w.out.push(Result{
		Shard:    item.Shard,
		Batch:    item.Batch,
		TDErrors: tdErrors,
		Count:    item.Batch.Count(),
	})
	w.queueDepth.Push(float64(len(w.inqueue)))
	w.weightsUpdated.Store(true)
}

// Enqueue hands one replay batch to the learner, blocking while the bounded
// inbound queue is full. This is the pipeline's backpressure point.
func (w *Worker) Enqueue(ctx context.Context, item Item) error {
	select {
	case w.inqueue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return context.Canceled
	}
}

// DrainResults removes and returns everything currently in the outbound
// queue without blocking.
func (w *Worker) DrainResults() []Result {
	return w.out.drain()
}

// QueueLen reports the inbound queue depth.
func (w *Worker) QueueLen() int {
	return len(w.inqueue)
}

// QueueStats returns the rolling queue-depth distribution.
func (w *Worker) QueueStats() map[string]float64 {
	return w.queueDepth.Stats()
}

// GradTimeMs returns the rolling mean training-step latency.
func (w *Worker) GradTimeMs() float64 {
	return w.gradTimer.MeanMillis()
}

// DequeueTimeMs returns the rolling mean time the learner goroutine spent
// waiting for the next batch to arrive.
func (w *Worker) DequeueTimeMs() float64 {
	return w.queueTimer.MeanMillis()
}

// WeightsUpdated reports whether a training step has completed since the
// flag was last cleared.
func (w *Worker) WeightsUpdated() bool {
	return w.weightsUpdated.Load()
}

// ClearWeightsUpdated resets the flag after the coordinator captures a
// fresh snapshot.
func (w *Worker) ClearWeightsUpdated() {
	w.weightsUpdated.Store(false)
}
