// Package coordinator runs the asynchronous replay control loop: it keeps a
// steady state of in-flight sample and replay requests, routes experience
// into sharded prioritized buffers, feeds the learner, pushes priority
// updates back, and periodically broadcasts fresh weights to stale workers.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/apexrl/replay-coordinator/internal/actor"
	"github.com/apexrl/replay-coordinator/internal/checkpoint"
	"github.com/apexrl/replay-coordinator/internal/learner"
	"github.com/apexrl/replay-coordinator/internal/logging"
	"github.com/apexrl/replay-coordinator/internal/metrics"
	"github.com/apexrl/replay-coordinator/internal/replay"
	"github.com/apexrl/replay-coordinator/internal/shard"
	"github.com/apexrl/replay-coordinator/internal/stats"
)

// Defaults for the steady-state request depths.
const (
	DefaultSampleQueueDepth = 2
	DefaultReplayQueueDepth = 4
)

// Config tunes the control loop.
type Config struct {
	// MaxWeightSyncDelay is the number of sampled steps a worker may
	// contribute before the coordinator pushes it a fresh weight snapshot.
	MaxWeightSyncDelay int

	// SampleQueueDepth is the number of in-flight Sample calls kept per
	// worker; ReplayQueueDepth the in-flight Replay calls per shard.
	SampleQueueDepth int
	ReplayQueueDepth int

	// StalenessWarnAfter is how long the loop tolerates no sample
	// completions before logging a warning. Zero disables the check.
	StalenessWarnAfter time.Duration

	// Seed feeds the shard-routing RNG.
	Seed int64

	// Debug includes shard 0's statistics in the Stats map.
	Debug bool

	// Checkpointing; Store nil disables it entirely.
	Store           checkpoint.Store
	Compress        bool
	CheckpointEvery int // save every N Run ticks; 0 = manual only
}

// Coordinator owns the per-tick pipeline state. All mutation happens on the
// goroutine calling Step (or Run); Stats and the step counters may be read
// concurrently.
type Coordinator struct {
	cfg       Config
	log       *slog.Logger
	runID     string
	workers   []RolloutWorker
	shards    []*shard.ReplayShard
	evaluator Evaluator
	learner   *learner.Worker
	rng       *rand.Rand

	samplePool *actor.TaskPool[RolloutWorker, *replay.SampleBatch]
	replayPool *actor.TaskPool[*shard.ReplayShard, *replay.SampleBatch]
	updatePool *actor.TaskPool[*shard.ReplayShard, struct{}]

	// snapshot is the weight vector pushed to stale workers. It starts as
	// the evaluator's initial weights and is refreshed at most once per
	// tick, only after the learner reports an update.
	snapshot       []float64
	stepsSinceSync map[int]int

	stepsSampled   atomic.Int64
	stepsTrained   atomic.Int64
	numWeightSyncs atomic.Int64

	lastSampleAt      time.Time
	lastStalenessWarn time.Time

	sampleTimer     *stats.TimerStat // sample phase wall time + sampled units
	replayTimer     *stats.TimerStat // replay phase wall time
	trainTimer      *stats.TimerStat // priority phase wall time + trained units
	putWeightsTimer *stats.TimerStat
	updatePrioTimer *stats.TimerStat
}

// New wires the pipeline and primes the steady state: the evaluator's
// initial weights are broadcast to every worker, then SampleQueueDepth
// sample requests per worker and ReplayQueueDepth replay requests per shard
// are put in flight.
func New(ctx context.Context, cfg Config, workers []RolloutWorker, shards []*shard.ReplayShard, evaluator Evaluator, learn *learner.Worker) (*Coordinator, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("%w: no rollout workers", ErrUnsupportedCapability)
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("%w: no replay shards", ErrUnsupportedCapability)
	}
	if evaluator == nil || learn == nil {
		return nil, fmt.Errorf("%w: no evaluator", ErrUnsupportedCapability)
	}
	if cfg.MaxWeightSyncDelay <= 0 {
		return nil, fmt.Errorf("max_weight_sync_delay must be positive, got %d", cfg.MaxWeightSyncDelay)
	}
	if cfg.SampleQueueDepth <= 0 {
		cfg.SampleQueueDepth = DefaultSampleQueueDepth
	}
	if cfg.ReplayQueueDepth <= 0 {
		cfg.ReplayQueueDepth = DefaultReplayQueueDepth
	}

	c := &Coordinator{
		cfg:             cfg,
		log:             logging.Component("coordinator"),
		runID:           uuid.NewString(),
		workers:         workers,
		shards:          shards,
		evaluator:       evaluator,
		learner:         learn,
		rng:             rand.New(rand.NewSource(cfg.Seed)),
		samplePool:      actor.NewTaskPool[RolloutWorker, *replay.SampleBatch](),
		replayPool:      actor.NewTaskPool[*shard.ReplayShard, *replay.SampleBatch](),
		updatePool:      actor.NewTaskPool[*shard.ReplayShard, struct{}](),
		stepsSinceSync:  make(map[int]int, len(workers)),
		lastSampleAt:    time.Now(),
		sampleTimer:     stats.NewTimerStat(),
		replayTimer:     stats.NewTimerStat(),
		trainTimer:      stats.NewTimerStat(),
		putWeightsTimer: stats.NewTimerStat(),
		updatePrioTimer: stats.NewTimerStat(),
	}

	c.snapshot = evaluator.GetWeights()
	for _, w := range workers {
		if err := w.SetWeights(ctx, c.snapshot); err != nil {
			return nil, fmt.Errorf("initial weight broadcast to worker %d: %w", w.ID(), err)
		}
		c.stepsSinceSync[w.ID()] = 0
	}

	for _, w := range workers {
		for i := 0; i < cfg.SampleQueueDepth; i++ {
			c.submitSample(ctx, w)
		}
	}
	for _, s := range shards {
		for i := 0; i < cfg.ReplayQueueDepth; i++ {
			c.replayPool.Add(s, s.Replay())
		}
	}

	c.log.Info("coordinator started",
		"run_id", c.runID,
		"workers", len(workers),
		"shards", len(shards),
		"max_weight_sync_delay", cfg.MaxWeightSyncDelay)
	return c, nil
}

// RunID identifies this coordinator instance in logs and checkpoints.
func (c *Coordinator) RunID() string {
	return c.runID
}

func (c *Coordinator) submitSample(ctx context.Context, w RolloutWorker) {
	c.samplePool.Add(w, actor.Go(func() (*replay.SampleBatch, error) {
		return w.Sample(ctx)
	}))
}

// Step executes one tick of the three-phase loop and returns the number of
// steps sampled and trained during the tick.
func (c *Coordinator) Step(ctx context.Context) (sampled, trained int, err error) {
	start := time.Now()
	sampled = c.sampleStep(ctx)
	c.observeStage("sample", time.Since(start))

	start = time.Now()
	c.replayTimer.Time(func() {
		err = c.replayStep(ctx)
	})
	if err != nil {
		return sampled, 0, err
	}
	c.observeStage("replay", time.Since(start))

	start = time.Now()
	c.trainTimer.Time(func() {
		trained = c.updateStep()
	})
	c.trainTimer.PushUnits(float64(trained))
	c.observeStage("train", time.Since(start))

	c.publishMetrics(sampled, trained)
	return sampled, trained, nil
}

func (c *Coordinator) observeStage(stage string, d time.Duration) {
	if m := metrics.Get(); m != nil {
		m.ObserveStage(stage, d.Seconds())
	}
}

// sampleStep drains finished Sample calls: each batch is routed to a
// uniformly random shard, the worker's staleness counter advances (with a
// weight push when it trips), and a replacement request goes out.
func (c *Coordinator) sampleStep(ctx context.Context) int {
	var sampled int
	c.sampleTimer.Time(func() {
		completions := c.samplePool.Completed()

		if len(completions) == 0 {
			c.maybeWarnStale()
			return
		}
		c.lastSampleAt = time.Now()

		refreshed := false
		for _, done := range completions {
			w := done.Actor
			if done.Err != nil {
				c.log.Error("sample task failed", "worker_id", w.ID(), "error", done.Err)
				if m := metrics.Get(); m != nil {
					m.IncTaskFailures("sample")
				}
				c.submitSample(ctx, w)
				continue
			}

			batch := done.Value
			n := batch.Count()
			if n > 0 {
				sampled += n
				s := c.shards[c.rng.Intn(len(c.shards))]
				s.AddBatch(batch)

				c.stepsSinceSync[w.ID()] += n
				if c.stepsSinceSync[w.ID()] >= c.cfg.MaxWeightSyncDelay {
					if !refreshed && c.learner.WeightsUpdated() {
						c.putWeightsTimer.Time(func() {
							c.snapshot = c.evaluator.GetWeights()
						})
						c.learner.ClearWeightsUpdated()
						refreshed = true
					}
					c.pushWeights(ctx, w)
					c.stepsSinceSync[w.ID()] = 0
				}
			}
			c.submitSample(ctx, w)
		}
	})
	c.sampleTimer.PushUnits(float64(sampled))
	c.stepsSampled.Add(int64(sampled))
	return sampled
}

func (c *Coordinator) pushWeights(ctx context.Context, w RolloutWorker) {
	snapshot := c.snapshot
	go func() {
		if err := w.SetWeights(ctx, snapshot); err != nil {
			c.log.Error("weight push failed", "worker_id", w.ID(), "error", err)
			if m := metrics.Get(); m != nil {
				m.IncTaskFailures("set_weights")
			}
		}
	}()
	c.numWeightSyncs.Add(1)
	if m := metrics.Get(); m != nil {
		m.WeightSyncs.Inc()
	}
}

// replayStep drains finished Replay calls, immediately replaces each, and
// hands real batches to the learner. The learner enqueue blocks when its
// inbound queue is full; that is the pipeline's backpressure point.
func (c *Coordinator) replayStep(ctx context.Context) error {
	for _, done := range c.replayPool.Completed() {
		s := done.Actor
		c.replayPool.Add(s, s.Replay())

		if done.Err != nil {
			c.log.Error("replay task failed", "shard_id", s.ID(), "error", done.Err)
			if m := metrics.Get(); m != nil {
				m.IncTaskFailures("replay")
			}
			continue
		}
		if done.Value == nil {
			// Below warm-up; nothing to train on yet.
			continue
		}
		if err := c.learner.Enqueue(ctx, learner.Item{Shard: s, Batch: done.Value}); err != nil {
			return fmt.Errorf("enqueue replay batch: %w", err)
		}
	}
	return nil
}

// updateStep drains the learner's outbound queue and issues priority
// updates to the originating shards.
func (c *Coordinator) updateStep() int {
	var trained int
	for _, r := range c.learner.DrainResults() {
		c.updatePool.Add(r.Shard, r.Shard.UpdatePriorities(r.Batch.BatchIndexes, r.TDErrors))
		trained += r.Count
	}
	c.stepsTrained.Add(int64(trained))

	c.updatePrioTimer.Time(func() {
		for _, done := range c.updatePool.Completed() {
			if done.Err != nil {
				c.log.Error("priority update failed", "shard_id", done.Actor.ID(), "error", done.Err)
				if m := metrics.Get(); m != nil {
					m.IncTaskFailures("update_priorities")
				}
			}
		}
	})
	return trained
}

func (c *Coordinator) maybeWarnStale() {
	warnAfter := c.cfg.StalenessWarnAfter
	if warnAfter <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(c.lastSampleAt) < warnAfter || now.Sub(c.lastStalenessWarn) < warnAfter {
		return
	}
	c.lastStalenessWarn = now
	c.log.Warn("no sample completions received",
		"since", now.Sub(c.lastSampleAt).Round(time.Second).String(),
		"pending_sample_tasks", c.samplePool.Count())
	if m := metrics.Get(); m != nil {
		m.StalenessWarnings.Inc()
	}
}

func (c *Coordinator) publishMetrics(sampled, trained int) {
	m := metrics.Get()
	if m == nil {
		return
	}
	if sampled > 0 {
		m.StepsSampled.Add(float64(sampled))
	}
	if trained > 0 {
		m.StepsTrained.Add(float64(trained))
	}
	m.SetPendingTasks("sample", float64(c.samplePool.Count()))
	m.SetPendingTasks("replay", float64(c.replayPool.Count()))
	m.LearnerQueueLen.Set(float64(c.learner.QueueLen()))
	m.SampleThroughput.Set(c.sampleTimer.MeanThroughput())
	m.TrainThroughput.Set(c.trainTimer.MeanThroughput())
}

// Run drives Step until the context is cancelled, saving checkpoints on the
// configured cadence. Idle ticks back off briefly to avoid spinning.
func (c *Coordinator) Run(ctx context.Context) error {
	var tick int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sampled, trained, err := c.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		tick++

		if c.cfg.Store != nil && c.cfg.CheckpointEvery > 0 && tick%int64(c.cfg.CheckpointEvery) == 0 {
			if _, err := c.SaveCheckpoint(ctx); err != nil {
				c.log.Error("checkpoint save failed", "error", err)
			}
		}

		if sampled == 0 && trained == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}
}

// Stop shuts the pipeline down: the learner goroutine exits after its
// current step and the shard actors stop accepting requests.
func (c *Coordinator) Stop() {
	c.learner.Stop()
	for _, s := range c.shards {
		s.Close()
	}
	c.log.Info("coordinator stopped",
		"steps_sampled", c.StepsSampled(),
		"steps_trained", c.StepsTrained(),
		"weight_syncs", c.NumWeightSyncs())
}

// StepsSampled returns the total environment steps routed into the shards.
func (c *Coordinator) StepsSampled() int64 {
	return c.stepsSampled.Load()
}

// StepsTrained returns the total transitions consumed by training steps.
func (c *Coordinator) StepsTrained() int64 {
	return c.stepsTrained.Load()
}

// NumWeightSyncs returns the total weight snapshots pushed to workers.
func (c *Coordinator) NumWeightSyncs() int64 {
	return c.numWeightSyncs.Load()
}

// Stats snapshots the pipeline's throughput, timing, and queue state.
func (c *Coordinator) Stats(ctx context.Context) map[string]any {
	timing := map[string]float64{
		"sample_time_ms":            c.sampleTimer.MeanMillis(),
		"replay_time_ms":            c.replayTimer.MeanMillis(),
		"train_time_ms":             c.trainTimer.MeanMillis(),
		"put_weights_time_ms":       c.putWeightsTimer.MeanMillis(),
		"update_priorities_time_ms": c.updatePrioTimer.MeanMillis(),
		"learner_grad_time_ms":      c.learner.GradTimeMs(),
		"learner_dequeue_time_ms":   c.learner.DequeueTimeMs(),
	}

	out := map[string]any{
		"run_id":               c.runID,
		"steps_sampled":        c.StepsSampled(),
		"steps_trained":        c.StepsTrained(),
		"num_weight_syncs":     c.NumWeightSyncs(),
		"sample_throughput":    c.sampleTimer.MeanThroughput(),
		"train_throughput":     c.trainTimer.MeanThroughput(),
		"pending_sample_tasks": c.samplePool.Count(),
		"pending_replay_tasks": c.replayPool.Count(),
		"learner_queue_depth":  c.learner.QueueLen(),
		"timing_ms":            timing,
	}
	for k, v := range c.learner.QueueStats() {
		out[k] = v
	}

	if c.cfg.Debug && len(c.shards) > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if s, err := c.shards[0].Stats().Wait(waitCtx); err == nil {
			out["replay_shard_0"] = s
		}
	}
	return out
}
