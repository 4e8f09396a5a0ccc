// Package shard wraps one prioritized replay buffer in a single-goroutine
// actor. Requests execute in arrival order on the actor goroutine, so the
// buffer itself needs no locking; throughput scales by adding shards, each
// receiving a random subset of incoming batches.
package shard

import (
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/apexrl/replay-coordinator/internal/actor"
	"github.com/apexrl/replay-coordinator/internal/logging"
	"github.com/apexrl/replay-coordinator/internal/replay"
	"github.com/apexrl/replay-coordinator/internal/stats"
)

const mailboxDepth = 128

// ErrShardClosed is returned for requests issued after Close.
var ErrShardClosed = errors.New("replay shard is closed")

// Config sizes one shard. Capacity and warm-up are already divided by the
// shard count by the caller.
type Config struct {
	ID           int
	Capacity     int
	ReplayStarts int
	BatchSize    int // rows returned per Replay
	Alpha        float64
	Beta         float64
	Eps          float64
	Seed         int64
}

// Stats is the shard's statistics snapshot: per-operation rolling mean
// timings plus the underlying buffer statistics.
type Stats struct {
	AddBatchTimeMs         float64            `json:"add_batch_time_ms"`
	ReplayTimeMs           float64            `json:"replay_time_ms"`
	UpdatePrioritiesTimeMs float64            `json:"update_priorities_time_ms"`
	Buffer                 replay.BufferStats `json:"buffer"`
}

// ReplayShard is a replay buffer shard actor.
type ReplayShard struct {
	id   int
	cfg  Config
	buf  *replay.PrioritizedReplayBuffer
	log  *slog.Logger

	mailbox   chan func()
	closeOnce sync.Once
	closed    chan struct{}

	addTimer    *stats.TimerStat
	replayTimer *stats.TimerStat
	updateTimer *stats.TimerStat
}

// New creates the shard and starts its actor goroutine.
func New(cfg Config) (*ReplayShard, error) {
	buf, err := replay.NewPrioritizedReplayBuffer(cfg.Capacity, cfg.ReplayStarts, cfg.Alpha, cfg.Seed)
	if err != nil {
		return nil, err
	}
	s := &ReplayShard{
		id:          cfg.ID,
		cfg:         cfg,
		buf:         buf,
		log:         logging.ShardLogger(cfg.ID),
		mailbox:     make(chan func(), mailboxDepth),
		closed:      make(chan struct{}),
		addTimer:    stats.NewTimerStat(),
		replayTimer: stats.NewTimerStat(),
		updateTimer: stats.NewTimerStat(),
	}
	go s.run()
	return s, nil
}

// ID returns the shard's index.
func (s *ReplayShard) ID() int {
	return s.id
}

// run executes mailbox requests until Close, then drains what is already
// queued and exits.
func (s *ReplayShard) run() {
	for {
		select {
		case fn := <-s.mailbox:
			fn()
		case <-s.closed:
			for {
				select {
				case fn := <-s.mailbox:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Close stops the actor goroutine. Requests already in the mailbox run to
// completion; later requests fail with ErrShardClosed.
func (s *ReplayShard) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// submit enqueues a request closure, failing fast when closed.
func submit[T any](s *ReplayShard, fn func() (T, error)) *actor.Pending[T] {
	p := actor.NewPending[T]()
	wrapped := func() {
		p.Complete(fn())
	}
	select {
	case <-s.closed:
		var zero T
		p.Complete(zero, ErrShardClosed)
		return p
	default:
	}
	select {
	case s.mailbox <- wrapped:
		// Close may have raced the send and the final drain may already
		// be over, stranding the request in the mailbox. Completing here
		// is a no-op when the request did run.
		select {
		case <-s.closed:
			var zero T
			p.Complete(zero, ErrShardClosed)
		default:
		}
	case <-s.closed:
		var zero T
		p.Complete(zero, ErrShardClosed)
	}
	return p
}

// AddBatch ingests every row of the batch. Returns the row count.
func (s *ReplayShard) AddBatch(batch *replay.SampleBatch) *actor.Pending[int] {
	return submit(s, func() (n int, err error) {
		s.addTimer.Time(func() {
			for i := 0; i < batch.Count(); i++ {
				s.buf.Add(batch.Row(i))
			}
			n = batch.Count()
		})
		return n, nil
	})
}

// Replay samples one training batch. Returns a nil batch (no error) while
// the buffer is below its warm-up threshold.
func (s *ReplayShard) Replay() *actor.Pending[*replay.SampleBatch] {
	return submit(s, func() (batch *replay.SampleBatch, err error) {
		s.replayTimer.Time(func() {
			batch, err = s.buf.Sample(s.cfg.BatchSize, s.cfg.Beta)
			if errors.Is(err, replay.ErrBufferUnderfilled) {
				batch, err = nil, nil
			}
		})
		return batch, err
	})
}

// UpdatePriorities re-prioritizes sampled slots from per-transition error
// signals: priority = |error| + eps.
func (s *ReplayShard) UpdatePriorities(indexes []int, tdErrors []float64) *actor.Pending[struct{}] {
	return submit(s, func() (z struct{}, err error) {
		s.updateTimer.Time(func() {
			priorities := make([]float64, len(tdErrors))
			for i, e := range tdErrors {
				priorities[i] = math.Abs(e) + s.cfg.Eps
			}
			err = s.buf.UpdatePriorities(indexes, priorities)
		})
		return z, err
	})
}

// BufferLength reports the current fill, used for checkpoint planning.
func (s *ReplayShard) BufferLength() *actor.Pending[int] {
	return submit(s, func() (int, error) {
		return s.buf.Len(), nil
	})
}

// GetData bulk-exports up to count transitions starting at start, in slot
// order. Used only for checkpointing.
func (s *ReplayShard) GetData(start, count int) *actor.Pending[[]replay.Transition] {
	return submit(s, func() ([]replay.Transition, error) {
		return s.buf.Data(start, count), nil
	})
}

// Stats returns the shard statistics snapshot.
func (s *ReplayShard) Stats() *actor.Pending[Stats] {
	return submit(s, func() (Stats, error) {
		return Stats{
			AddBatchTimeMs:         s.addTimer.MeanMillis(),
			ReplayTimeMs:           s.replayTimer.MeanMillis(),
			UpdatePrioritiesTimeMs: s.updateTimer.MeanMillis(),
			Buffer:                 s.buf.Stats(),
		}, nil
	})
}
