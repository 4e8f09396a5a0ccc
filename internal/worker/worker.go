package worker

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/apexrl/replay-coordinator/internal/logging"
	"github.com/apexrl/replay-coordinator/internal/replay"
)

// Config sets up a rollout worker.
type Config struct {
	ID        int
	BatchSize int     // transitions per Sample call
	Epsilon   float64 // exploration rate
	Seed      int64
}

// Rollout steps the environment with the current policy and produces
// fixed-size batches of transitions. Safe for one Sample call at a time;
// SetWeights may race with Sample and the policy swap is guarded.
type Rollout struct {
	id        int
	batchSize int
	epsilon   float64
	log       *slog.Logger

	mu     sync.Mutex
	policy *Policy

	env *Env
	rng *rand.Rand
	obs []float64

	episodeReturn float64
	episodeSteps  int
}

func NewRollout(cfg Config) *Rollout {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 0.1
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	env := NewEnv(rng)
	return &Rollout{
		id:        cfg.ID,
		batchSize: cfg.BatchSize,
		epsilon:   cfg.Epsilon,
		log:       logging.WorkerLogger(cfg.ID),
		policy:    NewPolicy(),
		env:       env,
		rng:       rng,
		obs:       env.Obs(),
	}
}

// ID returns the worker's identifier.
func (r *Rollout) ID() int {
	return r.id
}

// Sample collects one batch of environment transitions.
func (r *Rollout) Sample(ctx context.Context) (*replay.SampleBatch, error) {
	ts := make([]replay.Transition, 0, r.batchSize)
	for len(ts) < r.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		obs := r.obs
		action := r.act(obs)
		newObs, reward, done := r.env.Step(action)

		ts = append(ts, replay.Transition{
			Obs:    obs,
			Action: []float64{float64(action)},
			Reward: reward,
			NewObs: newObs,
			Done:   done,
			Weight: 1.0,
		})

		r.episodeReturn += reward
		r.episodeSteps++
		if done {
			r.log.Debug("episode finished", "return", r.episodeReturn, "steps", r.episodeSteps)
			r.episodeReturn = 0
			r.episodeSteps = 0
			r.obs = r.env.Reset()
		} else {
			r.obs = newObs
		}
	}
	return replay.FromTransitions(ts), nil
}

// SetWeights replaces the rollout policy.
func (r *Rollout) SetWeights(ctx context.Context, flat []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy.Load(flat)
	return nil
}

func (r *Rollout) act(obs []float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy.Act(obs, r.epsilon, r.rng)
}
