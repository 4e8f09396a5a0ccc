package worker

import (
	"fmt"
	"sync"

	"github.com/apexrl/replay-coordinator/internal/replay"
)

// EvaluatorConfig sets up the local evaluator.
type EvaluatorConfig struct {
	Gamma        float64 // discount factor
	LearningRate float64
}

// LocalEvaluator trains the linear policy with one-step Q-learning. It
// returns the per-row TD errors so replay priorities can be refreshed, and
// scales each gradient step by the row's importance-sampling weight.
type LocalEvaluator struct {
	gamma float64
	lr    float64

	mu     sync.Mutex
	policy *Policy
}

func NewLocalEvaluator(cfg EvaluatorConfig) *LocalEvaluator {
	if cfg.Gamma <= 0 || cfg.Gamma > 1 {
		cfg.Gamma = 0.99
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 1e-3
	}
	return &LocalEvaluator{
		gamma:  cfg.Gamma,
		lr:     cfg.LearningRate,
		policy: NewPolicy(),
	}
}

// ComputeApply runs one training step on the batch and returns the TD error
// of every row.
func (e *LocalEvaluator) ComputeApply(batch *replay.SampleBatch) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tdErrors := make([]float64, batch.Count())
	for i := 0; i < batch.Count(); i++ {
		obs := batch.Obs[i]
		if len(obs) != ObsSize || len(batch.Actions[i]) == 0 {
			return nil, fmt.Errorf("row %d: unexpected shape obs=%d action=%d",
				i, len(obs), len(batch.Actions[i]))
		}
		action := int(batch.Actions[i][0])
		if action < 0 || action >= NumActions {
			return nil, fmt.Errorf("row %d: action %d out of range", i, action)
		}

		target := batch.Rewards[i]
		if !batch.Dones[i] {
			target += e.gamma * e.policy.MaxQ(batch.NewObs[i])
		}
		delta := target - e.policy.Q(obs)[action]
		tdErrors[i] = delta

		e.policy.Update(obs, action, delta*batch.Weights[i], e.lr)
	}
	return tdErrors, nil
}

// GetWeights snapshots the current policy parameters.
func (e *LocalEvaluator) GetWeights() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy.Flatten()
}
