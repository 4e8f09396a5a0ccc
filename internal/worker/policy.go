package worker

import "math/rand"

// WeightSize is the length of the flat weight vector exchanged between the
// evaluator and the rollout workers: one row of ObsSize weights plus a bias
// per action.
const WeightSize = NumActions * (ObsSize + 1)

// Policy is a linear action-value function: Q(s, a) = w_a . s + b_a.
// It is deliberately tiny; the point is exercising the pipeline, not
// solving the task well.
type Policy struct {
	// w[a] holds the weight row for action a; b[a] its bias.
	w [NumActions][ObsSize]float64
	b [NumActions]float64
}

func NewPolicy() *Policy {
	return &Policy{}
}

// Q returns the action values for an observation.
func (p *Policy) Q(obs []float64) [NumActions]float64 {
	var q [NumActions]float64
	for a := 0; a < NumActions; a++ {
		q[a] = p.b[a]
		for j := 0; j < ObsSize; j++ {
			q[a] += p.w[a][j] * obs[j]
		}
	}
	return q
}

// Act picks a greedy action with epsilon-random exploration.
func (p *Policy) Act(obs []float64, epsilon float64, rng *rand.Rand) int {
	if rng.Float64() < epsilon {
		return rng.Intn(NumActions)
	}
	q := p.Q(obs)
	best := 0
	for a := 1; a < NumActions; a++ {
		if q[a] > q[best] {
			best = a
		}
	}
	return best
}

// MaxQ returns the maximum action value for an observation.
func (p *Policy) MaxQ(obs []float64) float64 {
	q := p.Q(obs)
	max := q[0]
	for a := 1; a < NumActions; a++ {
		if q[a] > max {
			max = q[a]
		}
	}
	return max
}

// Update applies one gradient step for (obs, action) toward the TD target:
// delta is the TD error, lr the learning rate.
func (p *Policy) Update(obs []float64, action int, delta, lr float64) {
	for j := 0; j < ObsSize; j++ {
		p.w[action][j] += lr * delta * obs[j]
	}
	p.b[action] += lr * delta
}

// Flatten serializes the policy into a flat weight vector.
func (p *Policy) Flatten() []float64 {
	out := make([]float64, 0, WeightSize)
	for a := 0; a < NumActions; a++ {
		out = append(out, p.w[a][:]...)
		out = append(out, p.b[a])
	}
	return out
}

// Load replaces the policy parameters from a flat weight vector produced by
// Flatten. Short or long vectors are ignored.
func (p *Policy) Load(flat []float64) {
	if len(flat) != WeightSize {
		return
	}
	i := 0
	for a := 0; a < NumActions; a++ {
		for j := 0; j < ObsSize; j++ {
			p.w[a][j] = flat[i]
			i++
		}
		p.b[a] = flat[i]
		i++
	}
}
