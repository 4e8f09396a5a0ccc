// Package worker provides a reference in-process rollout worker and a local
// evaluator built around a pole-balancing control task. They exist so the
// binary can exercise the full sample/replay/train pipeline without an
// external actor fleet; production deployments supply their own
// implementations of the coordinator interfaces.
package worker

import (
	"math"
	"math/rand"
)

const (
	gravity        = 9.81
	cartMass       = 1.0
	poleMass       = 0.1
	poleHalfLength = 0.5
	pushForce      = 10.0
	timeStep       = 0.02

	positionLimit = 2.4
	angleLimit    = 12.0 * math.Pi / 180.0
	episodeCap    = 500
)

// ObsSize is the length of the observation vector.
const ObsSize = 4

// NumActions is the size of the discrete action space.
const NumActions = 2

// Env is a cart-pole balancing environment. Observations are
// [position, velocity, angle, angular velocity]; actions push the cart
// left (0) or right (1). Reward is 1 per step survived.
type Env struct {
	obs   [ObsSize]float64
	steps int
	rng   *rand.Rand
}

func NewEnv(rng *rand.Rand) *Env {
	e := &Env{rng: rng}
	e.Reset()
	return e
}

// Reset starts a new episode from a small random perturbation and returns
// the initial observation.
func (e *Env) Reset() []float64 {
	for i := range e.obs {
		e.obs[i] = e.rng.Float64()*0.1 - 0.05
	}
	e.steps = 0
	return e.Obs()
}

// Obs returns a copy of the current observation.
func (e *Env) Obs() []float64 {
	out := make([]float64, ObsSize)
	copy(out, e.obs[:])
	return out
}

// Step applies the action and returns the next observation, the reward, and
// whether the episode terminated.
func (e *Env) Step(action int) ([]float64, float64, bool) {
	force := pushForce
	if action == 0 {
		force = -pushForce
	}

	x, xDot, theta, thetaDot := e.obs[0], e.obs[1], e.obs[2], e.obs[3]
	cosTheta := math.Cos(theta)
	sinTheta := math.Sin(theta)

	totalMass := cartMass + poleMass
	poleMassLength := poleMass * poleHalfLength

	temp := (force + poleMassLength*thetaDot*thetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) /
		(poleHalfLength * (4.0/3.0 - poleMass*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	e.obs[0] = x + timeStep*xDot
	e.obs[1] = xDot + timeStep*xAcc
	e.obs[2] = theta + timeStep*thetaDot
	e.obs[3] = thetaDot + timeStep*thetaAcc
	e.steps++

	fell := e.obs[0] < -positionLimit || e.obs[0] > positionLimit ||
		e.obs[2] < -angleLimit || e.obs[2] > angleLimit
	done := fell || e.steps >= episodeCap

	reward := 1.0
	if fell {
		reward = 0.0
	}
	return e.Obs(), reward, done
}
