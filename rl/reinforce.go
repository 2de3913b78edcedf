package rl

import (
	"fmt"
	"slices"
)

// Experience is one decision of one agent in one world.
type Experience struct {
	Observation []float32
	ActionIndex int
	// Probs is the policy the action was drawn from.
	Probs  []float32
	Reward float32
}

type Experiences []Experience

// Returns computes the discounted return G_t = r_t + discount * G_{t+1} of
// every step.
func (es Experiences) Returns(discount float32) []float32 {
	gs := make([]float32, len(es))
	var g float32
	for i := len(es) - 1; i >= 0; i-- {
		g = es[i].Reward + discount*g
		gs[i] = g
	}
	return gs
}

func (es Experiences) TotalReward() float32 {
	var sum float32
	for _, e := range es {
		sum += e.Reward
	}
	return sum
}

// LogProbGrad returns d log pi(a) / d logits for a softmax policy:
// onehot(a) - probs.
func (e Experience) LogProbGrad() ([]float32, error) {
	if e.ActionIndex < 0 || e.ActionIndex >= len(e.Probs) {
		return nil, fmt.Errorf("action index %d not in [0, %d)", e.ActionIndex, len(e.Probs))
	}
	grad := slices.Clone(e.Probs)
	for i := range grad {
		grad[i] = -grad[i]
	}
	grad[e.ActionIndex] += 1.0
	return grad, nil
}
