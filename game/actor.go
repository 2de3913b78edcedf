package game

import (
	"fmt"
	"github.com/sw965/omw/mathx"
	"github.com/sw965/omw/mathx/randx"
	"github.com/sw965/omw/slicesx"
	"maps"
	"math/rand/v2"
	"slices"
)

// Policy maps every legal move to its selection weight.
type Policy[M comparable] map[M]float32

// NewPolicy pairs moves with probs, skipping moves whose legal flag is false.
// legal may be nil, meaning every move is legal.
func NewPolicy[M comparable](moves []M, probs []float32, legal []bool) (Policy[M], error) {
	if len(moves) != len(probs) {
		return nil, fmt.Errorf("got %d moves but %d probabilities", len(moves), len(probs))
	}
	if legal != nil && len(legal) != len(moves) {
		return nil, fmt.Errorf("got %d moves but %d legal flags", len(moves), len(legal))
	}

	p := make(Policy[M], len(moves))
	for i, m := range moves {
		if legal != nil && !legal[i] {
			continue
		}
		p[m] = probs[i]
	}
	if len(p) == 0 {
		return nil, fmt.Errorf("no legal moves")
	}
	return p, nil
}

func (p Policy[M]) ValidateForLegalMoves(legalMoves []M, checkUnique bool) error {
	if checkUnique {
		if !slicesx.IsUnique(legalMoves) {
			return fmt.Errorf("legalMoves contains duplicates")
		}
	}

	if len(legalMoves) == 0 {
		return fmt.Errorf("legalMoves must not be empty")
	}

	if len(p) != len(legalMoves) {
		return fmt.Errorf("policy size (%d) does not match legal moves count (%d)", len(p), len(legalMoves))
	}

	var sum float32
	for _, m := range legalMoves {
		v, ok := p[m]
		if !ok {
			return fmt.Errorf("policy is missing probability for move: %v", m)
		}

		if v < 0 || mathx.IsNaN(v) || mathx.IsInf(v, 0) {
			return fmt.Errorf("invalid probability value %f for move: %v", v, m)
		}
		sum += v
	}

	if sum == 0 {
		return fmt.Errorf("sum of policy probabilities is zero")
	}
	return nil
}

// SelectFunc draws a move from policy on behalf of agent.
type SelectFunc[M, A comparable] func(Policy[M], A, *rand.Rand) (M, error)

// MaxSelectFunc picks the most probable move, breaking ties at random.
func MaxSelectFunc[M, A comparable](policy Policy[M], agent A, rng *rand.Rand) (M, error) {
	if len(policy) == 0 {
		var zero M
		return zero, fmt.Errorf("agent %v has an empty policy", agent)
	}

	keys := slices.Collect(maps.Keys(policy))
	max := policy[keys[0]]
	moves := []M{keys[0]}

	for _, k := range keys[1:] {
		v := policy[k]
		switch {
		case v > max:
			max = v
			moves = []M{k}
		case v == max:
			moves = append(moves, k)
		}
	}

	move, err := randx.Choice(moves, rng)
	if err != nil {
		var zero M
		return zero, err
	}
	return move, nil
}

// WeightedRandomSelectFunc draws a move with probability proportional to its
// weight.
func WeightedRandomSelectFunc[M, A comparable](policy Policy[M], agent A, rng *rand.Rand) (M, error) {
	if len(policy) == 0 {
		var zero M
		return zero, fmt.Errorf("agent %v has an empty policy", agent)
	}

	n := len(policy)
	moves := make([]M, 0, n)
	ws := make([]float32, 0, n)
	for m, p := range policy {
		moves = append(moves, m)
		ws = append(ws, p)
	}

	idx, err := randx.IntByWeights(ws, rng)
	if err != nil {
		var zero M
		return zero, err
	}
	return moves[idx], nil
}

type ActorCriticName string
