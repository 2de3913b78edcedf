// Package agent provides partner policies for vecenv: fixed, scripted,
// uniformly random and a learned linear softmax policy.
package agent

import (
	"fmt"
	"math/rand/v2"
	"github.com/sw965/crowd/blas32/tensor/2d"
	"github.com/sw965/crowd/vecenv"
	"github.com/sw965/omw/mathx/randx"
)

// Fixed plays the same action in every world.
type Fixed struct {
	Move []int32
}

func NewFixed(move ...int32) *Fixed {
	return &Fixed{Move: move}
}

func (f *Fixed) Action(obs vecenv.VectorObservation) (tensor2d.Dense[int32], error) {
	if len(f.Move) == 0 {
		return tensor2d.Dense[int32]{}, fmt.Errorf("fixed partner has no move")
	}
	act := tensor2d.NewZeros[int32](obs.NumWorlds(), len(f.Move))
	for w := 0; w < act.Rows; w++ {
		copy(act.Row(w), f.Move)
	}
	return act, nil
}

func (f *Fixed) Update([]float32, []bool) error {
	return nil
}

// Func adapts a plain function into a partner that never learns.
type Func func(obs vecenv.VectorObservation) (tensor2d.Dense[int32], error)

func (f Func) Action(obs vecenv.VectorObservation) (tensor2d.Dense[int32], error) {
	return f(obs)
}

func (f Func) Update([]float32, []bool) error {
	return nil
}

// Random draws a legal action uniformly in every active world. Without an
// action mask every action in [0, NumActions) is legal.
type Random struct {
	NumActions int
	rng        *rand.Rand
}

func NewRandom(numActions int, rng *rand.Rand) *Random {
	if rng == nil {
		rng = randx.NewPCGFromGlobalSeed()
	}
	return &Random{NumActions: numActions, rng: rng}
}

func (r *Random) Action(obs vecenv.VectorObservation) (tensor2d.Dense[int32], error) {
	if r.NumActions <= 0 {
		return tensor2d.Dense[int32]{}, fmt.Errorf("random partner needs a positive action count, got %d", r.NumActions)
	}
	if obs.HasActionMask() && obs.ActionMask.Cols != r.NumActions {
		return tensor2d.Dense[int32]{}, fmt.Errorf("action mask has %d columns, want %d", obs.ActionMask.Cols, r.NumActions)
	}

	act := tensor2d.NewZeros[int32](obs.NumWorlds(), 1)
	legal := make([]int32, 0, r.NumActions)
	for w := 0; w < act.Rows; w++ {
		if !obs.Active[w] {
			continue
		}
		legal = legal[:0]
		for a := 0; a < r.NumActions; a++ {
			if !obs.HasActionMask() || obs.ActionMask.Row(w)[a] {
				legal = append(legal, int32(a))
			}
		}
		if len(legal) == 0 {
			return tensor2d.Dense[int32]{}, fmt.Errorf("world %d has no legal action", w)
		}
		a, err := randx.Choice(legal, r.rng)
		if err != nil {
			return tensor2d.Dense[int32]{}, err
		}
		act.Row(w)[0] = a
	}
	return act, nil
}

func (r *Random) Update([]float32, []bool) error {
	return nil
}

var (
	_ vecenv.Partner = (*Fixed)(nil)
	_ vecenv.Partner = Func(nil)
	_ vecenv.Partner = (*Random)(nil)
	_ vecenv.Partner = (*Softmax)(nil)
)
