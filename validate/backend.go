package validate

import (
	"github.com/sw965/crowd/blas32/tensor/3d"
	"github.com/sw965/crowd/vecenv"
)

// Backend checks every Reset and Step of the wrapped backend against a
// Context. It can be handed to vecenv.New in place of the backend it wraps.
type Backend struct {
	vecenv.Backend
	ctx        *Context
	mismatches int
}

func Wrap(b vecenv.Backend, ctx *Context) *Backend {
	return &Backend{Backend: b, ctx: ctx}
}

// Mismatches returns how many mismatching cells were seen so far.
func (b *Backend) Mismatches() int {
	return b.mismatches
}

func (b *Backend) Reset() ([]vecenv.VectorObservation, error) {
	obs, err := b.Backend.Reset()
	if err != nil {
		return nil, err
	}
	if _, err := b.ctx.Init(); err != nil {
		return nil, err
	}
	r, err := b.ctx.CheckReset(obs)
	b.mismatches += len(r.Mismatches)
	if err != nil {
		return nil, err
	}
	return obs, nil
}

func (b *Backend) Step(actions tensor3d.General[int32]) (vecenv.Transition, error) {
	tr, err := b.Backend.Step(actions)
	if err != nil {
		return vecenv.Transition{}, err
	}
	r, err := b.ctx.Check(actions, tr)
	b.mismatches += len(r.Mismatches)
	if err != nil {
		return vecenv.Transition{}, err
	}
	return tr, nil
}
