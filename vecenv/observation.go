package vecenv

import (
	"fmt"
	"slices"
	"github.com/sw965/crowd/blas32/tensor/2d"
)

// VectorObservation is what one player slot sees across every world for one
// step. Active[w] reports whether the slot had an agent in world w; rows of
// inactive worlds hold stale values and must be masked out.
//
// VectorObservationは、ある1ステップにおける1プレイヤー分の全ワールドの観測です。
type VectorObservation struct {
	Active     []bool
	Obs        tensor2d.Dense[float32]
	State      tensor2d.Dense[float32]
	ActionMask tensor2d.Dense[bool]
}

// NewVectorObservation copies active and obs into a new observation.
func NewVectorObservation(active []bool, obs tensor2d.Dense[float32]) VectorObservation {
	return VectorObservation{
		Active: slices.Clone(active),
		Obs:    obs.Clone(),
	}
}

func (o VectorObservation) WithState(state tensor2d.Dense[float32]) VectorObservation {
	o.State = state.Clone()
	return o
}

func (o VectorObservation) WithActionMask(mask tensor2d.Dense[bool]) VectorObservation {
	o.ActionMask = mask.Clone()
	return o
}

func (o VectorObservation) NumWorlds() int {
	return len(o.Active)
}

func (o VectorObservation) HasState() bool {
	return !o.State.IsEmpty()
}

func (o VectorObservation) HasActionMask() bool {
	return !o.ActionMask.IsEmpty()
}

func (o VectorObservation) Validate() error {
	n := len(o.Active)
	if o.Obs.Rows != n {
		return fmt.Errorf("obs has %d rows but active mask covers %d worlds", o.Obs.Rows, n)
	}
	if o.HasState() && o.State.Rows != n {
		return fmt.Errorf("state has %d rows but active mask covers %d worlds", o.State.Rows, n)
	}
	if o.HasActionMask() && o.ActionMask.Rows != n {
		return fmt.Errorf("action mask has %d rows but active mask covers %d worlds", o.ActionMask.Rows, n)
	}
	return nil
}
