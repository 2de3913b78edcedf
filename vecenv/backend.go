package vecenv

import (
	"github.com/sw965/crowd/blas32/tensor/2d"
	"github.com/sw965/crowd/blas32/tensor/3d"
)

type Info map[string]any

// Transition is the result of one batched backend step.
type Transition struct {
	// Observations holds one entry per player slot.
	Observations []VectorObservation
	// Rewards is [players, worlds].
	Rewards tensor2d.Dense[float32]
	// Done is per world. Termination is shared by every player of a world.
	Done []bool
	Info []Info
}

// Backend is the simulator boundary. Step and Reset always cover every world
// and every player slot and block until the whole batch has moved.
//
// Anything a backend returns may be overwritten by its next call unless the
// backend documents otherwise; callers copy what they keep.
type Backend interface {
	NumWorlds() int
	NumPlayers() int
	ActionDim() int
	// Step consumes a [players, worlds, ActionDim()] action tensor.
	Step(actions tensor3d.General[int32]) (Transition, error)
	Reset() ([]VectorObservation, error)
	Close() error
}
