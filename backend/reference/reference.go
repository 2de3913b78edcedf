// Package reference batches independent single-world environments into a
// vecenv.Backend. It steps worlds one after another and is meant as a slow,
// easy to audit twin of a batched simulator.
package reference

import (
	"fmt"
	"slices"
	"github.com/sw965/crowd/blas32/tensor/2d"
	"github.com/sw965/crowd/blas32/tensor/3d"
	"github.com/sw965/crowd/vecenv"
)

// Frame is what every player of one world sees. Rows are players.
type Frame struct {
	Active     []bool
	Obs        tensor2d.Dense[float32]
	State      tensor2d.Dense[float32]
	ActionMask tensor2d.Dense[bool]
}

// Env is a single world with every player slot. Step takes one discrete
// action per player and returns the rewards of every player. Players that
// are not active ignore their action and get zero.
type Env interface {
	NumPlayers() int
	ObservationSize() int
	StateSize() int
	NumActions() int
	Reset() (Frame, error)
	Step(actions []int32) (Frame, []float32, bool, error)
}

const (
	InfoEpisodeLength = "episode_length"
	InfoEpisodeReturn = "episode_return"
)

// Backend steps every Env in turn and resets a world as soon as its episode
// ends, so the observation returned for a finished world is the first one of
// its next episode.
type Backend struct {
	envs       []Env
	numPlayers int
	obsSize    int
	stateSize  int
	numActions int

	frames  []Frame
	lengths []int
	returns [][]float32
	closed  bool
}

func New(envs []Env) (*Backend, error) {
	if len(envs) == 0 {
		return nil, fmt.Errorf("reference backend needs at least one env")
	}
	first := envs[0]
	for w, env := range envs[1:] {
		if env.NumPlayers() != first.NumPlayers() ||
			env.ObservationSize() != first.ObservationSize() ||
			env.StateSize() != first.StateSize() ||
			env.NumActions() != first.NumActions() {
			return nil, fmt.Errorf("env %d does not match the shape of env 0", w+1)
		}
	}

	returns := make([][]float32, len(envs))
	for w := range returns {
		returns[w] = make([]float32, first.NumPlayers())
	}
	return &Backend{
		envs:       slices.Clone(envs),
		numPlayers: first.NumPlayers(),
		obsSize:    first.ObservationSize(),
		stateSize:  first.StateSize(),
		numActions: first.NumActions(),
		frames:     make([]Frame, len(envs)),
		lengths:    make([]int, len(envs)),
		returns:    returns,
	}, nil
}

func (b *Backend) NumWorlds() int {
	return len(b.envs)
}

func (b *Backend) NumPlayers() int {
	return b.numPlayers
}

func (b *Backend) ActionDim() int {
	return 1
}

// Frames returns the current frame of every world.
func (b *Backend) Frames() []Frame {
	return slices.Clone(b.frames)
}

func (b *Backend) Reset() ([]vecenv.VectorObservation, error) {
	if b.closed {
		return nil, fmt.Errorf("%w: reset after close", vecenv.ErrState)
	}
	for w, env := range b.envs {
		frame, err := env.Reset()
		if err != nil {
			return nil, fmt.Errorf("world %d reset: %w", w, err)
		}
		if err := b.checkFrame(frame); err != nil {
			return nil, fmt.Errorf("world %d reset: %w", w, err)
		}
		b.frames[w] = frame
		b.lengths[w] = 0
		clear(b.returns[w])
	}
	return b.observations(), nil
}

func (b *Backend) Step(actions tensor3d.General[int32]) (vecenv.Transition, error) {
	if b.closed {
		return vecenv.Transition{}, fmt.Errorf("%w: step after close", vecenv.ErrState)
	}
	if actions.Channels != b.numPlayers || actions.Rows != len(b.envs) || actions.Cols != 1 {
		return vecenv.Transition{}, fmt.Errorf("actions shape [%d, %d, %d], want [%d, %d, 1]",
			actions.Channels, actions.Rows, actions.Cols, b.numPlayers, len(b.envs))
	}

	// [worlds, players], transposed into the [players, worlds] reward layout
	rewards := tensor2d.NewZeros[float32](len(b.envs), b.numPlayers)
	done := make([]bool, len(b.envs))
	infos := make([]vecenv.Info, len(b.envs))
	acts := make([]int32, b.numPlayers)

	for w, env := range b.envs {
		for p := range acts {
			acts[p] = actions.Row(p, w)[0]
		}
		frame, rs, end, err := env.Step(acts)
		if err != nil {
			return vecenv.Transition{}, fmt.Errorf("world %d step: %w", w, err)
		}
		if len(rs) != b.numPlayers {
			return vecenv.Transition{}, fmt.Errorf("world %d returned %d rewards, want %d", w, len(rs), b.numPlayers)
		}
		copy(rewards.Row(w), rs)
		b.lengths[w]++
		for p, r := range rs {
			b.returns[w][p] += r
		}

		infos[w] = vecenv.Info{}
		if end {
			done[w] = true
			infos[w][InfoEpisodeLength] = b.lengths[w]
			infos[w][InfoEpisodeReturn] = slices.Clone(b.returns[w])
			b.lengths[w] = 0
			clear(b.returns[w])

			frame, err = env.Reset()
			if err != nil {
				return vecenv.Transition{}, fmt.Errorf("world %d reset: %w", w, err)
			}
		}
		if err := b.checkFrame(frame); err != nil {
			return vecenv.Transition{}, fmt.Errorf("world %d: %w", w, err)
		}
		b.frames[w] = frame
	}

	return vecenv.Transition{
		Observations: b.observations(),
		Rewards:      rewards.Transpose(),
		Done:         done,
		Info:         infos,
	}, nil
}

func (b *Backend) checkFrame(f Frame) error {
	if len(f.Active) != b.numPlayers {
		return fmt.Errorf("frame covers %d players, want %d", len(f.Active), b.numPlayers)
	}
	if f.Obs.Rows != b.numPlayers || f.Obs.Cols != b.obsSize {
		return fmt.Errorf("frame obs is [%d, %d], want [%d, %d]", f.Obs.Rows, f.Obs.Cols, b.numPlayers, b.obsSize)
	}
	if b.stateSize > 0 && (f.State.Rows != b.numPlayers || f.State.Cols != b.stateSize) {
		return fmt.Errorf("frame state is [%d, %d], want [%d, %d]", f.State.Rows, f.State.Cols, b.numPlayers, b.stateSize)
	}
	if !f.ActionMask.IsEmpty() && (f.ActionMask.Rows != b.numPlayers || f.ActionMask.Cols != b.numActions) {
		return fmt.Errorf("frame action mask is [%d, %d], want [%d, %d]", f.ActionMask.Rows, f.ActionMask.Cols, b.numPlayers, b.numActions)
	}
	return nil
}

// observations regroups the per-world frames into one VectorObservation per
// player.
func (b *Backend) observations() []vecenv.VectorObservation {
	n := len(b.envs)
	hasMask := !b.frames[0].ActionMask.IsEmpty()
	obs := make([]vecenv.VectorObservation, b.numPlayers)
	for p := range obs {
		o := vecenv.VectorObservation{
			Active: make([]bool, n),
			Obs:    tensor2d.NewZeros[float32](n, b.obsSize),
		}
		if b.stateSize > 0 {
			o.State = tensor2d.NewZeros[float32](n, b.stateSize)
		}
		if hasMask {
			o.ActionMask = tensor2d.NewZeros[bool](n, b.numActions)
		}
		for w, f := range b.frames {
			o.Active[w] = f.Active[p]
			copy(o.Obs.Row(w), f.Obs.Row(p))
			if b.stateSize > 0 {
				copy(o.State.Row(w), f.State.Row(p))
			}
			if hasMask && !f.ActionMask.IsEmpty() {
				copy(o.ActionMask.Row(w), f.ActionMask.Row(p))
			}
		}
		obs[p] = o
	}
	return obs
}

func (b *Backend) Close() error {
	b.closed = true
	return nil
}

var _ vecenv.Backend = (*Backend)(nil)
