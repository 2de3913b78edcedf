// Package flat adapts a simulator that reports agents as flat, arbitrarily
// ordered records into a vecenv.Backend with dense per-player tensors.
package flat

import (
	"fmt"
	"slices"
	"github.com/sirupsen/logrus"
	"github.com/sw965/crowd/blas32/tensor/2d"
	"github.com/sw965/crowd/blas32/tensor/3d"
	"github.com/sw965/crowd/remap"
	"github.com/sw965/crowd/vecenv"
)

// Sim is a batched simulator that exposes its state as flat record buffers.
//
// After Reset or Step the record buffers hold K records, one per (world,
// agent) pair the simulator chose to report, in any order. Every record
// accessor returns K rows of its payload width. ActionTensor is written by
// the caller before Step, one row per record of the current ordering.
// DoneTensor is dense and indexed by world.
//
// Buffers may be reused by the next Step or Reset.
type Sim interface {
	NumWorlds() int
	NumPlayers() int
	ObservationSize() int
	// StateSize is 0 when the simulator has no agent state.
	StateSize() int
	NumActions() int
	ActionDim() int

	Reset() error
	Step() error
	Close() error

	WorldIDTensor() []int32
	AgentIDTensor() []int32
	ActiveAgentTensor() []bool
	ObservationTensor() []float32
	AgentStateTensor() []float32
	ActionMaskTensor() []bool
	RewardTensor() []float32
	ActionTensor() []int32
	DoneTensor() []bool
}

// InfoSource is implemented by simulators that report per-world info.
type InfoSource interface {
	Infos() []vecenv.Info
}

// Backend keeps one dense buffer per payload, sized at construction and
// written in place by scatter. Cells that get no record keep their last
// value; the active buffer tells which ones are current.
type Backend struct {
	sim    Sim
	logger logrus.FieldLogger

	active  tensor3d.General[bool]
	obs     tensor3d.General[float32]
	state   tensor3d.General[float32]
	mask    tensor3d.General[bool]
	rewards tensor3d.General[float32]
	closed  bool
}

func New(sim Sim, logger logrus.FieldLogger) (*Backend, error) {
	if sim == nil {
		return nil, fmt.Errorf("%w: sim must not be nil", vecenv.ErrConfiguration)
	}
	players, worlds := sim.NumPlayers(), sim.NumWorlds()
	if players < 1 || worlds < 1 {
		return nil, fmt.Errorf("%w: sim reports %d players and %d worlds", vecenv.ErrConfiguration, players, worlds)
	}
	if sim.ActionDim() < 1 {
		return nil, fmt.Errorf("%w: sim action dim %d", vecenv.ErrConfiguration, sim.ActionDim())
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	b := &Backend{
		sim:     sim,
		logger:  logger.WithField("component", "flat"),
		active:  tensor3d.NewZeros[bool](players, worlds, 1),
		obs:     tensor3d.NewZeros[float32](players, worlds, sim.ObservationSize()),
		mask:    tensor3d.NewZeros[bool](players, worlds, sim.NumActions()),
		rewards: tensor3d.NewZeros[float32](players, worlds, 1),
	}
	if sim.StateSize() > 0 {
		b.state = tensor3d.NewZeros[float32](players, worlds, sim.StateSize())
	}
	return b, nil
}

func (b *Backend) NumWorlds() int {
	return b.sim.NumWorlds()
}

func (b *Backend) NumPlayers() int {
	return b.sim.NumPlayers()
}

func (b *Backend) ActionDim() int {
	return b.sim.ActionDim()
}

// index reads the record addresses the simulator reports right now. They
// are not assumed stable from one step to the next.
func (b *Backend) index() (remap.Index, error) {
	ix := remap.Index{
		WorldIDs: b.sim.WorldIDTensor(),
		AgentIDs: b.sim.AgentIDTensor(),
	}
	if err := ix.Validate(b.NumPlayers(), b.NumWorlds()); err != nil {
		return remap.Index{}, err
	}
	return ix, nil
}

func (b *Backend) scatter() (remap.Index, error) {
	ix, err := b.index()
	if err != nil {
		return remap.Index{}, err
	}
	if err := remap.Scatter(b.active, ix, b.sim.ActiveAgentTensor()); err != nil {
		return remap.Index{}, fmt.Errorf("active: %w", err)
	}
	if err := remap.Scatter(b.obs, ix, b.sim.ObservationTensor()); err != nil {
		return remap.Index{}, fmt.Errorf("observation: %w", err)
	}
	if b.sim.StateSize() > 0 {
		if err := remap.Scatter(b.state, ix, b.sim.AgentStateTensor()); err != nil {
			return remap.Index{}, fmt.Errorf("agent state: %w", err)
		}
	}
	if err := remap.Scatter(b.mask, ix, b.sim.ActionMaskTensor()); err != nil {
		return remap.Index{}, fmt.Errorf("action mask: %w", err)
	}
	if err := remap.Scatter(b.rewards, ix, b.sim.RewardTensor()); err != nil {
		return remap.Index{}, fmt.Errorf("reward: %w", err)
	}
	return ix, nil
}

func (b *Backend) Reset() ([]vecenv.VectorObservation, error) {
	if b.closed {
		return nil, fmt.Errorf("%w: reset after close", vecenv.ErrState)
	}
	if err := b.sim.Reset(); err != nil {
		return nil, err
	}
	ix, err := b.scatter()
	if err != nil {
		return nil, err
	}
	b.logger.WithField("records", ix.Len()).Debug("reset")
	return b.observations(), nil
}

// Step writes actions into the simulator's flat action buffer in the order
// of its current records, advances every world and scatters the result.
func (b *Backend) Step(actions tensor3d.General[int32]) (vecenv.Transition, error) {
	if b.closed {
		return vecenv.Transition{}, fmt.Errorf("%w: step after close", vecenv.ErrState)
	}
	if actions.Channels != b.NumPlayers() || actions.Rows != b.NumWorlds() || actions.Cols != b.ActionDim() {
		return vecenv.Transition{}, fmt.Errorf("actions shape [%d, %d, %d], want [%d, %d, %d]",
			actions.Channels, actions.Rows, actions.Cols, b.NumPlayers(), b.NumWorlds(), b.ActionDim())
	}

	ix, err := b.scatter()
	if err != nil {
		return vecenv.Transition{}, err
	}
	if err := remap.Gather(b.sim.ActionTensor(), actions, ix); err != nil {
		return vecenv.Transition{}, fmt.Errorf("action: %w", err)
	}

	if err := b.sim.Step(); err != nil {
		return vecenv.Transition{}, err
	}
	if _, err := b.scatter(); err != nil {
		return vecenv.Transition{}, err
	}

	done := slices.Clone(b.sim.DoneTensor())
	if len(done) != b.NumWorlds() {
		return vecenv.Transition{}, fmt.Errorf("sim reported %d done flags, want %d", len(done), b.NumWorlds())
	}

	return vecenv.Transition{
		Observations: b.observations(),
		Rewards:      b.rewardMatrix(),
		Done:         done,
		Info:         b.infos(),
	}, nil
}

// observations copies every player's channel out of the dense buffers.
func (b *Backend) observations() []vecenv.VectorObservation {
	obs := make([]vecenv.VectorObservation, b.NumPlayers())
	for p := range obs {
		o := vecenv.VectorObservation{
			Active:     b.active.Channel(p).Data,
			Obs:        b.obs.Channel(p),
			ActionMask: b.mask.Channel(p),
		}
		if b.sim.StateSize() > 0 {
			o.State = b.state.Channel(p)
		}
		obs[p] = o
	}
	return obs
}

func (b *Backend) rewardMatrix() tensor2d.Dense[float32] {
	return tensor2d.Dense[float32]{
		Rows:   b.NumPlayers(),
		Cols:   b.NumWorlds(),
		Stride: b.NumWorlds(),
		Data:   slices.Clone(b.rewards.Data),
	}
}

func (b *Backend) infos() []vecenv.Info {
	if src, ok := b.sim.(InfoSource); ok {
		if infos := src.Infos(); len(infos) == b.NumWorlds() {
			return infos
		}
	}
	infos := make([]vecenv.Info, b.NumWorlds())
	for w := range infos {
		infos[w] = vecenv.Info{}
	}
	return infos
}

func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.sim.Close()
}

var _ vecenv.Backend = (*Backend)(nil)
