// Package vecenv drives a batched multi-agent backend through a single
// agent reset/step interface. One player slot, the ego, is exposed to the
// caller; every other slot is played by a partner drawn from a Registry.
package vecenv

import (
	"fmt"
	"math/rand/v2"
	"github.com/sirupsen/logrus"
	"github.com/sw965/crowd/blas32/tensor/2d"
	"github.com/sw965/crowd/blas32/tensor/3d"
)

type Config struct {
	EgoIndex       int
	NumPlayers     int
	ResamplePolicy ResamplePolicy
	// Partners holds one candidate list per non-ego slot in ascending slot
	// order. Nil leaves every slot empty for AddPartner.
	Partners [][]Partner
	Rand     *rand.Rand
	Logger   logrus.FieldLogger
}

// Validate checks everything that does not need the backend, so a bad
// config is rejected before any simulator is built.
func (c Config) Validate() error {
	if c.NumPlayers < 1 {
		return fmt.Errorf("%w: need at least 1 player, got %d", ErrConfiguration, c.NumPlayers)
	}
	if c.EgoIndex < 0 || c.EgoIndex >= c.NumPlayers {
		return fmt.Errorf("%w: ego index %d not in [0, %d)", ErrConfiguration, c.EgoIndex, c.NumPlayers)
	}
	if _, err := c.ResamplePolicy.Resolve(c.NumPlayers); err != nil {
		return err
	}
	if c.Partners != nil {
		if len(c.Partners) != c.NumPlayers-1 {
			return fmt.Errorf("%w: %d partner lists given for %d non-ego players", ErrConfiguration, len(c.Partners), c.NumPlayers-1)
		}
		if err := checkCandidates(c.Partners); err != nil {
			return err
		}
	}
	return nil
}

// Env is a VectorMultiAgentEnv: the ego's view of a batched backend.
type Env struct {
	backend  Backend
	egoIndex int
	registry *Registry
	logger   logrus.FieldLogger

	obs     []VectorObservation
	actions tensor3d.General[int32]
	closed  bool
}

func New(backend Backend, cfg Config) (*Env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: backend must not be nil", ErrConfiguration)
	}
	if backend.NumPlayers() != cfg.NumPlayers {
		return nil, fmt.Errorf("%w: backend has %d players, config declares %d", ErrConfiguration, backend.NumPlayers(), cfg.NumPlayers)
	}

	registry, err := NewRegistry(cfg.EgoIndex, cfg.NumPlayers, cfg.Partners, cfg.ResamplePolicy, cfg.Rand)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Env{
		backend:  backend,
		egoIndex: cfg.EgoIndex,
		registry: registry,
		logger:   logger.WithField("component", "vecenv"),
		actions:  tensor3d.NewZeros[int32](backend.NumPlayers(), backend.NumWorlds(), backend.ActionDim()),
	}, nil
}

func (e *Env) NumWorlds() int {
	return e.backend.NumWorlds()
}

func (e *Env) NumPlayers() int {
	return e.backend.NumPlayers()
}

func (e *Env) EgoIndex() int {
	return e.egoIndex
}

func (e *Env) Registry() *Registry {
	return e.registry
}

// AddPartner adds p as a candidate for playerNum. When a slot has several
// candidates the resample policy picks one at the start of every episode.
func (e *Env) AddPartner(p Partner, playerNum int) error {
	return e.registry.Add(p, playerNum)
}

func (e *Env) SetPartnerID(id, playerNum int) error {
	return e.registry.SetPartnerID(id, playerNum)
}

func (e *Env) PartnerID(playerNum int) (int, error) {
	return e.registry.PartnerID(playerNum)
}

// Reset resamples the partners, resets the backend and returns the ego's
// first observation.
func (e *Env) Reset() (VectorObservation, error) {
	if e.closed {
		return VectorObservation{}, fmt.Errorf("%w: reset after close", ErrState)
	}
	if err := e.registry.Resample(); err != nil {
		return VectorObservation{}, err
	}
	e.logger.WithField("partner_ids", e.registry.IDs()).Debug("resampled partners")

	obs, err := e.backend.Reset()
	if err != nil {
		return VectorObservation{}, err
	}
	if err := e.checkObservations(obs); err != nil {
		return VectorObservation{}, err
	}
	e.obs = obs
	return e.obs[e.egoIndex], nil
}

// Step plays one batched timestep. action is the ego's [worlds, action dim]
// action; every partner acts on its cached observation first, then the
// backend advances all worlds at once and every partner sees its reward.
//
// The returned reward is the ego's per-world reward and done is per world.
func (e *Env) Step(action tensor2d.Dense[int32]) (VectorObservation, []float32, []bool, []Info, error) {
	if e.closed {
		return VectorObservation{}, nil, nil, nil, fmt.Errorf("%w: step after close", ErrState)
	}
	if e.obs == nil {
		return VectorObservation{}, nil, nil, nil, fmt.Errorf("%w: step before reset", ErrState)
	}

	acts, err := e.collectActions(action)
	if err != nil {
		return VectorObservation{}, nil, nil, nil, err
	}

	tr, err := e.backend.Step(acts)
	if err != nil {
		return VectorObservation{}, nil, nil, nil, err
	}
	if err := e.checkObservations(tr.Observations); err != nil {
		return VectorObservation{}, nil, nil, nil, err
	}
	e.obs = tr.Observations

	if err := e.updatePartners(tr.Rewards, tr.Done); err != nil {
		return VectorObservation{}, nil, nil, nil, err
	}

	ego := e.obs[e.egoIndex]
	reward := append([]float32(nil), tr.Rewards.Row(e.egoIndex)...)
	return ego, reward, tr.Done, tr.Info, nil
}

func (e *Env) collectActions(ego tensor2d.Dense[int32]) (tensor3d.General[int32], error) {
	for player := 0; player < e.actions.Channels; player++ {
		var act tensor2d.Dense[int32]
		if player == e.egoIndex {
			act = ego
		} else {
			partnerNum, err := e.registry.PartnerNum(player)
			if err != nil {
				return tensor3d.General[int32]{}, err
			}
			partner, err := e.registry.current(partnerNum)
			if err != nil {
				return tensor3d.General[int32]{}, err
			}
			act, err = partner.Action(e.obs[player])
			if err != nil {
				return tensor3d.General[int32]{}, fmt.Errorf("player %d action: %w", player, err)
			}
		}
		if err := e.actions.SetChannel(player, act); err != nil {
			return tensor3d.General[int32]{}, fmt.Errorf("player %d action: %w", player, err)
		}
	}
	return e.actions, nil
}

func (e *Env) updatePartners(rewards tensor2d.Dense[float32], done []bool) error {
	if rewards.Rows != e.NumPlayers() {
		return fmt.Errorf("backend returned rewards for %d players, want %d", rewards.Rows, e.NumPlayers())
	}
	for i := 0; i < e.NumPlayers()-1; i++ {
		player := e.registry.PlayerNum(i)
		partner, err := e.registry.current(i)
		if err != nil {
			return err
		}
		if err := partner.Update(rewards.Row(player), done); err != nil {
			return fmt.Errorf("player %d update: %w", player, err)
		}
	}
	return nil
}

func (e *Env) checkObservations(obs []VectorObservation) error {
	if len(obs) != e.NumPlayers() {
		return fmt.Errorf("backend returned %d observations, want %d", len(obs), e.NumPlayers())
	}
	return nil
}

// Close releases the backend. Calling it again does nothing.
func (e *Env) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.backend.Close()
}
