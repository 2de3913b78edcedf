package rendezvous

import (
	"fmt"
	"github.com/sw965/crowd/backend/reference"
	"github.com/sw965/crowd/blas32/tensor/2d"
	"github.com/sw965/crowd/game/simultaneous"
)

// Env is one world of the game played through reference.Env.
//
// Envは、reference.Envとして遊ぶゲームの1ワールドです。
type Env struct {
	cfg     Config
	engine  simultaneous.Engine[State, Move, int]
	seed    uint64
	world   int
	episode uint64
	state   State
	started bool
}

// NewEnv returns world number world of a run seeded with seed. A Sim built
// with the same seed starts its world of the same number from the same cells.
func NewEnv(cfg Config, seed uint64, world int) (*Env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Env{
		cfg:    cfg,
		engine: cfg.NewEngine(),
		seed:   seed,
		world:  world,
	}, nil
}

func (e *Env) NumPlayers() int { return e.cfg.NumPlayers }
func (e *Env) ObservationSize() int { return e.cfg.ObservationSize() }
func (e *Env) StateSize() int { return e.cfg.StateSize() }
func (e *Env) NumActions() int { return NumMoves }

func (e *Env) State() State {
	return e.state.Clone()
}

// Reset starts the next episode.
func (e *Env) Reset() (reference.Frame, error) {
	e.state = e.cfg.NewInitState(NewRand(e.seed, e.world, e.episode))
	e.episode++
	e.started = true
	return e.frame(), nil
}

func (e *Env) Step(actions []int32) (reference.Frame, []float32, bool, error) {
	if !e.started {
		return reference.Frame{}, nil, false, fmt.Errorf("step before reset")
	}
	if len(actions) != e.cfg.NumPlayers {
		return reference.Frame{}, nil, false, fmt.Errorf("got %d actions, want %d", len(actions), e.cfg.NumPlayers)
	}

	next, rewardByAgent, end, err := e.engine.Step(e.state, e.cfg.JointMove(e.state, actions))
	if err != nil {
		return reference.Frame{}, nil, false, err
	}
	e.state = next

	rewards := make([]float32, e.cfg.NumPlayers)
	for agent, r := range rewardByAgent {
		rewards[agent] = r
	}
	return e.frame(), rewards, end, nil
}

func (e *Env) frame() reference.Frame {
	n := e.cfg.NumPlayers
	f := reference.Frame{
		Active:     make([]bool, n),
		Obs:        tensor2d.NewZeros[float32](n, e.cfg.ObservationSize()),
		State:      tensor2d.NewZeros[float32](n, e.cfg.StateSize()),
		ActionMask: tensor2d.NewZeros[bool](n, NumMoves),
	}
	for p := 0; p < n; p++ {
		f.Active[p] = !e.state.Arrived[p]
		e.cfg.Observe(e.state, p, f.Obs.Row(p))
		e.cfg.FillState(e.state, f.State.Row(p))
		e.cfg.FillActionMask(e.state, p, f.ActionMask.Row(p))
	}
	return f
}

var _ reference.Env = (*Env)(nil)
