// Package rendezvous is a small cooperative game: walkers on a line of cells
// try to reach a shared goal cell before the horizon runs out.
//
// rendezvousは、直線上の歩行者たちが制限時間内に共通のゴールを目指す協力ゲームです。
package rendezvous

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"github.com/sw965/crowd/game/simultaneous"
)

// Move is one walker's action for one step.
//
// Moveは、1ステップにおける歩行者1人の行動です。
type Move int32

const (
	Left Move = iota
	Right
	Stay
)

const NumMoves = 3

var Moves = []Move{Left, Right, Stay}

func (m Move) String() string {
	switch m {
	case Left:
		return "left"
	case Right:
		return "right"
	case Stay:
		return "stay"
	}
	return fmt.Sprintf("move(%d)", int32(m))
}

type Config struct {
	NumPlayers    int
	Size          int
	Goal          int
	Horizon       int
	ArrivalReward float32
	StepCost      float32
}

func DefaultConfig() Config {
	return Config{
		NumPlayers:    2,
		Size:          7,
		Goal:          3,
		Horizon:       16,
		ArrivalReward: 1.0,
		StepCost:      0.05,
	}
}

func (c Config) Validate() error {
	if c.NumPlayers < 1 {
		return fmt.Errorf("NumPlayers must be positive, got %d", c.NumPlayers)
	}
	if c.Size < 2 {
		return fmt.Errorf("Size must be at least 2, got %d", c.Size)
	}
	if c.Goal < 0 || c.Goal >= c.Size {
		return fmt.Errorf("Goal %d not in [0, %d)", c.Goal, c.Size)
	}
	if c.Horizon < 1 {
		return fmt.Errorf("Horizon must be positive, got %d", c.Horizon)
	}
	if c.StepCost < 0 {
		return fmt.Errorf("StepCost must not be negative, got %f", c.StepCost)
	}
	return nil
}

// State is one world of the game.
//
// Stateは、ゲーム1ワールド分の状態です。
type State struct {
	Positions []int
	Arrived   []bool
	Steps     int
}

func (s State) Clone() State {
	return State{
		Positions: slices.Clone(s.Positions),
		Arrived:   slices.Clone(s.Arrived),
		Steps:     s.Steps,
	}
}

// NewRand returns the generator that places the walkers of episode in world.
// Every implementation of the game seeds through it so that batched and
// single-world runs start from the same positions.
func NewRand(seed uint64, world int, episode uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(world)<<32|episode))
}

// NewInitState places every walker on a random cell other than the goal.
func (c Config) NewInitState(rng *rand.Rand) State {
	s := State{
		Positions: make([]int, c.NumPlayers),
		Arrived:   make([]bool, c.NumPlayers),
	}
	for i := range s.Positions {
		pos := rng.IntN(c.Size - 1)
		if pos >= c.Goal {
			pos++
		}
		s.Positions[i] = pos
	}
	return s
}

// LegalMoves returns the moves walker agent may take. A walker that has
// arrived has none.
func (c Config) LegalMoves(s State, agent int) []Move {
	if s.Arrived[agent] {
		return nil
	}
	moves := make([]Move, 0, NumMoves)
	pos := s.Positions[agent]
	if pos > 0 {
		moves = append(moves, Left)
	}
	if pos < c.Size-1 {
		moves = append(moves, Right)
	}
	return append(moves, Stay)
}

func (c Config) LegalMovesByAgent(s State) simultaneous.LegalMovesByAgent[Move, int] {
	legal := simultaneous.LegalMovesByAgent[Move, int]{}
	for agent := range s.Positions {
		if moves := c.LegalMoves(s, agent); len(moves) != 0 {
			legal[agent] = moves
		}
	}
	return legal
}

func (c Config) Move(s State, jointMove map[int]Move) (State, error) {
	next := s.Clone()
	for agent, m := range jointMove {
		if agent < 0 || agent >= c.NumPlayers {
			return State{}, fmt.Errorf("agent %d not in [0, %d)", agent, c.NumPlayers)
		}
		switch m {
		case Left:
			next.Positions[agent]--
		case Right:
			next.Positions[agent]++
		case Stay:
		default:
			return State{}, fmt.Errorf("agent %d: unknown %v", agent, m)
		}
		if next.Positions[agent] == c.Goal {
			next.Arrived[agent] = true
		}
	}
	next.Steps++
	return next, nil
}

// Reward charges StepCost to every walker that moved and pays ArrivalReward
// to those that reached the goal on this step.
func (c Config) Reward(prev, next State, jointMove map[int]Move) simultaneous.RewardByAgent[int] {
	rewards := make(simultaneous.RewardByAgent[int], len(jointMove))
	for agent := range jointMove {
		r := -c.StepCost
		if next.Arrived[agent] && !prev.Arrived[agent] {
			r += c.ArrivalReward
		}
		rewards[agent] = r
	}
	return rewards
}

func (c Config) IsEnd(s State) bool {
	if s.Steps >= c.Horizon {
		return true
	}
	for _, arrived := range s.Arrived {
		if !arrived {
			return false
		}
	}
	return true
}

func (c Config) NewEngine() simultaneous.Engine[State, Move, int] {
	agents := make([]int, c.NumPlayers)
	for i := range agents {
		agents[i] = i
	}
	return simultaneous.Engine[State, Move, int]{
		Logic: simultaneous.Logic[State, Move, int]{
			LegalMovesByAgentFunc: c.LegalMovesByAgent,
			MoveFunc:              c.Move,
		},
		RewardByAgentFunc: c.Reward,
		IsEndFunc:         c.IsEnd,
		Agents:            agents,
	}
}

// JointMove turns raw actions into a joint move for the walkers still in
// play. Actions that are out of range or illegal become Stay.
func (c Config) JointMove(s State, actions []int32) map[int]Move {
	jointMove := make(map[int]Move, len(actions))
	for agent, a := range actions {
		legal := c.LegalMoves(s, agent)
		if len(legal) == 0 {
			continue
		}
		m := Move(a)
		if !slices.Contains(legal, m) {
			m = Stay
		}
		jointMove[agent] = m
	}
	return jointMove
}

func (c Config) ObservationSize() int {
	return 3
}

// Observe writes the walker's own view: its position, its signed distance to
// the goal and the elapsed fraction of the horizon.
func (c Config) Observe(s State, agent int, dst []float32) {
	scale := float32(c.Size - 1)
	pos := s.Positions[agent]
	dst[0] = float32(pos) / scale
	dst[1] = float32(c.Goal-pos) / scale
	dst[2] = float32(s.Steps) / float32(c.Horizon)
}

func (c Config) StateSize() int {
	return 2 * c.NumPlayers
}

// FillState writes the global state seen by every walker: each walker's
// position followed by its arrival flag.
func (c Config) FillState(s State, dst []float32) {
	scale := float32(c.Size - 1)
	for i, pos := range s.Positions {
		dst[2*i] = float32(pos) / scale
		if s.Arrived[i] {
			dst[2*i+1] = 1
		} else {
			dst[2*i+1] = 0
		}
	}
}

// FillActionMask marks the legal moves of agent, indexed by Move.
func (c Config) FillActionMask(s State, agent int, dst []bool) {
	for i := range dst {
		dst[i] = false
	}
	for _, m := range c.LegalMoves(s, agent) {
		dst[m] = true
	}
}
