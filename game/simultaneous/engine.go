// Package simultaneous describes games in which every agent still in play
// moves at the same time and is paid after each joint move.
package simultaneous

import (
	"fmt"
	"slices"
)

// LegalMovesByAgent lists the legal moves of every agent still in play.
// Agents that have left the game are absent.
type LegalMovesByAgent[M, A comparable] map[A][]M
type LegalMovesByAgentFunc[S any, M, A comparable] func(S) LegalMovesByAgent[M, A]
type MoveFunc[S any, M, A comparable] func(S, map[A]M) (S, error)

type RewardByAgent[A comparable] map[A]float32

// RewardByAgentFunc pays every agent for the joint move that took prev to next.
type RewardByAgentFunc[S any, M, A comparable] func(prev, next S, jointMove map[A]M) RewardByAgent[A]
type IsEndFunc[S any] func(S) bool

type Logic[S any, M, A comparable] struct {
	LegalMovesByAgentFunc LegalMovesByAgentFunc[S, M, A]
	MoveFunc              MoveFunc[S, M, A]
}

func (l Logic[S, M, A]) Validate() error {
	if l.LegalMovesByAgentFunc == nil {
		return fmt.Errorf("LegalMovesByAgentFunc must not be nil")
	}
	if l.MoveFunc == nil {
		return fmt.Errorf("MoveFunc must not be nil")
	}
	return nil
}

type Engine[S any, M, A comparable] struct {
	Logic             Logic[S, M, A]
	RewardByAgentFunc RewardByAgentFunc[S, M, A]
	IsEndFunc         IsEndFunc[S]
	Agents            []A
}

func (e Engine[S, M, A]) Validate() error {
	if err := e.Logic.Validate(); err != nil {
		return err
	}

	if e.RewardByAgentFunc == nil {
		return fmt.Errorf("RewardByAgentFunc must not be nil")
	}

	if e.IsEndFunc == nil {
		return fmt.Errorf("IsEndFunc must not be nil")
	}

	if len(e.Agents) == 0 {
		return fmt.Errorf("agents list must not be empty")
	}
	return nil
}

func (e Engine[S, M, A]) IsEnd(state S) bool {
	return e.IsEndFunc(state)
}

// Step applies jointMove and returns the next state, every agent's reward and
// whether the game ended. jointMove must hold a legal move for every agent
// still in play; moves of other agents are ignored.
func (e Engine[S, M, A]) Step(state S, jointMove map[A]M) (S, RewardByAgent[A], bool, error) {
	if e.IsEnd(state) {
		return state, nil, true, fmt.Errorf("step called on a finished game")
	}

	legalMovesByAgent := e.Logic.LegalMovesByAgentFunc(state)
	moves := make(map[A]M, len(legalMovesByAgent))
	for agent, legalMoves := range legalMovesByAgent {
		m, ok := jointMove[agent]
		if !ok {
			return state, nil, false, fmt.Errorf("agent %v is in play but has no move", agent)
		}
		if !slices.Contains(legalMoves, m) {
			return state, nil, false, fmt.Errorf("agent %v move %v is not legal", agent, m)
		}
		moves[agent] = m
	}

	next, err := e.Logic.MoveFunc(state, moves)
	if err != nil {
		return state, nil, false, err
	}
	rewards := e.RewardByAgentFunc(state, next, moves)
	return next, rewards, e.IsEnd(next), nil
}
