package simultaneous

import (
	"fmt"
	"github.com/sw965/omw/parallel"
	"math/rand/v2"
)

type Record[S any, A comparable] struct {
	FinalState    S
	Steps         int
	ReturnByAgent map[A]float32
}

// Playouts plays every init state to the end with actor, one goroutine per
// rng. A game still running after stepCap joint moves is an error; stepCap
// <= 0 means no cap.
func (e *Engine[S, M, A]) Playouts(inits []S, actor Actor[S, M, A], rngs []*rand.Rand, stepCap int) ([]Record[S, A], error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	if err := actor.Validate(); err != nil {
		return nil, err
	}

	n := len(inits)
	p := len(rngs)
	records := make([]Record[S, A], n)

	err := parallel.For(n, p, func(workerId, idx int) error {
		rng := rngs[workerId]
		state := inits[idx]
		returns := make(map[A]float32, len(e.Agents))
		steps := 0

		for !e.IsEnd(state) {
			if stepCap > 0 && steps >= stepCap {
				return fmt.Errorf("game %d did not end within %d steps", idx, stepCap)
			}

			legalMovesByAgent := e.Logic.LegalMovesByAgentFunc(state)
			if len(legalMovesByAgent) == 0 {
				return fmt.Errorf("game is not ended but no legal moves are available")
			}

			jointPolicy, err := actor.PolicyFunc(state, legalMovesByAgent)
			if err != nil {
				return err
			}

			jointMove := make(map[A]M, len(legalMovesByAgent))
			for agent, legalMoves := range legalMovesByAgent {
				policy := jointPolicy[agent]
				if err := policy.ValidateForLegalMoves(legalMoves, false); err != nil {
					return err
				}

				move, err := actor.SelectFunc(policy, agent, rng)
				if err != nil {
					return err
				}
				jointMove[agent] = move
			}

			var rewards RewardByAgent[A]
			state, rewards, _, err = e.Step(state, jointMove)
			if err != nil {
				return err
			}
			for agent, r := range rewards {
				returns[agent] += r
			}
			steps++
		}

		records[idx] = Record[S, A]{
			FinalState:    state,
			Steps:         steps,
			ReturnByAgent: returns,
		}
		return nil
	})
	return records, err
}
