package simultaneous

import (
	"fmt"
	"github.com/sw965/crowd/game"
)

type PolicyByAgent[M, A comparable] map[A]game.Policy[M]

type PolicyFunc[S any, M, A comparable] func(S, LegalMovesByAgent[M, A]) (PolicyByAgent[M, A], error)

func UniformPolicyFunc[S any, M, A comparable](state S, legalMovesByAgent LegalMovesByAgent[M, A]) (PolicyByAgent[M, A], error) {
	jp := make(PolicyByAgent[M, A], len(legalMovesByAgent))
	for agent, moves := range legalMovesByAgent {
		n := len(moves)
		if n == 0 {
			return nil, fmt.Errorf("agent %v has no legal moves", agent)
		}
		p := 1.0 / float32(n)
		policy := make(game.Policy[M], n)
		for _, m := range moves {
			policy[m] = p
		}
		jp[agent] = policy
	}
	return jp, nil
}

// Actor picks a joint move: PolicyFunc scores the legal moves and SelectFunc
// draws one move per agent.
type Actor[S any, M, A comparable] struct {
	Name       game.ActorCriticName
	PolicyFunc PolicyFunc[S, M, A]
	SelectFunc game.SelectFunc[M, A]
}

func NewRandomActor[S any, M, A comparable]() Actor[S, M, A] {
	return Actor[S, M, A]{
		Name:       "rand",
		PolicyFunc: UniformPolicyFunc[S, M, A],
		SelectFunc: game.WeightedRandomSelectFunc[M, A],
	}
}

func (a Actor[S, M, A]) Validate() error {
	if a.PolicyFunc == nil {
		return fmt.Errorf("PolicyFunc must not be nil")
	}
	if a.SelectFunc == nil {
		return fmt.Errorf("SelectFunc must not be nil")
	}
	return nil
}
