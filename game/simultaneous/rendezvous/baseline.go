package rendezvous

import (
	"fmt"
	"math/rand/v2"
	"github.com/sw965/crowd/game/simultaneous"
)

// RandomBaseline plays games episodes with every walker moving uniformly at
// random and returns each walker's mean return. Game i starts from the first
// episode of world i under seed, so the baseline sees the same starts as a
// fresh Sim. Playouts run on one goroutine per rng.
func (c Config) RandomBaseline(seed uint64, games int, rngs []*rand.Rand) ([]float32, error) {
	if games < 1 {
		return nil, fmt.Errorf("games must be positive, got %d", games)
	}
	if len(rngs) == 0 {
		return nil, fmt.Errorf("need at least one rng")
	}

	inits := make([]State, games)
	for i := range inits {
		inits[i] = c.NewInitState(NewRand(seed, i, 0))
	}
	engine := c.NewEngine()
	records, err := engine.Playouts(inits, simultaneous.NewRandomActor[State, Move, int](), rngs, c.Horizon)
	if err != nil {
		return nil, err
	}

	means := make([]float32, c.NumPlayers)
	for _, r := range records {
		for agent, ret := range r.ReturnByAgent {
			means[agent] += ret
		}
	}
	for i := range means {
		means[i] /= float32(games)
	}
	return means, nil
}
