package vecenv

import (
	"fmt"
	"math/rand/v2"
)

// ResamplePolicy names the rule that picks each partner slot's active
// candidate at the start of every episode.
type ResamplePolicy string

const (
	// DefaultResample is RoundRobinResample for two players and
	// RandomResample otherwise.
	DefaultResample    ResamplePolicy = "default"
	RoundRobinResample ResamplePolicy = "robin"
	RandomResample     ResamplePolicy = "random"
)

// Resolve maps DefaultResample to a concrete policy and rejects policies that
// cannot serve numPlayers.
func (p ResamplePolicy) Resolve(numPlayers int) (ResamplePolicy, error) {
	if p == DefaultResample || p == "" {
		if numPlayers == 2 {
			p = RoundRobinResample
		} else {
			p = RandomResample
		}
	}

	switch p {
	case RoundRobinResample:
		if numPlayers != 2 {
			return "", fmt.Errorf("%w: round robin resampling needs exactly 2 players, got %d", ErrConfiguration, numPlayers)
		}
		return p, nil
	case RandomResample:
		return p, nil
	}
	return "", fmt.Errorf("%w: invalid resample policy %q", ErrConfiguration, string(p))
}

type resampleFunc func(ids []int, partners [][]Partner, rng *rand.Rand) error

func (p ResamplePolicy) resampleFunc() resampleFunc {
	if p == RoundRobinResample {
		return resampleRoundRobin
	}
	return resampleRandom
}

func checkCandidates(partners [][]Partner) error {
	for i, candidates := range partners {
		if len(candidates) == 0 {
			return fmt.Errorf("%w: partner slot %d has no candidates", ErrConfiguration, i)
		}
	}
	return nil
}

// resampleRandom draws every slot's candidate independently and uniformly.
func resampleRandom(ids []int, partners [][]Partner, rng *rand.Rand) error {
	if err := checkCandidates(partners); err != nil {
		return err
	}
	for i, candidates := range partners {
		ids[i] = rng.IntN(len(candidates))
	}
	return nil
}

// resampleRoundRobin advances the single partner slot to its next candidate.
func resampleRoundRobin(ids []int, partners [][]Partner, _ *rand.Rand) error {
	if len(partners) != 1 {
		return fmt.Errorf("%w: round robin resampling needs exactly 1 partner slot, got %d", ErrConfiguration, len(partners))
	}
	if err := checkCandidates(partners); err != nil {
		return err
	}
	ids[0] = (ids[0] + 1) % len(partners[0])
	return nil
}
