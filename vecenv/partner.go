package vecenv

import (
	"fmt"
	"math/rand/v2"
	"github.com/sw965/crowd/blas32/tensor/2d"
	"github.com/sw965/omw/mathx/randx"
)

// Partner is a policy that can fill a non-ego player slot.
//
// Action must not modify obs; the same value is shared for the whole step.
// It returns a [worlds, action dim] tensor. Rows of inactive worlds are sent
// to the backend too but are ignored there.
//
// Update receives the slot's reward for every world and the per-world done
// flags after each backend step.
type Partner interface {
	Action(obs VectorObservation) (tensor2d.Dense[int32], error)
	Update(reward []float32, done []bool) error
}

// Registry owns the candidate partners of every non-ego slot and which one
// is currently selected.
//
// Player numbers are absolute slot indices. Partner numbers skip the ego:
// slot p maps to partner p-1 when p is above the ego index.
type Registry struct {
	egoIndex   int
	numPlayers int
	partners   [][]Partner
	ids        []int
	policy     ResamplePolicy
	resample   resampleFunc
	rng        *rand.Rand
}

// NewRegistry validates the partner lists and the resample policy. partners
// may be nil, in which case every slot starts empty and must be filled with
// Add before the first Resample. rng may be nil.
func NewRegistry(egoIndex, numPlayers int, partners [][]Partner, policy ResamplePolicy, rng *rand.Rand) (*Registry, error) {
	if numPlayers < 1 {
		return nil, fmt.Errorf("%w: need at least 1 player, got %d", ErrConfiguration, numPlayers)
	}
	if egoIndex < 0 || egoIndex >= numPlayers {
		return nil, fmt.Errorf("%w: ego index %d not in [0, %d)", ErrConfiguration, egoIndex, numPlayers)
	}

	resolved, err := policy.Resolve(numPlayers)
	if err != nil {
		return nil, err
	}

	n := numPlayers - 1
	if partners != nil {
		if len(partners) != n {
			return nil, fmt.Errorf("%w: %d partner lists given for %d non-ego players", ErrConfiguration, len(partners), n)
		}
		if err := checkCandidates(partners); err != nil {
			return nil, err
		}
	}

	lists := make([][]Partner, n)
	for i := range lists {
		if partners != nil {
			lists[i] = append([]Partner(nil), partners[i]...)
		}
	}

	if rng == nil {
		rng = randx.NewPCGFromGlobalSeed()
	}

	return &Registry{
		egoIndex:   egoIndex,
		numPlayers: numPlayers,
		partners:   lists,
		ids:        make([]int, n),
		policy:     resolved,
		resample:   resolved.resampleFunc(),
		rng:        rng,
	}, nil
}

func (r *Registry) Policy() ResamplePolicy {
	return r.policy
}

// PartnerNum converts an absolute player number into a partner slot number.
func (r *Registry) PartnerNum(playerNum int) (int, error) {
	if playerNum < 0 || playerNum >= r.numPlayers {
		return 0, fmt.Errorf("%w: player %d not in [0, %d)", ErrIndex, playerNum, r.numPlayers)
	}
	if playerNum == r.egoIndex {
		return 0, fmt.Errorf("%w: player %d is the ego and is not set by the environment", ErrIndex, playerNum)
	}
	if playerNum > r.egoIndex {
		return playerNum - 1, nil
	}
	return playerNum, nil
}

// PlayerNum is the inverse of PartnerNum.
func (r *Registry) PlayerNum(partnerNum int) int {
	if partnerNum < r.egoIndex {
		return partnerNum
	}
	return partnerNum + 1
}

// Add appends p to the candidates of playerNum.
func (r *Registry) Add(p Partner, playerNum int) error {
	if p == nil {
		return fmt.Errorf("%w: partner must not be nil", ErrConfiguration)
	}
	i, err := r.PartnerNum(playerNum)
	if err != nil {
		return err
	}
	r.partners[i] = append(r.partners[i], p)
	return nil
}

// SetPartnerID selects candidate id for playerNum.
func (r *Registry) SetPartnerID(id, playerNum int) error {
	i, err := r.PartnerNum(playerNum)
	if err != nil {
		return err
	}
	if id < 0 || id >= len(r.partners[i]) {
		return fmt.Errorf("%w: partner id %d not in [0, %d) for player %d", ErrIndex, id, len(r.partners[i]), playerNum)
	}
	r.ids[i] = id
	return nil
}

func (r *Registry) PartnerID(playerNum int) (int, error) {
	i, err := r.PartnerNum(playerNum)
	if err != nil {
		return 0, err
	}
	return r.ids[i], nil
}

// Candidates returns how many partners are registered for playerNum.
func (r *Registry) Candidates(playerNum int) (int, error) {
	i, err := r.PartnerNum(playerNum)
	if err != nil {
		return 0, err
	}
	return len(r.partners[i]), nil
}

// Current returns the selected partner of playerNum.
func (r *Registry) Current(playerNum int) (Partner, error) {
	i, err := r.PartnerNum(playerNum)
	if err != nil {
		return nil, err
	}
	return r.current(i)
}

func (r *Registry) current(partnerNum int) (Partner, error) {
	candidates := r.partners[partnerNum]
	id := r.ids[partnerNum]
	if id >= len(candidates) {
		return nil, fmt.Errorf("%w: player %d has %d candidates, selected %d", ErrConfiguration, r.PlayerNum(partnerNum), len(candidates), id)
	}
	return candidates[id], nil
}

// Resample applies the resample policy to every partner slot.
func (r *Registry) Resample() error {
	return r.resample(r.ids, r.partners, r.rng)
}

// IDs returns a copy of the selected candidate of every partner slot.
func (r *Registry) IDs() []int {
	return append([]int(nil), r.ids...)
}
