package rendezvous

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"runtime"
	"slices"
	"github.com/sw965/crowd/backend/flat"
	"github.com/sw965/crowd/backend/reference"
	"github.com/sw965/crowd/game/simultaneous"
	"github.com/sw965/crowd/vecenv"
	"github.com/sw965/omw/mathx/randx"
	"github.com/sw965/omw/parallel"
)

type SimConfig struct {
	Game      Config
	NumWorlds int
	Seed      uint64
	// Parallelism is the number of goroutines stepping worlds. 0 means
	// GOMAXPROCS.
	Parallelism int
	// Shuffle reorders the records after every Step and Reset.
	Shuffle bool
}

func (c SimConfig) Validate() error {
	if err := c.Game.Validate(); err != nil {
		return err
	}
	if c.NumWorlds < 1 {
		return fmt.Errorf("NumWorlds must be positive, got %d", c.NumWorlds)
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("Parallelism must not be negative, got %d", c.Parallelism)
	}
	return nil
}

type record struct {
	world int
	agent int
}

// Sim runs many worlds of the game in lockstep and reports walkers as flat
// records, the way a batched simulator does. Every walker of every world has
// a record on every step; arrived walkers are reported inactive with zero
// reward. Finished worlds restart on their own.
type Sim struct {
	cfg         Config
	engine      simultaneous.Engine[State, Move, int]
	seed        uint64
	numWorlds   int
	parallelism int
	shuffle     bool
	rng         *rand.Rand
	started     bool

	states   []State
	episodes []uint64
	lengths  []int
	returns  [][]float32
	stepRews [][]float32
	done     []bool
	infos    []vecenv.Info

	records    []record
	worldIDs   []int32
	agentIDs   []int32
	active     []bool
	obs        []float32
	agentState []float32
	mask       []bool
	rewards    []float32
	actions    []int32
}

// NewSim builds the worlds but does not start them; call Reset first. rng
// only drives record shuffling and may be nil.
func NewSim(cfg SimConfig, rng *rand.Rand) (*Sim, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := cfg.Parallelism
	if p == 0 {
		p = runtime.GOMAXPROCS(0)
	}
	if rng == nil {
		rng = randx.NewPCGFromGlobalSeed()
	}

	n, players := cfg.NumWorlds, cfg.Game.NumPlayers
	s := &Sim{
		cfg:         cfg.Game,
		engine:      cfg.Game.NewEngine(),
		seed:        cfg.Seed,
		numWorlds:   n,
		parallelism: p,
		shuffle:     cfg.Shuffle,
		rng:         rng,
		states:      make([]State, n),
		episodes:    make([]uint64, n),
		lengths:     make([]int, n),
		returns:     make([][]float32, n),
		stepRews:    make([][]float32, n),
		done:        make([]bool, n),
		infos:       make([]vecenv.Info, n),
		records:     make([]record, 0, n*players),
	}
	for w := 0; w < n; w++ {
		s.returns[w] = make([]float32, players)
		s.stepRews[w] = make([]float32, players)
	}
	return s, nil
}

func (s *Sim) NumWorlds() int { return s.numWorlds }
func (s *Sim) NumPlayers() int { return s.cfg.NumPlayers }
func (s *Sim) ObservationSize() int { return s.cfg.ObservationSize() }
func (s *Sim) StateSize() int { return s.cfg.StateSize() }
func (s *Sim) NumActions() int { return NumMoves }
func (s *Sim) ActionDim() int { return 1 }

// States returns a copy of every world's state.
func (s *Sim) States() []State {
	states := make([]State, len(s.states))
	for w, st := range s.states {
		states[w] = st.Clone()
	}
	return states
}

func (s *Sim) resetWorld(w int) {
	s.states[w] = s.cfg.NewInitState(NewRand(s.seed, w, s.episodes[w]))
	s.episodes[w]++
	s.lengths[w] = 0
	clear(s.returns[w])
}

func (s *Sim) Reset() error {
	for w := 0; w < s.numWorlds; w++ {
		s.resetWorld(w)
		clear(s.stepRews[w])
		s.done[w] = false
		s.infos[w] = vecenv.Info{}
	}
	s.started = true
	s.writeRecords()
	return nil
}

func (s *Sim) Step() error {
	if !s.started {
		return fmt.Errorf("step before reset")
	}

	actions := make([][]int32, s.numWorlds)
	for w := range actions {
		actions[w] = make([]int32, s.cfg.NumPlayers)
	}
	for k, r := range s.records {
		actions[r.world][r.agent] = s.actions[k]
	}

	err := parallel.For(s.numWorlds, s.parallelism, func(_, w int) error {
		return s.stepWorld(w, actions[w])
	})
	if err != nil {
		return err
	}
	s.writeRecords()
	return nil
}

func (s *Sim) stepWorld(w int, actions []int32) error {
	state := s.states[w]
	next, rewardByAgent, end, err := s.engine.Step(state, s.cfg.JointMove(state, actions))
	if err != nil {
		return fmt.Errorf("world %d: %w", w, err)
	}
	s.states[w] = next

	clear(s.stepRews[w])
	for agent, r := range rewardByAgent {
		s.stepRews[w][agent] = r
		s.returns[w][agent] += r
	}
	s.lengths[w]++

	s.done[w] = end
	s.infos[w] = vecenv.Info{}
	if end {
		s.infos[w][reference.InfoEpisodeLength] = s.lengths[w]
		s.infos[w][reference.InfoEpisodeReturn] = slices.Clone(s.returns[w])
		s.resetWorld(w)
	}
	return nil
}

// writeRecords lists every walker of every world, then fills the flat
// buffers in record order.
func (s *Sim) writeRecords() {
	s.records = s.records[:0]
	for w := 0; w < s.numWorlds; w++ {
		for p := 0; p < s.cfg.NumPlayers; p++ {
			s.records = append(s.records, record{world: w, agent: p})
		}
	}
	if s.shuffle {
		s.rng.Shuffle(len(s.records), func(i, j int) {
			s.records[i], s.records[j] = s.records[j], s.records[i]
		})
	}

	k := len(s.records)
	obsSize, stateSize := s.cfg.ObservationSize(), s.cfg.StateSize()
	s.worldIDs = resize(s.worldIDs, k)
	s.agentIDs = resize(s.agentIDs, k)
	s.active = resize(s.active, k)
	s.obs = resize(s.obs, k*obsSize)
	s.agentState = resize(s.agentState, k*stateSize)
	s.mask = resize(s.mask, k*NumMoves)
	s.rewards = resize(s.rewards, k)
	s.actions = resize(s.actions, k)

	for i, r := range s.records {
		state := s.states[r.world]
		s.worldIDs[i] = int32(r.world)
		s.agentIDs[i] = int32(r.agent)
		s.active[i] = !state.Arrived[r.agent]
		s.cfg.Observe(state, r.agent, s.obs[i*obsSize:(i+1)*obsSize])
		s.cfg.FillState(state, s.agentState[i*stateSize:(i+1)*stateSize])
		s.cfg.FillActionMask(state, r.agent, s.mask[i*NumMoves:(i+1)*NumMoves])
		s.rewards[i] = s.stepRews[r.world][r.agent]
		s.actions[i] = int32(Stay)
	}
}

func resize[T any](xs []T, n int) []T {
	if cap(xs) < n {
		return make([]T, n)
	}
	return xs[:n]
}

func (s *Sim) Close() error {
	return nil
}

func (s *Sim) WorldIDTensor() []int32 { return s.worldIDs }
func (s *Sim) AgentIDTensor() []int32 { return s.agentIDs }
func (s *Sim) ActiveAgentTensor() []bool { return s.active }
func (s *Sim) ObservationTensor() []float32 { return s.obs }
func (s *Sim) AgentStateTensor() []float32 { return s.agentState }
func (s *Sim) ActionMaskTensor() []bool { return s.mask }
func (s *Sim) RewardTensor() []float32 { return s.rewards }
func (s *Sim) ActionTensor() []int32 { return s.actions }
func (s *Sim) DoneTensor() []bool { return s.done }

// Infos returns the info of every world for the last step. Finished worlds
// carry their episode length and the return of every walker.
func (s *Sim) Infos() []vecenv.Info {
	infos := make([]vecenv.Info, len(s.infos))
	for w, info := range s.infos {
		infos[w] = maps.Clone(info)
	}
	return infos
}

var (
	_ flat.Sim        = (*Sim)(nil)
	_ flat.InfoSource = (*Sim)(nil)
)
