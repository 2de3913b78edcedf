package agent

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"github.com/chewxy/math32"
	"github.com/sw965/crowd/blas32/tensor/2d"
	"github.com/sw965/crowd/game"
	"github.com/sw965/crowd/rl"
	"github.com/sw965/crowd/vecenv"
	"github.com/sw965/omw/encoding/jsonx"
	"github.com/sw965/omw/mathx/randx"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Parameter is a linear map from observations to action logits.
// Weight is row-major [len(Bias), obs size].
type Parameter struct {
	Weight []float32
	Bias   []float32
}

func NewZerosParameter(obsSize, numActions int) Parameter {
	return Parameter{
		Weight: make([]float32, numActions*obsSize),
		Bias:   make([]float32, numActions),
	}
}

func LoadParameterJSON(path string) (Parameter, error) {
	return jsonx.Load[Parameter](path)
}

func (p Parameter) SaveJSON(path string) error {
	return jsonx.Save[Parameter](p, path)
}

func (p Parameter) Clone() Parameter {
	return Parameter{
		Weight: slices.Clone(p.Weight),
		Bias:   slices.Clone(p.Bias),
	}
}

func (p Parameter) Validate(obsSize, numActions int) error {
	if len(p.Bias) != numActions {
		return fmt.Errorf("bias has %d entries, want %d actions", len(p.Bias), numActions)
	}
	if len(p.Weight) != numActions*obsSize {
		return fmt.Errorf("weight has %d entries, want %d x %d", len(p.Weight), numActions, obsSize)
	}
	return nil
}

func (p Parameter) weight() blas32.General {
	rows := len(p.Bias)
	cols := 0
	if rows > 0 {
		cols = len(p.Weight) / rows
	}
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: p.Weight}
}

func (p Parameter) bias() blas32.Vector {
	return blas32.Vector{N: len(p.Bias), Inc: 1, Data: p.Bias}
}

// Logits computes W x + b.
func (p Parameter) Logits(x blas32.Vector) []float32 {
	y := blas32.Vector{N: len(p.Bias), Inc: 1, Data: slices.Clone(p.Bias)}
	blas32.Gemv(blas.NoTrans, 1.0, p.weight(), x, 1.0, y)
	return y.Data
}

// MaskedSoftmax normalises exp(u) over the legal entries; illegal entries get
// probability zero. legal may be nil.
func MaskedSoftmax(u []float32, legal []bool) []float32 {
	maxU := math32.Inf(-1)
	for i, v := range u {
		if (legal == nil || legal[i]) && v > maxU {
			maxU = v
		}
	}

	y := make([]float32, len(u))
	var sum float32
	for i, v := range u {
		if legal != nil && !legal[i] {
			continue
		}
		y[i] = math32.Exp(v - maxU)
		sum += y[i]
	}
	if sum == 0 {
		return y
	}
	for i := range y {
		y[i] /= sum
	}
	return y
}

type SoftmaxConfig struct {
	LearningRate float32
	Discount     float32
	// Greedy plays the most probable action instead of sampling.
	Greedy bool
	// Frozen disables learning.
	Frozen bool
}

// Softmax is a linear softmax policy over a discrete action set trained with
// REINFORCE. Each world keeps its own trajectory; when a world reports done
// the trajectory is turned into one gradient step and cleared.
type Softmax struct {
	Parameter  Parameter
	Config     SoftmaxConfig
	obsSize    int
	numActions int
	actions    []int32
	rng        *rand.Rand

	trajectories []rl.Experiences
	pending      []bool
	returns      []float32
}

func NewSoftmax(obsSize, numActions int, cfg SoftmaxConfig, rng *rand.Rand) (*Softmax, error) {
	if obsSize <= 0 || numActions <= 0 {
		return nil, fmt.Errorf("softmax partner needs positive sizes, got obs %d actions %d", obsSize, numActions)
	}
	if cfg.Discount < 0 || cfg.Discount > 1 {
		return nil, fmt.Errorf("discount %f not in [0, 1]", cfg.Discount)
	}
	if rng == nil {
		rng = randx.NewPCGFromGlobalSeed()
	}
	actions := make([]int32, numActions)
	for i := range actions {
		actions[i] = int32(i)
	}
	return &Softmax{
		Parameter:  NewZerosParameter(obsSize, numActions),
		Config:     cfg,
		obsSize:    obsSize,
		numActions: numActions,
		actions:    actions,
		rng:        rng,
	}, nil
}

// SetParameter replaces the weights, for example with ones read by
// LoadParameterJSON.
func (s *Softmax) SetParameter(p Parameter) error {
	if err := p.Validate(s.obsSize, s.numActions); err != nil {
		return err
	}
	s.Parameter = p.Clone()
	return nil
}

func (s *Softmax) ensureWorlds(n int) {
	if len(s.trajectories) == n {
		return
	}
	s.trajectories = make([]rl.Experiences, n)
	s.pending = make([]bool, n)
}

// Probs returns the action distribution for world w of obs.
func (s *Softmax) Probs(obs vecenv.VectorObservation, w int) []float32 {
	logits := s.Parameter.Logits(tensor2d.RowVector(obs.Obs, w))
	var legal []bool
	if obs.HasActionMask() {
		legal = obs.ActionMask.Row(w)
	}
	return MaskedSoftmax(logits, legal)
}

func (s *Softmax) Action(obs vecenv.VectorObservation) (tensor2d.Dense[int32], error) {
	if obs.Obs.Cols != s.obsSize {
		return tensor2d.Dense[int32]{}, fmt.Errorf("observation has %d features, want %d", obs.Obs.Cols, s.obsSize)
	}
	if obs.HasActionMask() && obs.ActionMask.Cols != s.numActions {
		return tensor2d.Dense[int32]{}, fmt.Errorf("action mask has %d columns, want %d", obs.ActionMask.Cols, s.numActions)
	}

	n := obs.NumWorlds()
	s.ensureWorlds(n)

	act := tensor2d.NewZeros[int32](n, 1)
	for w := 0; w < n; w++ {
		s.pending[w] = false
		if !obs.Active[w] {
			continue
		}

		probs := s.Probs(obs, w)
		a, err := s.selectAction(obs, w, probs)
		if err != nil {
			return tensor2d.Dense[int32]{}, fmt.Errorf("world %d: %w", w, err)
		}
		act.Row(w)[0] = a

		if !s.Config.Frozen {
			s.trajectories[w] = append(s.trajectories[w], rl.Experience{
				Observation: slices.Clone(obs.Obs.Row(w)),
				ActionIndex: int(a),
				Probs:       probs,
			})
			s.pending[w] = true
		}
	}
	return act, nil
}

// selectAction samples from probs in action order, so a seeded rng replays
// the same actions. Greedy play goes through game.MaxSelectFunc.
func (s *Softmax) selectAction(obs vecenv.VectorObservation, w int, probs []float32) (int32, error) {
	var legal []bool
	if obs.HasActionMask() {
		legal = obs.ActionMask.Row(w)
	}
	if s.Config.Greedy {
		policy, err := game.NewPolicy(s.actions, probs, legal)
		if err != nil {
			return 0, err
		}
		return game.MaxSelectFunc(policy, w, s.rng)
	}

	var sum float32
	for i, p := range probs {
		if legal == nil || legal[i] {
			sum += p
		}
	}
	if sum == 0 {
		return 0, fmt.Errorf("no legal moves")
	}
	idx, err := randx.IntByWeights(probs, s.rng)
	if err != nil {
		return 0, err
	}
	return s.actions[idx], nil
}

// Update credits reward[w] to the action just taken in world w and learns
// from every world whose episode ended.
func (s *Softmax) Update(reward []float32, done []bool) error {
	if len(reward) != len(done) {
		return fmt.Errorf("got %d rewards but %d done flags", len(reward), len(done))
	}
	s.ensureWorlds(len(done))
	for w := range done {
		if s.pending[w] {
			traj := s.trajectories[w]
			traj[len(traj)-1].Reward = reward[w]
			s.pending[w] = false
		}
		if done[w] {
			if err := s.learn(w); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Softmax) learn(w int) error {
	traj := s.trajectories[w]
	s.trajectories[w] = traj[:0]
	if s.Config.Frozen || len(traj) == 0 {
		return nil
	}
	s.returns = append(s.returns, traj.TotalReward())

	weight := s.Parameter.weight()
	bias := s.Parameter.bias()
	gs := traj.Returns(s.Config.Discount)
	for i, e := range traj {
		grad, err := e.LogProbGrad()
		if err != nil {
			return err
		}
		alpha := s.Config.LearningRate * gs[i]
		g := blas32.Vector{N: len(grad), Inc: 1, Data: grad}
		x := blas32.Vector{N: len(e.Observation), Inc: 1, Data: e.Observation}
		blas32.Ger(alpha, g, x, weight)
		blas32.Axpy(alpha, g, bias)
	}
	return nil
}

// Reset drops the unfinished trajectory of every world. Call it when the
// environment restarts worlds that never reported done.
func (s *Softmax) Reset() {
	for w := range s.trajectories {
		s.trajectories[w] = s.trajectories[w][:0]
		s.pending[w] = false
	}
}

// EpisodeReturns drains the undiscounted returns of the episodes learned
// from since the last call.
func (s *Softmax) EpisodeReturns() []float32 {
	rs := s.returns
	s.returns = nil
	return rs
}
