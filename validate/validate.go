// Package validate replays every batched step on reference environments and
// reports where the batched backend disagrees with them.
package validate

import (
	"errors"
	"fmt"
	"slices"
	"github.com/chewxy/math32"
	"github.com/sirupsen/logrus"
	"github.com/sw965/crowd/backend/reference"
	"github.com/sw965/crowd/blas32/tensor/3d"
	"github.com/sw965/crowd/vecenv"
)

var ErrMismatch = errors.New("validate: backend disagrees with reference")

const DefaultTolerance float32 = 1e-5

// Mismatch is one cell where the backend and the reference differ.
type Mismatch struct {
	World  int
	Player int
	Field  string
	Want   any
	Got    any
}

func (m Mismatch) String() string {
	return fmt.Sprintf("world %d player %d %s: want %v, got %v", m.World, m.Player, m.Field, m.Want, m.Got)
}

type Report struct {
	Step       int
	Mismatches []Mismatch
}

func (r Report) OK() bool {
	return len(r.Mismatches) == 0
}

// Context owns one reference environment per world. Envs[w] must start from
// the same state as world w of the backend under test.
//
// Rewards, active flags and done flags are compared for every player.
// Observations are compared only for players active after the step; the
// cells of inactive players may be stale in a flat backend.
type Context struct {
	Envs      []reference.Env
	Logger    logrus.FieldLogger
	Verbose   bool
	Tolerance float32
	// Strict makes Check return ErrMismatch when a report is not OK.
	Strict bool

	ref   *reference.Backend
	last  []vecenv.VectorObservation
	steps int
}

func (c *Context) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger().WithField("component", "validate")
	}
	return c.Logger.WithField("component", "validate")
}

func (c *Context) tolerance() float32 {
	if c.Tolerance <= 0 {
		return DefaultTolerance
	}
	return c.Tolerance
}

// Init resets every reference environment and returns their observations.
func (c *Context) Init() ([]vecenv.VectorObservation, error) {
	ref, err := reference.New(c.Envs)
	if err != nil {
		return nil, err
	}
	obs, err := ref.Reset()
	if err != nil {
		return nil, err
	}
	c.ref = ref
	c.last = obs
	c.steps = 0
	return obs, nil
}

// CheckReset compares the observations of a freshly reset backend with the
// ones returned by Init.
func (c *Context) CheckReset(obs []vecenv.VectorObservation) (Report, error) {
	if c.ref == nil {
		return Report{}, fmt.Errorf("%w: check before init", vecenv.ErrState)
	}
	r := Report{Step: 0}
	r.Mismatches = compareObservations(c.last, obs, c.tolerance())
	return c.finish(r, tensor3d.General[int32]{})
}

// Check steps the reference environments with actions and compares the
// result with tr, the backend's transition for the same actions. The
// reference worlds are reset whenever their episode ends.
func (c *Context) Check(actions tensor3d.General[int32], tr vecenv.Transition) (Report, error) {
	if c.ref == nil {
		return Report{}, fmt.Errorf("%w: check before init", vecenv.ErrState)
	}
	want, err := c.ref.Step(actions)
	if err != nil {
		return Report{}, err
	}
	c.steps++
	r := Report{Step: c.steps}

	if len(tr.Done) != len(want.Done) {
		return Report{}, fmt.Errorf("backend reported %d done flags, reference %d", len(tr.Done), len(want.Done))
	}
	for w := range want.Done {
		if want.Done[w] != tr.Done[w] {
			r.Mismatches = append(r.Mismatches, Mismatch{World: w, Player: -1, Field: "done", Want: want.Done[w], Got: tr.Done[w]})
		}
	}

	if tr.Rewards.Rows != want.Rewards.Rows || tr.Rewards.Cols != want.Rewards.Cols {
		return Report{}, fmt.Errorf("backend rewards are %dx%d, reference %dx%d", tr.Rewards.Rows, tr.Rewards.Cols, want.Rewards.Rows, want.Rewards.Cols)
	}
	tol := c.tolerance()
	for p := 0; p < want.Rewards.Rows; p++ {
		for w := 0; w < want.Rewards.Cols; w++ {
			wr, gr := want.Rewards.Row(p)[w], tr.Rewards.Row(p)[w]
			if math32.Abs(wr-gr) > tol {
				r.Mismatches = append(r.Mismatches, Mismatch{World: w, Player: p, Field: "reward", Want: wr, Got: gr})
			}
		}
	}
	r.Mismatches = append(r.Mismatches, compareObservations(want.Observations, tr.Observations, tol)...)
	c.last = want.Observations
	return c.finish(r, actions.Transpose102())
}

func (c *Context) finish(r Report, actionsByWorld tensor3d.General[int32]) (Report, error) {
	logger := c.logger().WithField("step", r.Step)
	for _, m := range r.Mismatches {
		entry := logger.WithFields(logrus.Fields{
			"world":  m.World,
			"player": m.Player,
			"field":  m.Field,
			"want":   m.Want,
			"got":    m.Got,
		})
		if c.Verbose && m.World >= 0 && m.World < actionsByWorld.Channels {
			entry = entry.WithField("actions", actionsByWorld.Channel(m.World).Data)
		}
		entry.Warn("backend mismatch")
	}
	if c.Verbose && r.OK() {
		logger.Debug("backend matches reference")
	}
	if c.Strict && !r.OK() {
		return r, fmt.Errorf("%w: %d mismatches at step %d, first: %s", ErrMismatch, len(r.Mismatches), r.Step, r.Mismatches[0])
	}
	return r, nil
}

func compareObservations(want, got []vecenv.VectorObservation, tol float32) []Mismatch {
	var ms []Mismatch
	if len(want) != len(got) {
		return []Mismatch{{World: -1, Player: -1, Field: "players", Want: len(want), Got: len(got)}}
	}
	for p := range want {
		wo, gotObs := want[p], got[p]
		if wo.NumWorlds() != gotObs.NumWorlds() {
			ms = append(ms, Mismatch{World: -1, Player: p, Field: "worlds", Want: wo.NumWorlds(), Got: gotObs.NumWorlds()})
			continue
		}
		for w := range wo.Active {
			if wo.Active[w] != gotObs.Active[w] {
				ms = append(ms, Mismatch{World: w, Player: p, Field: "active", Want: wo.Active[w], Got: gotObs.Active[w]})
				continue
			}
			if !wo.Active[w] {
				continue
			}
			if !closeRows(wo.Obs.Row(w), gotObs.Obs.Row(w), tol) {
				ms = append(ms, Mismatch{World: w, Player: p, Field: "obs", Want: wo.Obs.Row(w), Got: gotObs.Obs.Row(w)})
			}
			if wo.HasState() && gotObs.HasState() && !closeRows(wo.State.Row(w), gotObs.State.Row(w), tol) {
				ms = append(ms, Mismatch{World: w, Player: p, Field: "state", Want: wo.State.Row(w), Got: gotObs.State.Row(w)})
			}
			if wo.HasActionMask() && gotObs.HasActionMask() && !slices.Equal(wo.ActionMask.Row(w), gotObs.ActionMask.Row(w)) {
				ms = append(ms, Mismatch{World: w, Player: p, Field: "action_mask", Want: wo.ActionMask.Row(w), Got: gotObs.ActionMask.Row(w)})
			}
		}
	}
	return ms
}

func closeRows(a, b []float32, tol float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math32.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}
