package validate_test

import (
	"errors"
	"io"
	"math/rand/v2"
	"testing"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sw965/crowd/agent"
	"github.com/sw965/crowd/backend/flat"
	"github.com/sw965/crowd/backend/reference"
	"github.com/sw965/crowd/blas32/tensor/2d"
	"github.com/sw965/crowd/blas32/tensor/3d"
	"github.com/sw965/crowd/game/simultaneous/rendezvous"
	"github.com/sw965/crowd/validate"
	"github.com/sw965/crowd/vecenv"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newSimBackend(t *testing.T, cfg rendezvous.Config, worlds int, seed uint64) *flat.Backend {
	t.Helper()
	sim, err := rendezvous.NewSim(rendezvous.SimConfig{
		Game:        cfg,
		NumWorlds:   worlds,
		Seed:        seed,
		Parallelism: 2,
		Shuffle:     true,
	}, rand.New(rand.NewPCG(seed, 99)))
	require.NoError(t, err)
	b, err := flat.New(sim, quietLogger())
	require.NoError(t, err)
	return b
}

func newEnvs(t *testing.T, cfg rendezvous.Config, worlds int, seed uint64) []reference.Env {
	t.Helper()
	envs := make([]reference.Env, worlds)
	for w := range envs {
		env, err := rendezvous.NewEnv(cfg, seed, w)
		require.NoError(t, err)
		envs[w] = env
	}
	return envs
}

func TestFlatSimMatchesReference(t *testing.T) {
	cfg := rendezvous.DefaultConfig()
	cfg.NumPlayers = 3
	const worlds = 6

	ctx := &validate.Context{
		Envs:   newEnvs(t, cfg, worlds, 21),
		Logger: quietLogger(),
		Strict: true,
	}
	backend := validate.Wrap(newSimBackend(t, cfg, worlds, 21), ctx)

	rng := rand.New(rand.NewPCG(4, 2))
	env, err := vecenv.New(backend, vecenv.Config{
		EgoIndex:   1,
		NumPlayers: 3,
		Partners: [][]vecenv.Partner{
			{agent.NewRandom(rendezvous.NumMoves, rng), agent.NewFixed(int32(rendezvous.Stay))},
			{agent.NewRandom(rendezvous.NumMoves, rng)},
		},
		Rand:   rng,
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	ego := agent.NewRandom(rendezvous.NumMoves, rng)
	obs, err := env.Reset()
	require.NoError(t, err)

	finished := 0
	for step := 0; step < 120; step++ {
		action, err := ego.Action(obs)
		require.NoError(t, err)
		var done []bool
		var info []vecenv.Info
		obs, _, done, info, err = env.Step(action)
		require.NoError(t, err, "step %d", step)
		for w, d := range done {
			if d {
				finished++
				assert.Contains(t, info[w], reference.InfoEpisodeLength)
				assert.Contains(t, info[w], reference.InfoEpisodeReturn)
			}
		}
	}
	assert.Zero(t, backend.Mismatches())
	assert.Greater(t, finished, 0)
}

func TestDifferentSeedIsReported(t *testing.T) {
	cfg := rendezvous.DefaultConfig()
	const worlds = 4

	ctx := &validate.Context{
		Envs:   newEnvs(t, cfg, worlds, 1),
		Logger: quietLogger(),
	}
	backend := newSimBackend(t, cfg, worlds, 2)

	_, err := ctx.Check(tensorForStay(cfg, worlds), vecenv.Transition{})
	assert.True(t, errors.Is(err, vecenv.ErrState), "check before init")

	_, err = ctx.Init()
	require.NoError(t, err)
	obs, err := backend.Reset()
	require.NoError(t, err)

	r, err := ctx.CheckReset(obs)
	require.NoError(t, err, "non strict contexts only report")
	require.False(t, r.OK())
	for _, m := range r.Mismatches {
		assert.Contains(t, []string{"obs", "state", "action_mask"}, m.Field)
	}

	ctx.Strict = true
	_, err = ctx.CheckReset(obs)
	assert.True(t, errors.Is(err, validate.ErrMismatch))
}

func TestCheckComparesRewardsAndDone(t *testing.T) {
	cfg := rendezvous.Config{NumPlayers: 1, Size: 3, Goal: 2, Horizon: 1, ArrivalReward: 1}
	ctx := &validate.Context{Envs: newEnvs(t, cfg, 1, 0), Logger: quietLogger(), Verbose: true}
	obs, err := ctx.Init()
	require.NoError(t, err)

	tr := vecenv.Transition{
		Observations: obs,
		Rewards:      tensor2d.NewFull[float32](1, 1, 0.5),
		Done:         []bool{false},
	}
	r, err := ctx.Check(tensorForStay(cfg, 1), tr)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Step)

	fields := map[string]bool{}
	for _, m := range r.Mismatches {
		fields[m.Field] = true
	}
	assert.True(t, fields["done"], "horizon of 1 ends the episode")
	assert.True(t, fields["reward"], "staying pays nothing")
}

func tensorForStay(cfg rendezvous.Config, worlds int) tensor3d.General[int32] {
	actions := tensor3d.NewZeros[int32](cfg.NumPlayers, worlds, 1)
	actions.Fill(int32(rendezvous.Stay))
	return actions
}

// walkToGoal steps a two walker world where the ego heads straight for the
// goal and the partner stays put. It returns the ego's reward and whether
// the ego was in play before each step.
func walkToGoal(t *testing.T, backend vecenv.Backend, steps int) ([]float32, []bool) {
	t.Helper()
	env, err := vecenv.New(backend, vecenv.Config{
		NumPlayers: 2,
		Partners:   [][]vecenv.Partner{{agent.NewFixed(int32(rendezvous.Stay))}},
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	defer env.Close()

	obs, err := env.Reset()
	require.NoError(t, err)
	rewards := make([]float32, 0, steps)
	wasActive := make([]bool, 0, steps)
	for i := 0; i < steps; i++ {
		act := tensor2d.NewFull[int32](1, 1, int32(rendezvous.Stay))
		switch d := obs.Obs.Row(0)[1]; {
		case d > 0:
			act.Row(0)[0] = int32(rendezvous.Right)
		case d < 0:
			act.Row(0)[0] = int32(rendezvous.Left)
		}
		wasActive = append(wasActive, obs.Active[0])

		var reward []float32
		var done []bool
		obs, reward, done, _, err = env.Step(act)
		require.NoError(t, err)
		require.False(t, done[0], "step %d", i)
		rewards = append(rewards, reward[0])
	}
	return rewards, wasActive
}

func TestArrivedEgoEarnsNothing(t *testing.T) {
	cfg := rendezvous.DefaultConfig()
	const steps = 10

	flatRewards, flatActive := walkToGoal(t, newSimBackend(t, cfg, 1, 5), steps)
	ref, err := reference.New(newEnvs(t, cfg, 1, 5))
	require.NoError(t, err)
	refRewards, refActive := walkToGoal(t, ref, steps)

	assert.InDeltaSlice(t, refRewards, flatRewards, 1e-6)
	assert.Equal(t, refActive, flatActive)

	arrivals := 0
	for i, r := range flatRewards {
		switch {
		case r > 0:
			arrivals++
			assert.InDelta(t, cfg.ArrivalReward-cfg.StepCost, r, 1e-6)
			assert.True(t, flatActive[i])
		case !flatActive[i]:
			assert.Zero(t, r, "step %d: arrived walker was paid", i)
		default:
			assert.InDelta(t, -cfg.StepCost, r, 1e-6)
		}
	}
	assert.Equal(t, 1, arrivals)
	assert.False(t, flatActive[steps-1])
}

func TestCheckComparesRewardsOfInactivePlayers(t *testing.T) {
	cfg := rendezvous.DefaultConfig()
	ctx := &validate.Context{Envs: newEnvs(t, cfg, 1, 5), Logger: quietLogger()}
	ref, err := reference.New(newEnvs(t, cfg, 1, 5))
	require.NoError(t, err)

	obs, err := ctx.Init()
	require.NoError(t, err)
	_, err = ref.Reset()
	require.NoError(t, err)

	staleSteps := 0
	for i := 0; i < 6; i++ {
		actions := tensorForStay(cfg, 1)
		switch d := obs[0].Obs.Row(0)[1]; {
		case d > 0:
			actions.Row(0, 0)[0] = int32(rendezvous.Right)
		case d < 0:
			actions.Row(0, 0)[0] = int32(rendezvous.Left)
		}
		tr, err := ref.Step(actions)
		require.NoError(t, err)

		// an arrived ego reported with a leftover arrival reward
		arrived := !obs[0].Active[0]
		if arrived {
			tr.Rewards.Row(0)[0] = cfg.ArrivalReward
			staleSteps++
		}
		r, err := ctx.Check(actions, tr)
		require.NoError(t, err)
		if arrived {
			require.Len(t, r.Mismatches, 1, "step %d", i)
			assert.Equal(t, "reward", r.Mismatches[0].Field)
			assert.Equal(t, 0, r.Mismatches[0].Player)
		} else {
			assert.Empty(t, r.Mismatches, "step %d", i)
		}
		obs = tr.Observations
	}
	assert.Positive(t, staleSteps)
}
