package vecenv_test

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"testing"
	"github.com/seehuhn/mt19937"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sw965/crowd/agent"
	"github.com/sw965/crowd/blas32/tensor/2d"
	"github.com/sw965/crowd/blas32/tensor/3d"
	"github.com/sw965/crowd/vecenv"
)

// scriptedBackend reports the done flags and rewards queued in script, one
// entry per Step call, and records the actions it was given.
type scriptedBackend struct {
	worlds  int
	players int
	script  []scriptedStep
	steps   int
	resets  int
	closes  int
	actions []tensor3d.General[int32]
	events  *[]string
	err     error
}

type scriptedStep struct {
	done    []bool
	rewards [][]float32
}

func (b *scriptedBackend) NumWorlds() int  { return b.worlds }
func (b *scriptedBackend) NumPlayers() int { return b.players }
func (b *scriptedBackend) ActionDim() int  { return 1 }

func (b *scriptedBackend) observations() []vecenv.VectorObservation {
	obs := make([]vecenv.VectorObservation, b.players)
	for p := range obs {
		active := make([]bool, b.worlds)
		for w := range active {
			active[w] = true
		}
		o := tensor2d.NewFull[float32](b.worlds, 2, float32(b.steps))
		o.Row(0)[1] = float32(p)
		obs[p] = vecenv.NewVectorObservation(active, o)
	}
	return obs
}

func (b *scriptedBackend) Reset() ([]vecenv.VectorObservation, error) {
	b.resets++
	return b.observations(), nil
}

func (b *scriptedBackend) Step(actions tensor3d.General[int32]) (vecenv.Transition, error) {
	if b.err != nil {
		return vecenv.Transition{}, b.err
	}
	if b.events != nil {
		*b.events = append(*b.events, "backend")
	}
	b.actions = append(b.actions, actions.Clone())
	s := b.script[b.steps%len(b.script)]
	b.steps++

	rewards, err := tensor2d.FromRows(s.rewards)
	if err != nil {
		return vecenv.Transition{}, err
	}
	info := make([]vecenv.Info, b.worlds)
	for w := range info {
		info[w] = vecenv.Info{"step": b.steps}
	}
	return vecenv.Transition{
		Observations: b.observations(),
		Rewards:      rewards,
		Done:         append([]bool(nil), s.done...),
		Info:         info,
	}, nil
}

func (b *scriptedBackend) Close() error {
	b.closes++
	return nil
}

// recordingPartner plays a constant action and logs every call.
type recordingPartner struct {
	name    string
	move    int32
	events  *[]string
	rewards [][]float32
	dones   [][]bool
	seen    []vecenv.VectorObservation
}

func (p *recordingPartner) Action(obs vecenv.VectorObservation) (tensor2d.Dense[int32], error) {
	if p.events != nil {
		*p.events = append(*p.events, "action:"+p.name)
	}
	p.seen = append(p.seen, obs)
	return tensor2d.NewFull[int32](obs.NumWorlds(), 1, p.move), nil
}

func (p *recordingPartner) Update(reward []float32, done []bool) error {
	if p.events != nil {
		*p.events = append(*p.events, "update:"+p.name)
	}
	p.rewards = append(p.rewards, append([]float32(nil), reward...))
	p.dones = append(p.dones, append([]bool(nil), done...))
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestConfigValidate(t *testing.T) {
	p := agent.NewFixed(0)
	tests := []struct {
		name    string
		cfg     vecenv.Config
		wantErr error
	}{
		{
			name: "ok_two_players",
			cfg:  vecenv.Config{NumPlayers: 2, Partners: [][]vecenv.Partner{{p}}},
		},
		{
			name: "ok_no_partners_yet",
			cfg:  vecenv.Config{NumPlayers: 3, EgoIndex: 2},
		},
		{
			name:    "err_partner_count",
			cfg:     vecenv.Config{NumPlayers: 3, Partners: [][]vecenv.Partner{{p}}},
			wantErr: vecenv.ErrConfiguration,
		},
		{
			name:    "err_empty_candidates",
			cfg:     vecenv.Config{NumPlayers: 3, Partners: [][]vecenv.Partner{{p}, {}}},
			wantErr: vecenv.ErrConfiguration,
		},
		{
			name:    "err_robin_three_players",
			cfg:     vecenv.Config{NumPlayers: 3, ResamplePolicy: vecenv.RoundRobinResample},
			wantErr: vecenv.ErrConfiguration,
		},
		{
			name:    "err_unknown_policy",
			cfg:     vecenv.Config{NumPlayers: 2, ResamplePolicy: "shuffle"},
			wantErr: vecenv.ErrConfiguration,
		},
		{
			name:    "err_ego_index",
			cfg:     vecenv.Config{NumPlayers: 2, EgoIndex: 2},
			wantErr: vecenv.ErrConfiguration,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewFailsBeforeTouchingBackend(t *testing.T) {
	_, err := vecenv.New(nil, vecenv.Config{NumPlayers: 3, ResamplePolicy: vecenv.RoundRobinResample})
	require.Error(t, err)
	assert.True(t, errors.Is(err, vecenv.ErrConfiguration))

	b := &scriptedBackend{worlds: 1, players: 3}
	_, err = vecenv.New(b, vecenv.Config{NumPlayers: 2})
	assert.True(t, errors.Is(err, vecenv.ErrConfiguration))
	assert.Zero(t, b.resets)
}

func TestRoleAddressing(t *testing.T) {
	b := &scriptedBackend{worlds: 1, players: 3}
	env, err := vecenv.New(b, vecenv.Config{NumPlayers: 3, Logger: quietLogger()})
	require.NoError(t, err)

	a1 := &recordingPartner{name: "a1"}
	a2 := &recordingPartner{name: "a2"}
	bp := &recordingPartner{name: "b"}
	require.NoError(t, env.AddPartner(a1, 1))
	require.NoError(t, env.AddPartner(a2, 1))
	require.NoError(t, env.AddPartner(bp, 2))

	require.NoError(t, env.SetPartnerID(1, 1))
	require.NoError(t, env.SetPartnerID(0, 2))

	got, err := env.Registry().Current(2)
	require.NoError(t, err)
	assert.Same(t, bp, got)

	id, err := env.PartnerID(1)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	got, err = env.Registry().Current(1)
	require.NoError(t, err)
	assert.Same(t, a2, got)

	err = env.SetPartnerID(1, 2)
	assert.True(t, errors.Is(err, vecenv.ErrIndex))
	err = env.SetPartnerID(-1, 1)
	assert.True(t, errors.Is(err, vecenv.ErrIndex))
	err = env.SetPartnerID(0, 0)
	assert.True(t, errors.Is(err, vecenv.ErrIndex), "ego slot must not be addressable")
	err = env.AddPartner(a1, 3)
	assert.True(t, errors.Is(err, vecenv.ErrIndex))
}

func TestPartnerNumSkipsEgo(t *testing.T) {
	r, err := vecenv.NewRegistry(1, 4, nil, vecenv.RandomResample, nil)
	require.NoError(t, err)

	tests := []struct {
		player  int
		want    int
		wantErr bool
	}{
		{player: 0, want: 0},
		{player: 1, wantErr: true},
		{player: 2, want: 1},
		{player: 3, want: 2},
		{player: 4, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("player_%d", tc.player), func(t *testing.T) {
			got, err := r.PartnerNum(tc.player)
			if tc.wantErr {
				assert.True(t, errors.Is(err, vecenv.ErrIndex))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.player, r.PlayerNum(got))
		})
	}
}

func TestRoundRobinVisitsEveryCandidate(t *testing.T) {
	const c = 4
	candidates := make([]vecenv.Partner, c)
	for i := range candidates {
		candidates[i] = agent.NewFixed(int32(i))
	}
	b := &scriptedBackend{worlds: 2, players: 2}
	env, err := vecenv.New(b, vecenv.Config{
		NumPlayers: 2,
		Partners:   [][]vecenv.Partner{candidates},
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, vecenv.RoundRobinResample, env.Registry().Policy())

	visited := map[int]int{}
	var order []int
	for i := 0; i < c; i++ {
		_, err := env.Reset()
		require.NoError(t, err)
		id, err := env.PartnerID(1)
		require.NoError(t, err)
		visited[id]++
		order = append(order, id)
	}
	assert.Len(t, visited, c)
	for id, n := range visited {
		assert.Equal(t, 1, n, "candidate %d", id)
	}

	_, err = env.Reset()
	require.NoError(t, err)
	id, err := env.PartnerID(1)
	require.NoError(t, err)
	assert.Equal(t, order[0], id)
}

func TestRandomResampleStaysInRange(t *testing.T) {
	a := []vecenv.Partner{agent.NewFixed(0), agent.NewFixed(1), agent.NewFixed(2)}
	bs := []vecenv.Partner{agent.NewFixed(0), agent.NewFixed(1)}
	mt := mt19937.New()
	mt.Seed(7)
	r, err := vecenv.NewRegistry(0, 3, [][]vecenv.Partner{a, bs}, vecenv.DefaultResample, rand.New(mt))
	require.NoError(t, err)
	assert.Equal(t, vecenv.RandomResample, r.Policy())

	seen := map[[2]int]bool{}
	for i := 0; i < 200; i++ {
		require.NoError(t, r.Resample())
		ids := r.IDs()
		require.Len(t, ids, 2)
		assert.True(t, ids[0] >= 0 && ids[0] < 3)
		assert.True(t, ids[1] >= 0 && ids[1] < 2)
		seen[[2]int{ids[0], ids[1]}] = true
	}
	assert.Len(t, seen, 6)
}

func TestResetWithoutCandidatesFails(t *testing.T) {
	b := &scriptedBackend{worlds: 1, players: 2}
	env, err := vecenv.New(b, vecenv.Config{NumPlayers: 2, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = env.Reset()
	assert.True(t, errors.Is(err, vecenv.ErrConfiguration))
	assert.Zero(t, b.resets)
}

func TestStepTwoWorldsIndependentDone(t *testing.T) {
	b := &scriptedBackend{
		worlds:  2,
		players: 2,
		script: []scriptedStep{
			{done: []bool{true, false}, rewards: [][]float32{{1, 2}, {3, 4}}},
			{done: []bool{false, true}, rewards: [][]float32{{5, 6}, {7, 8}}},
		},
	}
	partner := &recordingPartner{name: "p", move: 0}
	env, err := vecenv.New(b, vecenv.Config{
		NumPlayers: 2,
		Partners:   [][]vecenv.Partner{{partner}},
		Logger:     quietLogger(),
	})
	require.NoError(t, err)

	first, err := env.Reset()
	require.NoError(t, err)
	assert.Equal(t, 2, first.NumWorlds())

	ego := tensor2d.Dense[int32]{Rows: 2, Cols: 1, Stride: 1, Data: []int32{3, 5}}
	obs, reward, done, info, err := env.Step(ego)
	require.NoError(t, err)

	assert.Equal(t, 2, obs.NumWorlds())
	assert.Equal(t, []float32{1, 2}, reward)
	assert.Equal(t, []bool{true, false}, done)
	require.Len(t, info, 2)
	assert.Equal(t, 1, info[0]["step"])

	sent := b.actions[0]
	assert.Equal(t, []int32{3}, sent.Row(0, 0))
	assert.Equal(t, []int32{5}, sent.Row(0, 1))
	assert.Equal(t, []int32{0}, sent.Row(1, 0))
	assert.Equal(t, []int32{0}, sent.Row(1, 1))

	require.Len(t, partner.rewards, 1)
	assert.Equal(t, []float32{3, 4}, partner.rewards[0])
	assert.Equal(t, []bool{true, false}, partner.dones[0])

	_, reward, done, _, err = env.Step(ego)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6}, reward)
	assert.Equal(t, []bool{false, true}, done)
}

func TestEgoIndexOneSeesItsOwnRow(t *testing.T) {
	b := &scriptedBackend{
		worlds:  1,
		players: 3,
		script:  []scriptedStep{{done: []bool{false}, rewards: [][]float32{{10}, {20}, {30}}}},
	}
	p0 := &recordingPartner{name: "p0", move: 7}
	p2 := &recordingPartner{name: "p2", move: 9}
	env, err := vecenv.New(b, vecenv.Config{
		EgoIndex:   1,
		NumPlayers: 3,
		Partners:   [][]vecenv.Partner{{p0}, {p2}},
		Logger:     quietLogger(),
	})
	require.NoError(t, err)

	_, err = env.Reset()
	require.NoError(t, err)
	_, reward, _, _, err := env.Step(tensor2d.NewFull[int32](1, 1, 1))
	require.NoError(t, err)

	assert.Equal(t, []float32{20}, reward)
	assert.Equal(t, []float32{10}, p0.rewards[0])
	assert.Equal(t, []float32{30}, p2.rewards[0])
	assert.Equal(t, []int32{7, 1, 9}, b.actions[0].Data)

	// each partner acted on its own slot's observation
	assert.Equal(t, float32(0), p0.seen[0].Obs.Row(0)[1])
	assert.Equal(t, float32(2), p2.seen[0].Obs.Row(0)[1])
}

func TestStepOrdering(t *testing.T) {
	var events []string
	b := &scriptedBackend{
		worlds:  1,
		players: 3,
		events:  &events,
		script:  []scriptedStep{{done: []bool{false}, rewards: [][]float32{{0}, {0}, {0}}}},
	}
	p1 := &recordingPartner{name: "1", events: &events}
	p2 := &recordingPartner{name: "2", events: &events}
	env, err := vecenv.New(b, vecenv.Config{
		NumPlayers: 3,
		Partners:   [][]vecenv.Partner{{p1}, {p2}},
		Logger:     quietLogger(),
	})
	require.NoError(t, err)

	_, err = env.Reset()
	require.NoError(t, err)
	_, _, _, _, err = env.Step(tensor2d.NewZeros[int32](1, 1))
	require.NoError(t, err)

	assert.Equal(t, []string{"action:1", "action:2", "backend", "update:1", "update:2"}, events)
}

func TestBackendErrorPropagatesUnchanged(t *testing.T) {
	boom := errors.New("device lost")
	b := &scriptedBackend{worlds: 1, players: 2, err: boom}
	p := &recordingPartner{name: "p"}
	env, err := vecenv.New(b, vecenv.Config{NumPlayers: 2, Partners: [][]vecenv.Partner{{p}}, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = env.Reset()
	require.NoError(t, err)
	_, _, _, _, err = env.Step(tensor2d.NewZeros[int32](1, 1))
	assert.Same(t, boom, err)
	assert.Empty(t, p.rewards)
}

func TestLifecycle(t *testing.T) {
	b := &scriptedBackend{worlds: 1, players: 2, script: []scriptedStep{{done: []bool{false}, rewards: [][]float32{{0}, {0}}}}}
	env, err := vecenv.New(b, vecenv.Config{NumPlayers: 2, Partners: [][]vecenv.Partner{{agent.NewFixed(0)}}, Logger: quietLogger()})
	require.NoError(t, err)

	_, _, _, _, err = env.Step(tensor2d.NewZeros[int32](1, 1))
	assert.True(t, errors.Is(err, vecenv.ErrState))

	_, err = env.Reset()
	require.NoError(t, err)
	_, _, _, _, err = env.Step(tensor2d.NewZeros[int32](2, 1))
	require.Error(t, err, "ego action with the wrong world count")

	require.NoError(t, env.Close())
	require.NoError(t, env.Close())
	assert.Equal(t, 1, b.closes)

	_, err = env.Reset()
	assert.True(t, errors.Is(err, vecenv.ErrState))
}

func TestVectorObservationValidate(t *testing.T) {
	obs := vecenv.NewVectorObservation([]bool{true, false}, tensor2d.NewZeros[float32](2, 3))
	require.NoError(t, obs.Validate())
	assert.False(t, obs.HasState())
	assert.False(t, obs.HasActionMask())

	withState := obs.WithState(tensor2d.NewZeros[float32](2, 5))
	require.NoError(t, withState.Validate())
	assert.True(t, withState.HasState())
	assert.False(t, obs.HasState(), "WithState returns a copy")

	bad := obs.WithActionMask(tensor2d.NewZeros[bool](3, 6))
	require.Error(t, bad.Validate())
}
