package simultaneous_test

import (
	"math/rand/v2"
	"testing"
	"github.com/sw965/crowd/game/simultaneous"
)

// race: every agent adds its move to its own counter until somebody reaches
// the target. Agents at the target leave the game.
type race struct {
	counters map[string]int
}

const target = 3

func newRaceEngine() simultaneous.Engine[race, int, string] {
	return simultaneous.Engine[race, int, string]{
		Logic: simultaneous.Logic[race, int, string]{
			LegalMovesByAgentFunc: func(s race) simultaneous.LegalMovesByAgent[int, string] {
				legal := simultaneous.LegalMovesByAgent[int, string]{}
				for agent, c := range s.counters {
					if c < target {
						legal[agent] = []int{0, 1}
					}
				}
				return legal
			},
			MoveFunc: func(s race, jointMove map[string]int) (race, error) {
				next := race{counters: map[string]int{}}
				for agent, c := range s.counters {
					next.counters[agent] = c + jointMove[agent]
				}
				return next, nil
			},
		},
		RewardByAgentFunc: func(prev, next race, jointMove map[string]int) simultaneous.RewardByAgent[string] {
			rewards := simultaneous.RewardByAgent[string]{}
			for agent := range jointMove {
				rewards[agent] = float32(next.counters[agent] - prev.counters[agent])
			}
			return rewards
		},
		IsEndFunc: func(s race) bool {
			for _, c := range s.counters {
				if c < target {
					return false
				}
			}
			return true
		},
		Agents: []string{"赤", "青"},
	}
}

func TestEngineValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*simultaneous.Engine[race, int, string])
		wantErr bool
	}{
		{
			name:   "正常",
			mutate: func(*simultaneous.Engine[race, int, string]) {},
		},
		{
			name:    "異常_MoveFuncなし",
			mutate:  func(e *simultaneous.Engine[race, int, string]) { e.Logic.MoveFunc = nil },
			wantErr: true,
		},
		{
			name:    "異常_RewardByAgentFuncなし",
			mutate:  func(e *simultaneous.Engine[race, int, string]) { e.RewardByAgentFunc = nil },
			wantErr: true,
		},
		{
			name:    "異常_IsEndFuncなし",
			mutate:  func(e *simultaneous.Engine[race, int, string]) { e.IsEndFunc = nil },
			wantErr: true,
		},
		{
			name:    "異常_エージェントなし",
			mutate:  func(e *simultaneous.Engine[race, int, string]) { e.Agents = nil },
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newRaceEngine()
			tc.mutate(&e)
			err := e.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("wantErr: %t, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestEngineStep(t *testing.T) {
	e := newRaceEngine()
	tests := []struct {
		name      string
		state     race
		jointMove map[string]int
		want      map[string]int
		wantEnd   bool
		wantErr   bool
	}{
		{
			name:      "正常_両者前進",
			state:     race{counters: map[string]int{"赤": 0, "青": 0}},
			jointMove: map[string]int{"赤": 1, "青": 1},
			want:      map[string]int{"赤": 1, "青": 1},
		},
		{
			name:      "正常_ゴール済みの手は無視",
			state:     race{counters: map[string]int{"赤": 3, "青": 2}},
			jointMove: map[string]int{"赤": 1, "青": 1},
			want:      map[string]int{"赤": 3, "青": 3},
			wantEnd:   true,
		},
		{
			name:      "異常_手が足りない",
			state:     race{counters: map[string]int{"赤": 0, "青": 0}},
			jointMove: map[string]int{"赤": 1},
			wantErr:   true,
		},
		{
			name:      "異常_非合法手",
			state:     race{counters: map[string]int{"赤": 0, "青": 0}},
			jointMove: map[string]int{"赤": 2, "青": 0},
			wantErr:   true,
		},
		{
			name:      "異常_終了済み",
			state:     race{counters: map[string]int{"赤": 3, "青": 3}},
			jointMove: map[string]int{},
			wantErr:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, rewards, end, err := e.Step(tc.state, tc.jointMove)
			if tc.wantErr {
				if err == nil {
					t.Errorf("want error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for agent, c := range tc.want {
				if next.counters[agent] != c {
					t.Errorf("agent %s: want: %d, got: %d", agent, c, next.counters[agent])
				}
			}
			if end != tc.wantEnd {
				t.Errorf("end: want: %t, got: %t", tc.wantEnd, end)
			}
			for agent := range rewards {
				if tc.state.counters[agent] >= target {
					t.Errorf("agent %s is out of play but was paid", agent)
				}
			}
		})
	}
}

func TestPlayouts(t *testing.T) {
	e := newRaceEngine()
	inits := make([]race, 16)
	for i := range inits {
		inits[i] = race{counters: map[string]int{"赤": 0, "青": i % target}}
	}
	rngs := []*rand.Rand{rand.New(rand.NewPCG(1, 2)), rand.New(rand.NewPCG(3, 4))}

	records, err := e.Playouts(inits, simultaneous.NewRandomActor[race, int, string](), rngs, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, r := range records {
		if !e.IsEnd(r.FinalState) {
			t.Errorf("game %d did not end", i)
		}
		for agent, ret := range r.ReturnByAgent {
			want := float32(target - inits[i].counters[agent])
			if ret != want {
				t.Errorf("game %d agent %s: want return %f, got %f", i, agent, want, ret)
			}
		}
	}

	_, err = e.Playouts(inits, simultaneous.NewRandomActor[race, int, string](), rngs, 1)
	if err == nil {
		t.Errorf("want step cap error, got nil")
	}
}
