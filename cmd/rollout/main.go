// Command rollout trains a softmax ego walker on batched rendezvous worlds
// against a pool of partner policies.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"runtime"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sw965/crowd/agent"
	"github.com/sw965/crowd/backend/flat"
	"github.com/sw965/crowd/backend/reference"
	"github.com/sw965/crowd/game/simultaneous/rendezvous"
	"github.com/sw965/crowd/validate"
	"github.com/sw965/crowd/vecenv"
)

func main() {
	cfg, err := ParseConfig(flag.NewFlagSet(os.Args[0], flag.ExitOnError), os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger, err := cfg.Logger()
	if err != nil {
		logrus.WithError(err).Fatal("invalid logger configuration")
	}
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("rollout failed")
	}
}

func run(cfg Config, logger *logrus.Logger) error {
	log := logger.WithField("run_id", uuid.New().String())
	sim, err := rendezvous.NewSim(cfg.Sim(), nil)
	if err != nil {
		return err
	}
	var backend vecenv.Backend
	backend, err = flat.New(sim, log)
	if err != nil {
		return err
	}

	var checked *validate.Backend
	if cfg.CrossCheck {
		envs := make([]reference.Env, cfg.Worlds)
		for w := range envs {
			env, err := rendezvous.NewEnv(cfg.Game(), cfg.Seed, w)
			if err != nil {
				return err
			}
			envs[w] = env
		}
		checked = validate.Wrap(backend, &validate.Context{
			Envs:    envs,
			Logger:  log,
			Verbose: logger.IsLevelEnabled(logrus.DebugLevel),
		})
		backend = checked
	}

	partners, err := newPartnerPool(cfg)
	if err != nil {
		return err
	}
	env, err := vecenv.New(backend, vecenv.Config{
		EgoIndex:       cfg.EgoIndex,
		NumPlayers:     cfg.Players,
		ResamplePolicy: vecenv.ResamplePolicy(cfg.Resample),
		Partners:       partners,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	defer env.Close()

	ego, err := agent.NewSoftmax(cfg.Game().ObservationSize(), rendezvous.NumMoves, agent.SoftmaxConfig{
		LearningRate: cfg.LearningRate,
		Discount:     cfg.Discount,
	}, nil)
	if err != nil {
		return err
	}
	if cfg.EgoIn != "" {
		p, err := agent.LoadParameterJSON(cfg.EgoIn)
		if err != nil {
			return err
		}
		if err := ego.SetParameter(p); err != nil {
			return fmt.Errorf("%s: %w", cfg.EgoIn, err)
		}
	}

	baseline, err := randomBaseline(cfg)
	if err != nil {
		return err
	}
	if baseline != nil {
		log.WithField("baseline_return", *baseline).Info("random baseline")
	}

	obs, err := env.Reset()
	if err != nil {
		return err
	}

	var episodes, totalLength int
	for step := 1; step <= cfg.Steps; step++ {
		if cfg.ResetEvery > 0 && step%cfg.ResetEvery == 0 {
			ego.Reset()
			if obs, err = env.Reset(); err != nil {
				return err
			}
		}

		action, err := ego.Action(obs)
		if err != nil {
			return err
		}
		var reward []float32
		var done []bool
		var info []vecenv.Info
		obs, reward, done, info, err = env.Step(action)
		if err != nil {
			return err
		}
		if err := ego.Update(reward, done); err != nil {
			return err
		}

		for w, d := range done {
			if !d {
				continue
			}
			episodes++
			if n, ok := info[w][reference.InfoEpisodeLength].(int); ok {
				totalLength += n
			}
		}

		if cfg.LogEvery > 0 && step%cfg.LogEvery == 0 {
			logProgress(log, env, step, ego.EpisodeReturns(), baseline, episodes, totalLength)
		}
	}

	fields := logrus.Fields{"episodes": episodes}
	if checked != nil {
		fields["mismatches"] = checked.Mismatches()
	}
	log.WithFields(fields).Info("rollout finished")

	if cfg.EgoOut != "" {
		if err := ego.Parameter.SaveJSON(cfg.EgoOut); err != nil {
			return err
		}
		log.WithField("path", cfg.EgoOut).Info("saved ego parameters")
	}
	return nil
}

// newPartnerPool gives every non-ego slot a fixed, a random and, when
// PartnerIn is set, a frozen softmax candidate.
func newPartnerPool(cfg Config) ([][]vecenv.Partner, error) {
	var frozen agent.Parameter
	if cfg.PartnerIn != "" {
		p, err := agent.LoadParameterJSON(cfg.PartnerIn)
		if err != nil {
			return nil, err
		}
		frozen = p
	}

	pool := make([][]vecenv.Partner, cfg.Players-1)
	for i := range pool {
		pool[i] = []vecenv.Partner{
			agent.NewFixed(int32(rendezvous.Stay)),
			agent.NewRandom(rendezvous.NumMoves, nil),
		}
		if cfg.PartnerIn == "" {
			continue
		}
		s, err := agent.NewSoftmax(cfg.Game().ObservationSize(), rendezvous.NumMoves, agent.SoftmaxConfig{Frozen: true}, nil)
		if err != nil {
			return nil, err
		}
		if err := s.SetParameter(frozen); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.PartnerIn, err)
		}
		pool[i] = append(pool[i], s)
	}
	return pool, nil
}

// randomBaseline is the ego slot's mean return when every walker moves at
// random, or nil when baseline games are disabled.
func randomBaseline(cfg Config) (*float32, error) {
	if cfg.BaselineGames == 0 {
		return nil, nil
	}
	p := cfg.Parallelism
	if p == 0 {
		p = runtime.GOMAXPROCS(0)
	}
	rngs := make([]*rand.Rand, p)
	for i := range rngs {
		rngs[i] = rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
	}
	means, err := cfg.Game().RandomBaseline(cfg.Seed, cfg.BaselineGames, rngs)
	if err != nil {
		return nil, err
	}
	return &means[cfg.EgoIndex], nil
}

func logProgress(log logrus.FieldLogger, env *vecenv.Env, step int, returns []float32, baseline *float32, episodes, totalLength int) {
	fields := logrus.Fields{
		"step":     step,
		"episodes": episodes,
	}
	if len(returns) > 0 {
		var sum float32
		for _, r := range returns {
			sum += r
		}
		fields["mean_return"] = sum / float32(len(returns))
	}
	if baseline != nil {
		fields["baseline_return"] = *baseline
	}
	if episodes > 0 {
		fields["mean_length"] = float32(totalLength) / float32(episodes)
	}
	if ids := env.Registry().IDs(); len(ids) > 0 {
		fields["partner_ids"] = ids
	}
	log.WithFields(fields).Info("progress")
}
