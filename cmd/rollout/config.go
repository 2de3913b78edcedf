package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/sw965/crowd/game/simultaneous/rendezvous"
)

type Config struct {
	Worlds      int    `env:"CROWD_WORLDS"      envDefault:"64"`
	Players     int    `env:"CROWD_PLAYERS"     envDefault:"2"`
	EgoIndex    int    `env:"CROWD_EGO_INDEX"   envDefault:"0"`
	Resample    string `env:"CROWD_RESAMPLE"    envDefault:"default"`
	Seed        uint64 `env:"CROWD_SEED"        envDefault:"1"`
	Parallelism int    `env:"CROWD_PARALLELISM" envDefault:"0"`

	Size          int     `env:"CROWD_SIZE"           envDefault:"7"`
	Goal          int     `env:"CROWD_GOAL"           envDefault:"3"`
	Horizon       int     `env:"CROWD_HORIZON"        envDefault:"16"`
	ArrivalReward float32 `env:"CROWD_ARRIVAL_REWARD" envDefault:"1"`
	StepCost      float32 `env:"CROWD_STEP_COST"      envDefault:"0.05"`

	Steps        int     `env:"CROWD_STEPS"         envDefault:"2000"`
	ResetEvery   int     `env:"CROWD_RESET_EVERY"   envDefault:"256"`
	LogEvery     int     `env:"CROWD_LOG_EVERY"     envDefault:"200"`
	LearningRate float32 `env:"CROWD_LEARNING_RATE" envDefault:"0.1"`
	Discount     float32 `env:"CROWD_DISCOUNT"      envDefault:"0.99"`
	EgoIn        string  `env:"CROWD_EGO_IN"`
	EgoOut       string  `env:"CROWD_EGO_OUT"`
	PartnerIn    string  `env:"CROWD_PARTNER_IN"`

	// BaselineGames random playouts set the return logged next to the ego's.
	// 0 skips them.
	BaselineGames int `env:"CROWD_BASELINE_GAMES" envDefault:"256"`

	CrossCheck bool   `env:"CROWD_VALIDATE"`
	LogLevel   string `env:"CROWD_LOG_LEVEL"  envDefault:"info"`
	LogFormat  string `env:"CROWD_LOG_FORMAT" envDefault:"text"`
}

// ParseConfig loads the optional dotenv file, reads CROWD_* variables and
// lets flags override them.
func ParseConfig(flags *flag.FlagSet, args []string) (Config, error) {
	path := os.Getenv("CROWD_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	flags.IntVar(&cfg.Worlds, "worlds", cfg.Worlds, "number of worlds stepped in lockstep")
	flags.IntVar(&cfg.Players, "players", cfg.Players, "walkers per world")
	flags.IntVar(&cfg.Steps, "steps", cfg.Steps, "batched steps to run")
	flags.StringVar(&cfg.Resample, "resample", cfg.Resample, "partner resample policy: default, robin or random")
	flags.BoolVar(&cfg.CrossCheck, "validate", cfg.CrossCheck, "cross-check every step against reference worlds")
	flags.StringVar(&cfg.EgoOut, "ego-out", cfg.EgoOut, "save the ego parameters to this JSON file")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "logrus level")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Steps < 0 {
		return fmt.Errorf("steps must not be negative, got %d", c.Steps)
	}
	if c.ResetEvery < 0 || c.LogEvery < 0 {
		return fmt.Errorf("reset and log intervals must not be negative")
	}
	if c.BaselineGames < 0 {
		return fmt.Errorf("baseline games must not be negative, got %d", c.BaselineGames)
	}
	return c.Game().Validate()
}

func (c Config) Game() rendezvous.Config {
	return rendezvous.Config{
		NumPlayers:    c.Players,
		Size:          c.Size,
		Goal:          c.Goal,
		Horizon:       c.Horizon,
		ArrivalReward: c.ArrivalReward,
		StepCost:      c.StepCost,
	}
}

func (c Config) Sim() rendezvous.SimConfig {
	return rendezvous.SimConfig{
		Game:        c.Game(),
		NumWorlds:   c.Worlds,
		Seed:        c.Seed,
		Parallelism: c.Parallelism,
		Shuffle:     true,
	}
}

func (c Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	switch c.LogFormat {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return logger, nil
}
