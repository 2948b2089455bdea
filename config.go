package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// errConfig marks validation failures that must stop the process before
// generation 0 with exit code 2.
var errConfig = errors.New("invalid configuration")

// Config is the full option surface. Values come from REDQUEEN_* env vars
// with flags taking precedence.
type Config struct {
	RunID               string
	Generations         int
	PopulationSize      int
	CampaignSize        int
	ConfidenceThreshold float64
	PlateauWindow       int
	PlateauEpsilon      float64
	EvalTimeout         time.Duration
	ConvergenceFitness  float64
	Workers             int
	Seed                int64
	SelectionPolicy     string

	LogLevel      string
	RunLogPath    string
	CheckpointDir string
	ArchiveDir    string
	NATSURL       string
	Schedule      string // cron expression, empty runs once
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// loadConfig parses args (without the program name) over the environment.
func loadConfig(args []string) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("redqueen", flag.ContinueOnError)

	fs.StringVar(&cfg.RunID, "run-id", envOr("REDQUEEN_RUN_ID", ""), "run identifier, random when empty")
	fs.IntVar(&cfg.Generations, "generations", envIntOr("REDQUEEN_GENERATIONS", 20), "maximum generation count")
	fs.IntVar(&cfg.PopulationSize, "population-size", envIntOr("REDQUEEN_POPULATION_SIZE", 24), "defense population cap")
	fs.IntVar(&cfg.CampaignSize, "campaign-size", envIntOr("REDQUEEN_CAMPAIGN_SIZE", 50), "attacks per generation")
	fs.Float64Var(&cfg.ConfidenceThreshold, "confidence-threshold", envFloatOr("REDQUEEN_CONFIDENCE_THRESHOLD", 0.5), "minimum hypothesis confidence for synthesis")
	fs.IntVar(&cfg.PlateauWindow, "plateau-window", envIntOr("REDQUEEN_PLATEAU_WINDOW", 5), "stagnant generations before diversifying")
	fs.Float64Var(&cfg.PlateauEpsilon, "plateau-epsilon", envFloatOr("REDQUEEN_PLATEAU_EPSILON", 0.001), "minimum fitness gain counted as progress")
	fs.DurationVar(&cfg.EvalTimeout, "evaluation-timeout", envDurationOr("REDQUEEN_EVALUATION_TIMEOUT", 2*time.Second), "per-pair evaluation timeout")
	fs.Float64Var(&cfg.ConvergenceFitness, "convergence-fitness", envFloatOr("REDQUEEN_CONVERGENCE_FITNESS", 0), "best fitness that ends the run early, 0 disables")
	fs.IntVar(&cfg.Workers, "workers", envIntOr("REDQUEEN_WORKERS", 4), "evaluation worker pool size")
	fs.Int64Var(&cfg.Seed, "seed", int64(envIntOr("REDQUEEN_SEED", 0)), "rng seed, 0 derives from the clock")
	fs.StringVar(&cfg.SelectionPolicy, "selection-policy", envOr("REDQUEEN_SELECTION_POLICY", "elitism"), "elitism or tournament")

	fs.StringVar(&cfg.LogLevel, "log-level", envOr("REDQUEEN_LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.StringVar(&cfg.RunLogPath, "run-log", envOr("REDQUEEN_RUN_LOG", ""), "run log file path, empty logs to stdout only")
	fs.StringVar(&cfg.CheckpointDir, "checkpoint-dir", envOr("REDQUEEN_CHECKPOINT_DIR", ""), "checkpoint db directory, empty disables checkpointing")
	fs.StringVar(&cfg.ArchiveDir, "archive-dir", envOr("REDQUEEN_ARCHIVE_DIR", ""), "retired-seed archive directory, empty disables archiving")
	fs.StringVar(&cfg.NATSURL, "nats-url", envOr("REDQUEEN_NATS_URL", ""), "nats broker url, empty disables events")
	fs.StringVar(&cfg.Schedule, "schedule", envOr("REDQUEEN_SCHEDULE", ""), "cron expression for service mode, empty runs once")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %v", errConfig, err)
	}

	if cfg.RunID == "" {
		cfg.RunID = "run-" + uuid.NewString()
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Generations <= 0 {
		return fmt.Errorf("%w: generations must be positive, got %d", errConfig, c.Generations)
	}
	if c.PopulationSize <= 0 {
		return fmt.Errorf("%w: population size must be positive, got %d", errConfig, c.PopulationSize)
	}
	if c.CampaignSize <= 0 {
		return fmt.Errorf("%w: campaign size must be positive, got %d", errConfig, c.CampaignSize)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence threshold must be in [0,1], got %v", errConfig, c.ConfidenceThreshold)
	}
	if c.PlateauWindow < 1 {
		return fmt.Errorf("%w: plateau window must be at least 1, got %d", errConfig, c.PlateauWindow)
	}
	if c.PlateauEpsilon < 0 {
		return fmt.Errorf("%w: plateau epsilon must be non-negative, got %v", errConfig, c.PlateauEpsilon)
	}
	if c.EvalTimeout <= 0 {
		return fmt.Errorf("%w: evaluation timeout must be positive, got %v", errConfig, c.EvalTimeout)
	}
	if c.ConvergenceFitness < 0 || c.ConvergenceFitness > 1 {
		return fmt.Errorf("%w: convergence fitness must be in [0,1], got %v", errConfig, c.ConvergenceFitness)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", errConfig, c.Workers)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", errConfig, c.LogLevel)
	}
	switch c.SelectionPolicy {
	case "elitism", "tournament":
	default:
		return fmt.Errorf("%w: unknown selection policy %q", errConfig, c.SelectionPolicy)
	}
	return nil
}
