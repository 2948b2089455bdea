// redqueen co-evolves simulated attack campaigns and defense seed
// populations generation by generation, persisting checkpoints and
// retired-seed lineage along the way.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/redqueen/archive"
	"github.com/swarmguard/redqueen/attacks"
	"github.com/swarmguard/redqueen/checkpoint"
	"github.com/swarmguard/redqueen/defenses"
	"github.com/swarmguard/redqueen/events"
	"github.com/swarmguard/redqueen/intelligence"
	"github.com/swarmguard/redqueen/knowledge"
	"github.com/swarmguard/redqueen/logging"
	"github.com/swarmguard/redqueen/orchestrator"
	"github.com/swarmguard/redqueen/otelinit"
	"github.com/swarmguard/redqueen/reasoning"
	"github.com/swarmguard/redqueen/synthesis"
)

const service = "redqueen"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := loadConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	var runLog io.Writer
	if cfg.RunLogPath != "" {
		f, err := os.OpenFile(cfg.RunLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v: open run log: %v\n", errConfig, err)
			return 2
		}
		defer f.Close()
		runLog = f
	}
	log := logging.Init(service, cfg.LogLevel, runLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := otelinit.InitTracer(ctx, service)
	defer otelinit.Flush(context.Background(), shutdownTracer)
	shutdownMetrics := otelinit.InitMetrics(ctx, service)
	defer otelinit.Flush(context.Background(), shutdownMetrics)
	meter := otel.Meter(service)

	var checkpoints orchestrator.Checkpointer
	if cfg.CheckpointDir != "" {
		store, err := checkpoint.Open(cfg.CheckpointDir, meter)
		if err != nil {
			log.Error("open checkpoint store", "dir", cfg.CheckpointDir, "error", err)
			return 1
		}
		defer store.Close()
		checkpoints = store
	}

	var arch orchestrator.Archiver
	if cfg.ArchiveDir != "" {
		store, err := archive.Open(cfg.ArchiveDir, meter)
		if err != nil {
			log.Error("open seed archive", "dir", cfg.ArchiveDir, "error", err)
			return 1
		}
		defer store.Close()
		arch = store
	}

	bus, err := events.Connect(cfg.NATSURL, service)
	if err != nil {
		log.Error("connect event bus", "url", cfg.NATSURL, "error", err)
		return 1
	}
	defer bus.Close()

	factory := loopFactory(cfg, log, meter, checkpoints, arch, bus)

	if cfg.Schedule != "" {
		sched := orchestrator.NewScheduler(factory, log, meter)
		if err := sched.Start(ctx, cfg.Schedule); err != nil {
			log.Error("scheduler", "cron", cfg.Schedule, "error", err)
			return 1
		}
		return 0
	}

	loop, err := factory(cfg.RunID)
	if err != nil {
		log.Error("build run", "run_id", cfg.RunID, "error", err)
		return 1
	}
	if err := loop.Run(ctx); err != nil {
		if errors.Is(err, knowledge.ErrCorrupted) {
			log.Error("knowledge base corrupted, aborting", "run_id", cfg.RunID, "error", err)
		} else {
			log.Error("run failed", "run_id", cfg.RunID, "error", err)
		}
		return 1
	}
	return 0
}

// loopFactory builds an independent loop per run. The durable stores and
// event bus are shared; everything evolutionary starts fresh.
func loopFactory(cfg Config, log *slog.Logger, meter metric.Meter, checkpoints orchestrator.Checkpointer, arch orchestrator.Archiver, bus *events.Publisher) orchestrator.LoopFactory {
	return func(runID string) (*orchestrator.Loop, error) {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed))
		log.Info("starting run", "run_id", runID, "seed", seed,
			"generations", cfg.Generations, "population_size", cfg.PopulationSize,
			"campaign_size", cfg.CampaignSize)

		kb := knowledge.NewBase(meter)
		engine := reasoning.NewEngine(2, meter)
		synth := synthesis.New(defenses.Mutator{}, rng, synthesis.Options{}, meter)
		coord := intelligence.NewCoordinator(engine, synth, cfg.ConfidenceThreshold, log, meter)

		var selection orchestrator.SelectionPolicy = orchestrator.Elitism{}
		if cfg.SelectionPolicy == "tournament" {
			selection = orchestrator.Tournament{}
		}

		return orchestrator.NewLoop(orchestrator.Config{
			RunID:              runID,
			Generations:        cfg.Generations,
			PopulationSize:     cfg.PopulationSize,
			CampaignSize:       cfg.CampaignSize,
			Workers:            cfg.Workers,
			EvalTimeout:        cfg.EvalTimeout,
			ConvergenceFitness: cfg.ConvergenceFitness,
		}, orchestrator.Deps{
			Log:         log,
			Generator:   attacks.NewGenerator(),
			Evaluator:   defenses.NewEvaluator(meter),
			Knowledge:   kb,
			Proposer:    coord,
			Selection:   selection,
			Meta:        orchestrator.PlateauDetector{Window: cfg.PlateauWindow, Epsilon: cfg.PlateauEpsilon},
			RNG:         rng,
			Checkpoints: checkpoints,
			Archive:     arch,
			Bus:         bus,
		}, meter)
	}
}
