package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"
)

// LoopFactory builds a fresh loop for each scheduled run. Runs must not
// share loop state, only the durable stores behind it.
type LoopFactory func(runID string) (*Loop, error)

// Scheduler runs the loop repeatedly on a cron expression for service
// mode. At most one run executes at a time; a tick that fires while a run
// is still in flight is skipped and counted.
type Scheduler struct {
	cron    *cron.Cron
	factory LoopFactory
	log     *slog.Logger

	mu      sync.Mutex
	running bool

	runs     metric.Int64Counter
	failures metric.Int64Counter
	skipped  metric.Int64Counter
}

func NewScheduler(factory LoopFactory, log *slog.Logger, meter metric.Meter) *Scheduler {
	runs, _ := meter.Int64Counter("redqueen_scheduled_runs_total")
	failures, _ := meter.Int64Counter("redqueen_scheduled_run_failures_total")
	skipped, _ := meter.Int64Counter("redqueen_scheduled_runs_skipped_total")
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		factory:  factory,
		log:      log,
		runs:     runs,
		failures: failures,
		skipped:  skipped,
	}
}

// Start registers the cron expression and blocks until ctx is cancelled.
// The in-flight run, if any, finishes before Start returns.
func (s *Scheduler) Start(ctx context.Context, cronExpr string) error {
	var wg sync.WaitGroup
	_, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.running {
			s.mu.Unlock()
			s.skipped.Add(ctx, 1)
			s.log.Warn("previous run still in flight, skipping tick")
			return
		}
		s.running = true
		s.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				s.mu.Lock()
				s.running = false
				s.mu.Unlock()
			}()
			s.execute(ctx)
		}()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info("scheduler started", "cron", cronExpr)
	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	wg.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) execute(ctx context.Context) {
	runID := "sched-" + uuid.NewString()
	start := time.Now()
	s.runs.Add(ctx, 1)

	loop, err := s.factory(runID)
	if err != nil {
		s.failures.Add(ctx, 1)
		s.log.Error("build scheduled run", "run_id", runID, "error", err)
		return
	}
	if err := loop.Run(ctx); err != nil {
		s.failures.Add(ctx, 1)
		s.log.Error("scheduled run failed", "run_id", runID, "error", err)
		return
	}
	s.log.Info("scheduled run complete", "run_id", runID,
		"elapsed", time.Since(start).Round(time.Millisecond))
}
