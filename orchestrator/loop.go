// Package orchestrator drives the co-evolutionary loop through its
// generation cycle: generating attacks, evaluating, recording,
// synthesizing, selecting, checking termination. The loop goroutine is
// the sole mutator of the population and the meta state; evaluation fans
// out to workers but results funnel back through a single recorder.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/redqueen/attacks"
	"github.com/swarmguard/redqueen/checkpoint"
	"github.com/swarmguard/redqueen/defenses"
	"github.com/swarmguard/redqueen/events"
	"github.com/swarmguard/redqueen/knowledge"
	"github.com/swarmguard/redqueen/otelinit"
	"github.com/swarmguard/redqueen/population"
)

// Config bounds one run.
type Config struct {
	RunID              string
	Generations        int
	PopulationSize     int
	CampaignSize       int
	Workers            int
	EvalTimeout        time.Duration
	ConvergenceFitness float64 // stop early when best fitness reaches this, 0 disables
	WeakTagLimit       int     // weak-tag groups consulted per campaign
}

// Proposer turns a knowledge snapshot into candidate seeds. Diversify
// widens mutation strength after a plateau. Satisfied by
// intelligence.Coordinator.
type Proposer interface {
	Propose(ctx context.Context, snap knowledge.Snapshot, pop *population.Population, generation int, diversify bool) []population.Seed
}

// Checkpointer persists per-generation state. Satisfied by
// checkpoint.Store.
type Checkpointer interface {
	SaveGeneration(ctx context.Context, rec checkpoint.Record) error
	LoadLatest(ctx context.Context, runID string) (checkpoint.Record, bool, error)
}

// Archiver keeps retired seeds. Satisfied by archive.Store.
type Archiver interface {
	SaveSeed(ctx context.Context, seed population.Seed) error
}

// Evaluator scores one payload against one defense seed. Satisfied by
// defenses.Evaluator. Implementations must be safe for concurrent use by
// the worker pool.
type Evaluator interface {
	Evaluate(ctx context.Context, p attacks.Payload, seed population.Seed, generation int) (knowledge.EvaluationResult, error)
}

// Loop owns the run. Construct with NewLoop, drive with Run.
type Loop struct {
	cfg       Config
	log       *slog.Logger
	generator *attacks.Generator
	evaluator Evaluator
	kb        *knowledge.Base
	proposer  Proposer
	selection SelectionPolicy
	metaPol   MetaPolicy
	rng       *rand.Rand

	checkpoints Checkpointer     // optional
	arch        Archiver         // optional
	bus         *events.Publisher // nil-safe

	pop  *population.Population
	meta population.MetaState

	mu    sync.Mutex
	phase Phase

	generations metric.Int64Counter
	bestFitness metric.Float64Gauge
	popSize     metric.Int64Gauge
}

// Deps are the loop's collaborators. Checkpoints, Archive and Bus may be
// nil; Selection and Meta fall back to Elitism and a plateau detector.
type Deps struct {
	Log         *slog.Logger
	Generator   *attacks.Generator
	Evaluator   Evaluator
	Knowledge   *knowledge.Base
	Proposer    Proposer
	Selection   SelectionPolicy
	Meta        MetaPolicy
	RNG         *rand.Rand
	Checkpoints Checkpointer
	Archive     Archiver
	Bus         *events.Publisher
}

func NewLoop(cfg Config, deps Deps, meter metric.Meter) (*Loop, error) {
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be positive, got %d", cfg.Generations)
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be positive, got %d", cfg.PopulationSize)
	}
	if cfg.CampaignSize <= 0 {
		return nil, fmt.Errorf("campaign size must be positive, got %d", cfg.CampaignSize)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = 2 * time.Second
	}
	if cfg.WeakTagLimit <= 0 {
		cfg.WeakTagLimit = 3
	}
	if deps.Selection == nil {
		deps.Selection = Elitism{}
	}
	if deps.Meta == nil {
		deps.Meta = PlateauDetector{Window: 3, Epsilon: 0.01}
	}

	generations, _ := meter.Int64Counter("redqueen_generations_total")
	bestFitness, _ := meter.Float64Gauge("redqueen_best_fitness")
	popSize, _ := meter.Int64Gauge("redqueen_population_size")

	return &Loop{
		cfg:         cfg,
		log:         deps.Log,
		generator:   deps.Generator,
		evaluator:   deps.Evaluator,
		kb:          deps.Knowledge,
		proposer:    deps.Proposer,
		selection:   deps.Selection,
		metaPol:     deps.Meta,
		rng:         deps.RNG,
		checkpoints: deps.Checkpoints,
		arch:        deps.Archive,
		bus:         deps.Bus,
		pop:         population.New(),
		generations: generations,
		bestFitness: bestFitness,
		popSize:     popSize,
	}, nil
}

// Phase reports the loop's current phase.
func (l *Loop) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

func (l *Loop) setPhase(p Phase) {
	l.mu.Lock()
	l.phase = p
	l.mu.Unlock()
}

// Population exposes the live population. Read-only use outside Run.
func (l *Loop) Population() *population.Population { return l.pop }

// Meta returns a copy of the meta-learning state.
func (l *Loop) Meta() population.MetaState { return l.meta }

// Run executes the loop until the generation budget is spent, fitness
// converges, or ctx is cancelled. Cancellation is honored only at
// generation boundaries so no generation is left half-recorded.
func (l *Loop) Run(ctx context.Context) error {
	ctx, end := otelinit.WithSpan(ctx, "run")
	defer end()

	l.setPhase(PhaseInitializing)
	startGen, err := l.initialize(ctx)
	if err != nil {
		return err
	}

	reason := "budget"
	gen := startGen
	for ; gen < l.cfg.Generations; gen++ {
		if ctx.Err() != nil {
			reason = "cancelled"
			break
		}
		if err := l.runGeneration(ctx, gen); err != nil {
			l.setPhase(PhaseTerminated)
			return err
		}
		if l.cfg.ConvergenceFitness > 0 && l.meta.BestFitness >= l.cfg.ConvergenceFitness {
			gen++
			reason = "converged"
			break
		}
	}

	l.setPhase(PhaseTerminated)
	l.log.Info("run finished", "run_id", l.cfg.RunID, "generations", gen,
		"best_fitness", l.meta.BestFitness, "reason", reason)
	if err := l.bus.RunDone(ctx, events.RunEvent{
		RunID:       l.cfg.RunID,
		Generations: gen,
		BestFitness: l.meta.BestFitness,
		Reason:      reason,
	}); err != nil {
		l.log.Warn("publish run event", "error", err)
	}
	return nil
}

// initialize restores the latest checkpoint when one exists, otherwise
// seeds a baseline population covering every defense mechanism.
func (l *Loop) initialize(ctx context.Context) (int, error) {
	if l.checkpoints != nil {
		rec, found, err := l.checkpoints.LoadLatest(ctx, l.cfg.RunID)
		if err != nil {
			return 0, fmt.Errorf("load checkpoint: %w", err)
		}
		if found {
			for _, seed := range rec.Seeds {
				l.pop.Add(seed)
			}
			l.meta = rec.Meta
			l.log.Info("resumed from checkpoint", "run_id", l.cfg.RunID,
				"generation", rec.Generation, "seeds", l.pop.Size())
			return rec.Generation + 1, nil
		}
	}

	for i, seed := range defenses.BaselineSeeds(l.cfg.PopulationSize, l.rng) {
		if !l.pop.Add(seed) {
			l.log.Warn("baseline seed rejected as duplicate", "index", i)
		}
	}
	l.log.Info("seeded baseline population", "run_id", l.cfg.RunID, "seeds", l.pop.Size())
	return 0, nil
}

func (l *Loop) runGeneration(ctx context.Context, gen int) error {
	ctx, end := otelinit.WithSpan(ctx, "generation")
	defer end()
	start := time.Now()

	l.setPhase(PhaseGeneratingAttacks)
	payloads := l.generator.Campaign(l.weakTags(), l.cfg.CampaignSize, gen, l.rng)

	l.setPhase(PhaseEvaluating)
	tallies := l.evaluate(ctx, payloads, gen)
	for _, seed := range l.pop.Seeds() {
		l.pop.SetFitness(seed.ID, tallies.fitness(seed.ID))
	}

	l.setPhase(PhaseSynthesizing)
	snap, err := l.kb.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot generation %d: %w", gen, err)
	}
	diversify := l.meta.Diversify
	if diversify {
		l.meta.Diversify = false
		l.log.Info("widening mutation after plateau", "generation", gen)
	}
	newcomers := l.proposer.Propose(ctx, snap, l.pop, gen, diversify)
	l.inheritFitness(newcomers)

	l.setPhase(PhaseSelecting)
	survivors, retired := l.selection.Select(l.pop.Seeds(), newcomers, l.cfg.PopulationSize, l.rng)
	l.pop.Replace(survivors)
	l.retire(ctx, retired, gen)

	l.setPhase(PhaseCheckTermination)
	best, _ := l.pop.Best()
	l.metaPol.Observe(&l.meta, best.Fitness)

	if l.checkpoints != nil {
		rec := checkpoint.Record{
			RunID:      l.cfg.RunID,
			Generation: gen,
			Seeds:      l.pop.Seeds(),
			Knowledge:  snap,
			Meta:       l.meta,
		}
		cpCtx, endSave := otelinit.WithSpan(ctx, "checkpoint.save")
		err := l.checkpoints.SaveGeneration(cpCtx, rec)
		endSave()
		if err != nil {
			return fmt.Errorf("checkpoint generation %d: %w", gen, err)
		}
	}

	l.generations.Add(ctx, 1)
	l.bestFitness.Record(ctx, best.Fitness)
	l.popSize.Record(ctx, int64(l.pop.Size()))
	l.log.Info("generation complete",
		"run_id", l.cfg.RunID,
		"generation", gen,
		"payloads", len(payloads),
		"results", snap.Results,
		"newcomers", len(newcomers),
		"retired", len(retired),
		"best_fitness", best.Fitness,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	if err := l.bus.GenerationDone(ctx, events.GenerationEvent{
		RunID:       l.cfg.RunID,
		Generation:  gen,
		BestFitness: best.Fitness,
		Population:  l.pop.Size(),
		Results:     snap.Results,
		Diversify:   l.meta.Diversify,
	}); err != nil {
		l.log.Warn("publish generation event", "error", err)
	}
	return nil
}

// weakTags pulls the least-defended pattern tags from the knowledge base
// to steer the next campaign. Empty before the first generation.
func (l *Loop) weakTags() []string {
	cur, err := l.kb.Query(nil)
	if err != nil {
		l.log.Warn("weak-tag query failed, running unbiased campaign", "error", err)
		return nil
	}
	seen := make(map[string]struct{})
	var tags []string
	for i := 0; i < l.cfg.WeakTagLimit; i++ {
		view, ok := cur.Next()
		if !ok {
			break
		}
		for _, t := range view.Tags {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	return tags
}

// inheritFitness gives newcomers their strongest parent's fitness so
// selection does not cull unevaluated lineages outright.
func (l *Loop) inheritFitness(newcomers []population.Seed) {
	byID := make(map[string]float64, l.pop.Size())
	for _, s := range l.pop.Seeds() {
		byID[s.ID] = s.Fitness
	}
	for i := range newcomers {
		best := 0.0
		for _, pid := range newcomers[i].ParentIDs {
			if f, ok := byID[pid]; ok && f > best {
				best = f
			}
		}
		newcomers[i].Fitness = best
	}
}

func (l *Loop) retire(ctx context.Context, retired []population.Seed, gen int) {
	for _, seed := range retired {
		if l.arch != nil {
			if err := l.arch.SaveSeed(ctx, seed); err != nil {
				l.log.Warn("archive retired seed", "seed", seed.ID, "error", err)
			}
		}
		if err := l.bus.SeedRetired(ctx, events.RetireEvent{
			RunID: l.cfg.RunID, SeedID: seed.ID, Generation: gen, Fitness: seed.Fitness,
		}); err != nil {
			l.log.Warn("publish retire event", "seed", seed.ID, "error", err)
		}
	}
}

type evalJob struct {
	payload attacks.Payload
	seed    population.Seed
}

type evalOutcome struct {
	payload attacks.Payload
	desc    knowledge.PatternDesc
	res     knowledge.EvaluationResult
}

// tallyTable accumulates conclusive per-defense counts for fitness.
type tallyTable struct {
	attempts map[string]int
	blocks   map[string]int
	leaks    map[string]int
}

func newTallyTable() *tallyTable {
	return &tallyTable{
		attempts: make(map[string]int),
		blocks:   make(map[string]int),
		leaks:    make(map[string]int),
	}
}

func (t *tallyTable) observe(res knowledge.EvaluationResult) {
	if res.Inconclusive {
		return
	}
	t.attempts[res.DefenseID]++
	if res.Blocked {
		t.blocks[res.DefenseID]++
	}
	if res.InfoLeak {
		t.leaks[res.DefenseID]++
	}
}

// fitness is the block rate with a leak penalty, clamped at zero.
func (t *tallyTable) fitness(defenseID string) float64 {
	attempts := t.attempts[defenseID]
	if attempts == 0 {
		return 0
	}
	f := float64(t.blocks[defenseID])/float64(attempts) - 0.5*float64(t.leaks[defenseID])/float64(attempts)
	if f < 0 {
		f = 0
	}
	return f
}

// uniquePatterns collapses payloads that share a pattern signature.
// Techniques reuse shapes freely within a campaign, but the knowledge
// base keys results by (pattern, defense, generation), so each pattern
// is dispatched against each defense once per generation.
func uniquePatterns(payloads []attacks.Payload) []attacks.Payload {
	seen := make(map[string]struct{}, len(payloads))
	uniq := make([]attacks.Payload, 0, len(payloads))
	for _, p := range payloads {
		sig := knowledge.PatternDesc{Technique: p.Technique, Shape: p.Shape(), Tags: p.Tags}.Signature()
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		uniq = append(uniq, p)
	}
	return uniq
}

// evaluate fans every distinct payload/seed pair out to the worker pool.
// A single recorder goroutine is the only knowledge-base writer; worker
// failures and timeouts become inconclusive results instead of aborting
// the generation.
func (l *Loop) evaluate(ctx context.Context, payloads []attacks.Payload, gen int) *tallyTable {
	payloads = uniquePatterns(payloads)
	seeds := l.pop.Seeds()
	jobs := make(chan evalJob)
	outcomes := make(chan evalOutcome, l.cfg.Workers)

	var workers sync.WaitGroup
	for w := 0; w < l.cfg.Workers; w++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for job := range jobs {
				outcomes <- l.evaluatePair(ctx, job, gen)
			}
		}()
	}

	tallies := newTallyTable()
	var recorder sync.WaitGroup
	recorder.Add(1)
	go func() {
		defer recorder.Done()
		for out := range outcomes {
			if err := l.kb.Record(ctx, out.desc, out.res); err != nil {
				if errors.Is(err, knowledge.ErrDuplicateResult) {
					l.log.Debug("duplicate result dropped", "key", out.res.Key())
				} else {
					l.log.Warn("record result", "key", out.res.Key(), "error", err)
				}
				continue
			}
			tallies.observe(out.res)
			if !out.res.Inconclusive {
				l.generator.Feedback(out.payload, out.res.Blocked)
			}
		}
	}()

	for _, p := range payloads {
		for _, s := range seeds {
			jobs <- evalJob{payload: p, seed: s}
		}
	}
	close(jobs)
	workers.Wait()

	// barrier passed, the recorder drains what is left
	l.setPhase(PhaseRecording)
	close(outcomes)
	recorder.Wait()
	return tallies
}

// evaluatePair runs one evaluation under the per-pair timeout. The
// evaluation runs on its own goroutine so a hung evaluator cannot hold a
// worker past the deadline; any error or timeout yields an inconclusive
// result so one bad pair cannot poison the generation.
func (l *Loop) evaluatePair(ctx context.Context, job evalJob, gen int) evalOutcome {
	desc := knowledge.PatternDesc{
		Technique: job.payload.Technique,
		Shape:     job.payload.Shape(),
		Tags:      job.payload.Tags,
	}
	inconclusive := evalOutcome{payload: job.payload, desc: desc, res: knowledge.EvaluationResult{
		AttackID:     desc.Signature(),
		DefenseID:    job.seed.ID,
		Generation:   gen,
		Inconclusive: true,
	}}

	evalCtx, cancel := context.WithTimeout(ctx, l.cfg.EvalTimeout)
	defer cancel()

	type evalReply struct {
		res knowledge.EvaluationResult
		err error
	}
	// buffered so a late evaluation does not leak its goroutine
	done := make(chan evalReply, 1)
	go func() {
		res, err := l.evaluator.Evaluate(evalCtx, job.payload, job.seed, gen)
		done <- evalReply{res: res, err: err}
	}()

	select {
	case reply := <-done:
		if reply.err != nil {
			l.log.Warn("evaluation failed", "technique", job.payload.Technique,
				"seed", job.seed.ID, "error", reply.err)
			return inconclusive
		}
		return evalOutcome{payload: job.payload, desc: desc, res: reply.res}
	case <-evalCtx.Done():
		l.log.Warn("evaluation timed out", "technique", job.payload.Technique,
			"seed", job.seed.ID)
		return inconclusive
	}
}
