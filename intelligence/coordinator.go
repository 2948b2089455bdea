// Package intelligence coordinates the analyze-then-synthesize pipeline:
// one knowledge snapshot in, one deduplicated batch of candidate defense
// seeds out.
package intelligence

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/redqueen/knowledge"
	"github.com/swarmguard/redqueen/population"
	"github.com/swarmguard/redqueen/reasoning"
	"github.com/swarmguard/redqueen/synthesis"
)

// Analyzer is the reasoning side of the pipeline. Satisfied by
// reasoning.Engine.
type Analyzer interface {
	Analyze(ctx context.Context, snap knowledge.Snapshot) []reasoning.Hypothesis
}

// Breeder is the synthesis side. Satisfied by synthesis.Synthesizer.
type Breeder interface {
	Synthesize(ctx context.Context, hyp reasoning.Hypothesis, pop *population.Population, generation, boost int) ([]population.Seed, error)
}

// diversifyBoost widens mutation strength when the run has plateaued.
const diversifyBoost = 3

// Coordinator wires analysis to synthesis behind a confidence gate.
type Coordinator struct {
	analyzer  Analyzer
	breeder   Breeder
	threshold float64
	log       *slog.Logger
	proposals metric.Int64Counter
	skipped   metric.Int64Counter
}

func NewCoordinator(a Analyzer, b Breeder, confidenceThreshold float64, log *slog.Logger, meter metric.Meter) *Coordinator {
	proposals, _ := meter.Int64Counter("redqueen_intelligence_proposals_total")
	skipped, _ := meter.Int64Counter("redqueen_intelligence_hypotheses_skipped_total")
	return &Coordinator{
		analyzer:  a,
		breeder:   b,
		threshold: confidenceThreshold,
		log:       log,
		proposals: proposals,
		skipped:   skipped,
	}
}

// Propose analyzes the snapshot and breeds candidates for every hypothesis
// at or above the confidence threshold. Diversify widens mutation strength
// for this round, the plateau response. The returned batch is deduplicated
// by genome hash across hypotheses. An empty batch is a normal outcome:
// nothing confident enough, nothing breedable, or nothing novel.
func (c *Coordinator) Propose(ctx context.Context, snap knowledge.Snapshot, pop *population.Population, generation int, diversify bool) []population.Seed {
	if snap.Empty() {
		return nil
	}

	boost := 0
	if diversify {
		boost = diversifyBoost
	}

	var batch []population.Seed
	seen := make(map[string]struct{})

	for _, hyp := range c.analyzer.Analyze(ctx, snap) {
		if hyp.Confidence < c.threshold {
			c.skipped.Add(ctx, 1)
			continue
		}
		seeds, err := c.breeder.Synthesize(ctx, hyp, pop, generation, boost)
		switch {
		case errors.Is(err, synthesis.ErrNoSourceSeeds):
			c.log.Debug("hypothesis has no breedable sources", "tags", hyp.Tags)
		case errors.Is(err, synthesis.ErrRetriesExhausted):
			c.log.Debug("synthesis retries exhausted, keeping partial batch",
				"tags", hyp.Tags, "produced", len(seeds))
		case err != nil:
			c.log.Warn("synthesis failed", "tags", hyp.Tags, "error", err)
			continue
		}
		for _, seed := range seeds {
			if _, dup := seen[seed.GenomeHash]; dup {
				continue
			}
			seen[seed.GenomeHash] = struct{}{}
			batch = append(batch, seed)
		}
	}

	c.proposals.Add(ctx, int64(len(batch)))
	return batch
}

// Threshold reports the active confidence gate.
func (c *Coordinator) Threshold() float64 { return c.threshold }
