package intelligence

import (
	"context"
	"io"
	"log/slog"
	"testing"

	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/swarmguard/redqueen/knowledge"
	"github.com/swarmguard/redqueen/population"
	"github.com/swarmguard/redqueen/reasoning"
	"github.com/swarmguard/redqueen/synthesis"
)

type stubAnalyzer struct{ hyps []reasoning.Hypothesis }

func (a stubAnalyzer) Analyze(context.Context, knowledge.Snapshot) []reasoning.Hypothesis {
	return a.hyps
}

type stubBreeder struct {
	batches map[string][]population.Seed // keyed by first hypothesis tag
	err     error
	calls   []string
	boosts  []int
}

func (b *stubBreeder) Synthesize(_ context.Context, hyp reasoning.Hypothesis, _ *population.Population, _, boost int) ([]population.Seed, error) {
	b.boosts = append(b.boosts, boost)
	b.calls = append(b.calls, hyp.Tags[0])
	return b.batches[hyp.Tags[0]], b.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCoordinator(a Analyzer, b Breeder, threshold float64) *Coordinator {
	mp := noopmetric.MeterProvider{}
	return NewCoordinator(a, b, threshold, testLogger(), mp.Meter("test"))
}

func nonEmptySnapshot() knowledge.Snapshot {
	return knowledge.Snapshot{Patterns: []knowledge.PatternView{{Signature: "aaa", Attempts: 1}}}
}

func TestProposeFiltersByConfidence(t *testing.T) {
	analyzer := stubAnalyzer{hyps: []reasoning.Hypothesis{
		{Tags: []string{"injection"}, Confidence: 0.9},
		{Tags: []string{"overflow"}, Confidence: 0.4},
	}}
	breeder := &stubBreeder{batches: map[string][]population.Seed{
		"injection": {{ID: "s1", GenomeHash: "h1"}},
		"overflow":  {{ID: "s2", GenomeHash: "h2"}},
	}}

	c := newCoordinator(analyzer, breeder, 0.6)
	batch := c.Propose(context.Background(), nonEmptySnapshot(), population.New(), 1, false)

	if len(breeder.calls) != 1 || breeder.calls[0] != "injection" {
		t.Fatalf("breeder calls = %v, want [injection]", breeder.calls)
	}
	if len(batch) != 1 || batch[0].ID != "s1" {
		t.Fatalf("batch = %+v, want the injection seed only", batch)
	}
}

func TestProposeDeduplicatesAcrossHypotheses(t *testing.T) {
	analyzer := stubAnalyzer{hyps: []reasoning.Hypothesis{
		{Tags: []string{"injection"}, Confidence: 0.9},
		{Tags: []string{"encoding"}, Confidence: 0.8},
	}}
	breeder := &stubBreeder{batches: map[string][]population.Seed{
		"injection": {{ID: "s1", GenomeHash: "shared"}, {ID: "s2", GenomeHash: "h2"}},
		"encoding":  {{ID: "s3", GenomeHash: "shared"}},
	}}

	c := newCoordinator(analyzer, breeder, 0.5)
	batch := c.Propose(context.Background(), nonEmptySnapshot(), population.New(), 1, false)

	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2 after dedup", len(batch))
	}
	for _, seed := range batch {
		if seed.ID == "s3" {
			t.Error("duplicate genome hash from second hypothesis survived")
		}
	}
}

func TestProposeEmptySnapshotSkipsAnalysis(t *testing.T) {
	breeder := &stubBreeder{}
	c := newCoordinator(stubAnalyzer{hyps: []reasoning.Hypothesis{{Tags: []string{"x"}, Confidence: 1}}}, breeder, 0)

	if batch := c.Propose(context.Background(), knowledge.Snapshot{}, population.New(), 1, false); batch != nil {
		t.Fatalf("batch = %+v, want nil for empty snapshot", batch)
	}
	if len(breeder.calls) != 0 {
		t.Fatalf("breeder was called %d times for empty snapshot", len(breeder.calls))
	}
}

func TestProposeToleratesSynthesisErrors(t *testing.T) {
	analyzer := stubAnalyzer{hyps: []reasoning.Hypothesis{
		{Tags: []string{"injection"}, Confidence: 0.9},
	}}
	breeder := &stubBreeder{err: synthesis.ErrNoSourceSeeds}

	c := newCoordinator(analyzer, breeder, 0.5)
	if batch := c.Propose(context.Background(), nonEmptySnapshot(), population.New(), 1, false); len(batch) != 0 {
		t.Fatalf("batch = %+v, want empty when nothing is breedable", batch)
	}
}

func TestProposeDiversifyWidensMutation(t *testing.T) {
	analyzer := stubAnalyzer{hyps: []reasoning.Hypothesis{
		{Tags: []string{"injection"}, Confidence: 0.9},
	}}
	breeder := &stubBreeder{}

	c := newCoordinator(analyzer, breeder, 0.5)
	c.Propose(context.Background(), nonEmptySnapshot(), population.New(), 1, false)
	c.Propose(context.Background(), nonEmptySnapshot(), population.New(), 2, true)

	if len(breeder.boosts) != 2 || breeder.boosts[0] != 0 || breeder.boosts[1] != diversifyBoost {
		t.Fatalf("boosts = %v, want [0 %d]", breeder.boosts, diversifyBoost)
	}
}

func TestProposeKeepsPartialBatchOnRetryExhaustion(t *testing.T) {
	analyzer := stubAnalyzer{hyps: []reasoning.Hypothesis{
		{Tags: []string{"injection"}, Confidence: 0.9},
	}}
	breeder := &stubBreeder{
		batches: map[string][]population.Seed{"injection": {{ID: "s1", GenomeHash: "h1"}}},
		err:     synthesis.ErrRetriesExhausted,
	}

	c := newCoordinator(analyzer, breeder, 0.5)
	batch := c.Propose(context.Background(), nonEmptySnapshot(), population.New(), 1, false)
	if len(batch) != 1 || batch[0].ID != "s1" {
		t.Fatalf("batch = %+v, want the partial seed kept", batch)
	}
}
