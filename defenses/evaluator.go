package defenses

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/redqueen/attacks"
	"github.com/swarmguard/redqueen/knowledge"
	"github.com/swarmguard/redqueen/population"
)

// Evaluator runs payloads against defense seeds. Stateless apart from
// metrics; safe for concurrent use by the evaluation worker pool.
type Evaluator struct {
	evaluations metric.Int64Counter
	latency     metric.Float64Histogram
}

func NewEvaluator(meter metric.Meter) *Evaluator {
	evaluations, _ := meter.Int64Counter("redqueen_evaluations_total")
	latency, _ := meter.Float64Histogram("redqueen_evaluation_duration_ms")
	return &Evaluator{evaluations: evaluations, latency: latency}
}

// Evaluate tests one payload against one seed. A payload is blocked when
// any genome rule matching one of its tags triggers; an unblocked payload
// carrying SQL keywords counts as an information leak.
func (e *Evaluator) Evaluate(ctx context.Context, p attacks.Payload, seed population.Seed, generation int) (knowledge.EvaluationResult, error) {
	start := time.Now()
	feats := p.Features()

	blocked := false
	for _, rule := range seed.Genome {
		if !tagMatches(rule.Tag, p.Tags) {
			continue
		}
		check, ok := mechanismTable[rule.Mechanism]
		if !ok {
			continue
		}
		if check(feats, rule.Strength) {
			blocked = true
			break
		}
	}

	res := knowledge.EvaluationResult{
		AttackID:   knowledge.PatternDesc{Technique: p.Technique, Shape: p.Shape(), Tags: p.Tags}.Signature(),
		DefenseID:  seed.ID,
		Generation: generation,
		Blocked:    blocked,
		InfoLeak:   !blocked && feats.HasSQLKeywords,
		LatencyMs:  float64(time.Since(start).Microseconds()) / 1000.0,
	}
	e.latency.Record(ctx, res.LatencyMs)
	e.evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("technique", p.Technique),
		attribute.Bool("blocked", blocked),
	))
	return res, nil
}

func tagMatches(ruleTag string, payloadTags []string) bool {
	for _, t := range payloadTags {
		if t == ruleTag {
			return true
		}
	}
	return false
}
