// Package reasoning turns knowledge-base snapshots into ranked defense
// hypotheses. Analysis is a pure function of the snapshot: no clocks, no
// map-order dependence, so identical snapshots rank identically.
package reasoning

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/redqueen/knowledge"
)

// Hypothesis proposes that the attack group sharing Tags is under-defended.
// Transient: produced and consumed within one cycle, never persisted.
type Hypothesis struct {
	Tags       []string // targeted technique tags
	Confidence float64  // coverage score: 1 - aggregate success rate
	Supporting []string // pattern signatures backing the hypothesis
	SampleSize uint64   // aggregate attempts across the group
}

// Engine groups patterns by shared tag sets and scores coverage.
type Engine struct {
	minSampleSize uint64
	analyses      metric.Int64Counter
	hypotheses    metric.Int64Counter
}

func NewEngine(minSampleSize int, meter metric.Meter) *Engine {
	if minSampleSize < 1 {
		minSampleSize = 1
	}
	analyses, _ := meter.Int64Counter("redqueen_reasoning_analyses_total")
	hypotheses, _ := meter.Int64Counter("redqueen_reasoning_hypotheses_total")
	return &Engine{minSampleSize: uint64(minSampleSize), analyses: analyses, hypotheses: hypotheses}
}

type tagGroup struct {
	tags       []string
	attempts   uint64
	blocks     uint64
	supporting []string
}

// Analyze returns hypotheses ranked by descending coverage score, ties
// broken by the group's lowest signature. Groups under the minimum sample
// size are dropped. An empty snapshot yields an empty slice.
func (e *Engine) Analyze(ctx context.Context, snap knowledge.Snapshot) []Hypothesis {
	e.analyses.Add(ctx, 1)
	groups := make(map[string]*tagGroup)

	// snapshot patterns arrive ordered by signature, so supporting[0] is
	// always the group's lowest signature
	for _, p := range snap.Patterns {
		key := knowledge.TagKey(p.Tags)
		g, ok := groups[key]
		if !ok {
			g = &tagGroup{tags: append([]string(nil), p.Tags...)}
			groups[key] = g
		}
		g.attempts += p.Attempts
		g.blocks += p.Blocks
		g.supporting = append(g.supporting, p.Signature)
	}

	out := make([]Hypothesis, 0, len(groups))
	for _, g := range groups {
		if g.attempts < e.minSampleSize {
			continue
		}
		coverage := 1.0 - float64(g.blocks)/float64(g.attempts)
		out = append(out, Hypothesis{
			Tags:       g.tags,
			Confidence: coverage,
			Supporting: g.supporting,
			SampleSize: g.attempts,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Supporting[0] < out[j].Supporting[0]
	})
	e.hypotheses.Add(ctx, int64(len(out)))
	return out
}

// WeakTags collects the tags of the top-ranked hypotheses, i.e. the tags
// attackers currently succeed against most. Used to bias the next campaign.
// Limit bounds the number of groups consulted; 0 means all.
func WeakTags(hyps []Hypothesis, limit int) []string {
	seen := make(map[string]struct{})
	var tags []string
	for i, h := range hyps {
		if limit > 0 && i >= limit {
			break
		}
		for _, t := range h.Tags {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	return tags
}
