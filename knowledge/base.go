// Package knowledge holds the durable aggregate store of attack-pattern
// observations: unique pattern entries with cumulative counters plus an
// append-only log of evaluation results.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrDuplicateResult signals a replayed (attack, defense, generation)
	// key. The write is dropped and aggregate counters stay unchanged.
	ErrDuplicateResult = errors.New("duplicate evaluation result")

	// ErrCorrupted signals a violated aggregate invariant on read. Fatal:
	// bad statistics must not reach the reasoning engine.
	ErrCorrupted = errors.New("knowledge base corrupted")
)

// patternRecord is the single mutable entity per signature. Counters are
// updated only by Base.Record.
type patternRecord struct {
	signature string
	tags      []string
	firstSeen int
	lastSeen  int
	attempts  uint64
	blocks    uint64
}

// Base is the knowledge base. Record must be called from a single writer
// (the loop's recorder goroutine); snapshots and queries are safe from any
// goroutine and never observe a partially applied record.
type Base struct {
	mu       sync.RWMutex
	patterns map[string]*patternRecord
	log      *resultLog
	seen     map[string]struct{}
	maxGen   int

	recorded   metric.Int64Counter
	duplicates metric.Int64Counter
}

// NewBase creates an empty knowledge base. The meter follows the store
// around so writes stay observable.
func NewBase(meter metric.Meter) *Base {
	recorded, _ := meter.Int64Counter("redqueen_kb_results_recorded_total")
	duplicates, _ := meter.Int64Counter("redqueen_kb_duplicate_results_total")
	return &Base{
		patterns:   make(map[string]*patternRecord),
		log:        newResultLog(),
		seen:       make(map[string]struct{}),
		recorded:   recorded,
		duplicates: duplicates,
	}
}

// Record upserts the pattern entry for desc and appends res to the result
// log. A new signature creates an entry; a known one only bumps counters.
// Inconclusive results are logged for auditability but do not touch the
// aggregate counters, since their outcome is unknown.
func (b *Base) Record(ctx context.Context, desc PatternDesc, res EvaluationResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := res.Key()
	if _, dup := b.seen[key]; dup {
		b.duplicates.Add(ctx, 1)
		return fmt.Errorf("%w: %s", ErrDuplicateResult, key)
	}
	b.seen[key] = struct{}{}
	b.log.append(res)
	if res.Generation > b.maxGen {
		b.maxGen = res.Generation
	}
	b.recorded.Add(ctx, 1, metric.WithAttributes(attribute.Bool("inconclusive", res.Inconclusive)))

	if res.Inconclusive {
		return nil
	}

	sig := desc.Signature()
	rec, ok := b.patterns[sig]
	if !ok {
		rec = &patternRecord{
			signature: sig,
			tags:      append([]string(nil), desc.Tags...),
			firstSeen: res.Generation,
			lastSeen:  res.Generation,
		}
		b.patterns[sig] = rec
	}
	if res.Generation > rec.lastSeen {
		rec.lastSeen = res.Generation
	}
	rec.attempts++
	if res.Blocked {
		rec.blocks++
	}
	return nil
}

// Snapshot returns a consistent point-in-time view ordered by ascending
// signature. It verifies aggregate invariants first and fails with
// ErrCorrupted if any entry or the result chain is damaged.
func (b *Base) Snapshot() (Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.log.verify() {
		return Snapshot{}, fmt.Errorf("%w: result log chain broken", ErrCorrupted)
	}

	views := make([]PatternView, 0, len(b.patterns))
	for _, rec := range b.patterns {
		if rec.blocks > rec.attempts {
			return Snapshot{}, fmt.Errorf("%w: pattern %s has blocks %d > attempts %d",
				ErrCorrupted, rec.signature, rec.blocks, rec.attempts)
		}
		views = append(views, viewOf(rec))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Signature < views[j].Signature })

	return Snapshot{Generation: b.maxGen, Patterns: views, Results: b.log.len()}, nil
}

// Results returns the number of results recorded so far.
func (b *Base) Results() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.log.len()
}

func viewOf(rec *patternRecord) PatternView {
	v := PatternView{
		Signature: rec.signature,
		Tags:      append([]string(nil), rec.tags...),
		FirstSeen: rec.firstSeen,
		LastSeen:  rec.lastSeen,
		Attempts:  rec.attempts,
		Blocks:    rec.blocks,
	}
	if rec.attempts > 0 {
		v.SuccessRate = float64(rec.blocks) / float64(rec.attempts)
	}
	return v
}
