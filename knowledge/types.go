package knowledge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"
)

// PatternDesc describes an observed attack pattern. Signature is derived
// from technique and payload shape only, so repeated observations of the
// same technique/shape collapse onto one pattern entry.
type PatternDesc struct {
	Technique string   `json:"technique"`
	Shape     string   `json:"shape"` // canonical payload shape features
	Tags      []string `json:"tags"`
}

// Signature returns the stable pattern id for this descriptor.
func (d PatternDesc) Signature() string {
	h1, h2 := murmur3.Sum128([]byte(d.Technique + "|" + d.Shape))
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// EvaluationResult is an append-only fact about one (attack, defense) pair
// in one generation. Never mutated after creation.
type EvaluationResult struct {
	AttackID     string  `json:"attack_id"`
	DefenseID    string  `json:"defense_id"`
	Generation   int     `json:"generation"`
	Blocked      bool    `json:"blocked"`
	InfoLeak     bool    `json:"info_leak"`
	Inconclusive bool    `json:"inconclusive"`
	LatencyMs    float64 `json:"latency_ms"`
}

// Key uniquely identifies a result within the log.
func (r EvaluationResult) Key() string {
	return fmt.Sprintf("%s|%s|%d", r.AttackID, r.DefenseID, r.Generation)
}

// PatternView is a read-only copy of one pattern entry with derived stats.
type PatternView struct {
	Signature   string   `json:"signature"`
	Tags        []string `json:"tags"`
	FirstSeen   int      `json:"first_seen"`
	LastSeen    int      `json:"last_seen"`
	Attempts    uint64   `json:"attempts"`
	Blocks      uint64   `json:"blocks"`
	SuccessRate float64  `json:"success_rate"` // blocks / attempts
}

// Snapshot is a point-in-time view of the knowledge base, ordered by
// ascending signature. Writes after the snapshot is taken are not visible.
type Snapshot struct {
	Generation int           `json:"generation"` // highest generation recorded
	Patterns   []PatternView `json:"patterns"`
	Results    int           `json:"results"` // log length at snapshot time
}

// Empty reports whether the snapshot holds no pattern entries.
func (s Snapshot) Empty() bool { return len(s.Patterns) == 0 }

// TagKey returns the canonical key for a tag set: sorted, comma-joined.
func TagKey(tags []string) string {
	cp := make([]string, len(tags))
	copy(cp, tags)
	sort.Strings(cp)
	return strings.Join(cp, ",")
}
