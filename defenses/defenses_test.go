package defenses

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/swarmguard/redqueen/attacks"
	"github.com/swarmguard/redqueen/population"
)

func testEvaluator() *Evaluator {
	mp := noopmetric.MeterProvider{}
	return NewEvaluator(mp.Meter("test"))
}

func TestStrongSanitizationBlocksInjection(t *testing.T) {
	seed := population.Seed{
		ID:     "d1",
		Genome: population.Genome{{Tag: "injection", Mechanism: Sanitization, Strength: 8, Weight: 1}},
	}
	p := attacks.Payload{Technique: "polymorphic_sql", Tags: []string{"injection"}, Data: "admin'; DROP TABLE users--"}

	res, err := testEvaluator().Evaluate(context.Background(), p, seed, 1)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !res.Blocked {
		t.Fatalf("expected block")
	}
	if res.DefenseID != "d1" || res.Generation != 1 {
		t.Fatalf("result metadata wrong: %+v", res)
	}
}

func TestWeakDefenseLeaks(t *testing.T) {
	seed := population.Seed{
		ID:     "d2",
		Genome: population.Genome{{Tag: "injection", Mechanism: Sanitization, Strength: 1, Weight: 1}},
	}
	p := attacks.Payload{Technique: "polymorphic_sql", Tags: []string{"injection"}, Data: "admin' UNION SELECT 1"}

	res, _ := testEvaluator().Evaluate(context.Background(), p, seed, 0)
	if res.Blocked {
		t.Fatalf("strength 1 sanitization should not block")
	}
	if !res.InfoLeak {
		t.Fatalf("unblocked SQL payload should flag a leak")
	}
}

func TestUnmatchedTagNeverBlocks(t *testing.T) {
	seed := population.Seed{
		ID:     "d3",
		Genome: population.Genome{{Tag: "overflow", Mechanism: BoundsEnforcement, Strength: 10, Weight: 1}},
	}
	p := attacks.Payload{Technique: "polymorphic_sql", Tags: []string{"injection"}, Data: "admin' OR 1=1"}

	res, _ := testEvaluator().Evaluate(context.Background(), p, seed, 0)
	if res.Blocked {
		t.Fatalf("rule for unrelated tag must not trigger")
	}
}

func TestBoundsEnforcementScalesWithStrength(t *testing.T) {
	big := attacks.Payload{Technique: "oversized_payload", Tags: []string{"overflow"}, Data: strings.Repeat("A", 2000)}

	weak := population.Seed{ID: "w", Genome: population.Genome{{Tag: "overflow", Mechanism: BoundsEnforcement, Strength: 1, Weight: 1}}}
	strong := population.Seed{ID: "s", Genome: population.Genome{{Tag: "overflow", Mechanism: BoundsEnforcement, Strength: 9, Weight: 1}}}

	ev := testEvaluator()
	if res, _ := ev.Evaluate(context.Background(), big, weak, 0); res.Blocked {
		t.Fatalf("strength 1 should allow 2000 bytes")
	}
	if res, _ := ev.Evaluate(context.Background(), big, strong, 0); !res.Blocked {
		t.Fatalf("strength 9 should reject 2000 bytes")
	}
}

func TestEvolveCoversTargetTags(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	parent := population.Genome{{Tag: "injection", Mechanism: Sanitization, Strength: 3, Weight: 1}}

	child := Mutator{}.Evolve(parent, []string{"injection", "encoding"}, 1, rng)

	var injStrength int
	var hasEncoding bool
	for _, r := range child {
		if r.Tag == "injection" {
			injStrength = r.Strength
		}
		if r.Tag == "encoding" && r.Mechanism == Decoding {
			hasEncoding = true
		}
	}
	if injStrength <= 3 {
		t.Fatalf("existing rule not strengthened: %d", injStrength)
	}
	if !hasEncoding {
		t.Fatalf("uncovered target tag did not gain a rule: %+v", child)
	}
	if len(parent) != 1 || parent[0].Strength != 3 {
		t.Fatalf("parent genome mutated in place")
	}
}

func TestEvolveClampsStrength(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	parent := population.Genome{{Tag: "state", Mechanism: StateProtection, Strength: 10, Weight: 1}}
	for i := 0; i < 20; i++ {
		child := Mutator{}.Evolve(parent, []string{"state"}, 5, rng)
		for _, r := range child {
			if r.Strength < 0 || r.Strength > 10 {
				t.Fatalf("strength out of range: %d", r.Strength)
			}
		}
	}
}

func TestCrossoverDeduplicatesRules(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a := population.Genome{
		{Tag: "injection", Mechanism: Sanitization, Strength: 5, Weight: 1},
		{Tag: "overflow", Mechanism: BoundsEnforcement, Strength: 4, Weight: 1},
	}
	b := population.Genome{
		{Tag: "injection", Mechanism: Sanitization, Strength: 8, Weight: 1},
		{Tag: "state", Mechanism: StateProtection, Strength: 2, Weight: 1},
	}
	for i := 0; i < 10; i++ {
		child := Mutator{}.Crossover(a, b, rng)
		seen := make(map[string]int)
		for _, r := range child {
			seen[r.Tag+"|"+r.Mechanism]++
		}
		for key, n := range seen {
			if n > 1 {
				t.Fatalf("duplicate rule %s in crossover child", key)
			}
		}
	}
}

func TestBaselineSeedsCoverEveryFamily(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	seeds := BaselineSeeds(8, rng)
	if len(seeds) != 8 {
		t.Fatalf("seed count = %d, want 8", len(seeds))
	}

	tags := make(map[string]struct{})
	hashes := make(map[string]struct{})
	for _, s := range seeds {
		if s.GenomeHash != s.Genome.Hash() {
			t.Errorf("seed %s hash mismatch", s.ID)
		}
		hashes[s.GenomeHash] = struct{}{}
		for _, r := range s.Genome {
			tags[r.Tag] = struct{}{}
		}
	}
	for _, want := range []string{"injection", "encoding", "overflow", "state", "flood", "obfuscation"} {
		if _, ok := tags[want]; !ok {
			t.Errorf("no baseline seed covers %q", want)
		}
	}
	if len(hashes) < 7 {
		t.Errorf("only %d distinct genomes among 8 seeds", len(hashes))
	}
}

func TestBaselineSeedIDsDeterministic(t *testing.T) {
	a := BaselineSeeds(4, rand.New(rand.NewSource(1)))
	b := BaselineSeeds(4, rand.New(rand.NewSource(1)))
	for i := range a {
		if a[i].ID != b[i].ID || a[i].GenomeHash != b[i].GenomeHash {
			t.Fatalf("seed %d differs across identical rng seeds", i)
		}
	}
}
