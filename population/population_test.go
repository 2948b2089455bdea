package population

import "testing"

func genome(tag string, strength int) Genome {
	return Genome{{Tag: tag, Mechanism: "sanitization", Strength: strength, Weight: 1.0}}
}

func TestGenomeHashStable(t *testing.T) {
	g1 := genome("injection", 5)
	g2 := genome("injection", 5)
	if g1.Hash() != g2.Hash() {
		t.Fatalf("identical genomes produced different hashes")
	}
	if g1.Hash() == genome("injection", 6).Hash() {
		t.Fatalf("different genomes collided")
	}
}

func TestGenomeHashOrderSensitive(t *testing.T) {
	a := Rule{Tag: "injection", Mechanism: "sanitization", Strength: 5, Weight: 1}
	b := Rule{Tag: "overflow", Mechanism: "bounds_enforcement", Strength: 3, Weight: 1}
	if (Genome{a, b}).Hash() == (Genome{b, a}).Hash() {
		t.Fatalf("rule order must affect the hash")
	}
}

func TestPopulationRejectsDuplicateHash(t *testing.T) {
	p := New()
	s := Seed{ID: "s1", Genome: genome("injection", 5)}
	if !p.Add(s) {
		t.Fatalf("first add rejected")
	}
	dup := Seed{ID: "s2", Genome: genome("injection", 5)}
	if p.Add(dup) {
		t.Fatalf("duplicate genome hash accepted")
	}
	if p.Size() != 1 {
		t.Fatalf("expected size 1, got %d", p.Size())
	}
}

func TestSeedsOrderedByFitness(t *testing.T) {
	p := New(
		Seed{ID: "low", Genome: genome("a", 1), Fitness: 0.2},
		Seed{ID: "high", Genome: genome("b", 2), Fitness: 0.9},
		Seed{ID: "mid", Genome: genome("c", 3), Fitness: 0.5},
	)
	seeds := p.Seeds()
	if seeds[0].ID != "high" || seeds[2].ID != "low" {
		t.Fatalf("wrong order: %v %v %v", seeds[0].ID, seeds[1].ID, seeds[2].ID)
	}
}

func TestNewSeedIDDeterministic(t *testing.T) {
	a := NewSeedID("mutation", 3, 1, "p1")
	b := NewSeedID("mutation", 3, 1, "p1")
	if a != b {
		t.Fatalf("seed id not deterministic")
	}
	if a == NewSeedID("mutation", 3, 2, "p1") {
		t.Fatalf("seed id ignores index")
	}
}
