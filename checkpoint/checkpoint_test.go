package checkpoint

import (
	"context"
	"reflect"
	"testing"

	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/swarmguard/redqueen/knowledge"
	"github.com/swarmguard/redqueen/population"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	mp := noopmetric.MeterProvider{}
	s, err := Open(t.TempDir(), mp.Meter("test"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(runID string, gen int) Record {
	g := population.Genome{{Tag: "injection", Mechanism: "sanitization", Strength: gen + 1, Weight: 1}}
	return Record{
		RunID:      runID,
		Generation: gen,
		Seeds: []population.Seed{{
			ID: population.NewSeedID("defense", gen, 0), Genome: g, GenomeHash: g.Hash(), Generation: gen,
		}},
		Knowledge: knowledge.Snapshot{Generation: gen, Results: gen * 10},
		Meta:      population.MetaState{BestFitness: float64(gen) / 10, FitnessHistory: []float64{0.1}},
	}
}

func TestSaveAndLoadLatest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for gen := 0; gen < 3; gen++ {
		if err := s.SaveGeneration(ctx, record("run-1", gen)); err != nil {
			t.Fatalf("SaveGeneration %d: %v", gen, err)
		}
	}

	got, found, err := s.LoadLatest(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if !found {
		t.Fatal("LoadLatest found = false, want true")
	}
	if got.Generation != 2 {
		t.Errorf("latest generation = %d, want 2", got.Generation)
	}
	if len(got.Seeds) != 1 || got.Seeds[0].Generation != 2 {
		t.Errorf("seeds = %+v, want the generation-2 seed", got.Seeds)
	}
	if got.SavedAt.IsZero() {
		t.Error("SavedAt not set on save")
	}
}

func TestLoadLatestUnknownRun(t *testing.T) {
	s := openStore(t)
	_, found, err := s.LoadLatest(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if found {
		t.Fatal("found = true for unknown run")
	}
}

func TestLoadGeneration(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	want := record("run-1", 5)
	if err := s.SaveGeneration(ctx, want); err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}

	got, found, err := s.LoadGeneration(ctx, "run-1", 5)
	if err != nil {
		t.Fatalf("LoadGeneration: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if !reflect.DeepEqual(got.Meta, want.Meta) {
		t.Errorf("meta = %+v, want %+v", got.Meta, want.Meta)
	}

	if _, found, _ := s.LoadGeneration(ctx, "run-1", 99); found {
		t.Error("found = true for missing generation")
	}
}

func TestGenerationsIsolatedPerRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for gen := 0; gen < 4; gen++ {
		if err := s.SaveGeneration(ctx, record("run-a", gen)); err != nil {
			t.Fatalf("SaveGeneration run-a %d: %v", gen, err)
		}
	}
	if err := s.SaveGeneration(ctx, record("run-b", 7)); err != nil {
		t.Fatalf("SaveGeneration run-b: %v", err)
	}

	gens, err := s.Generations(ctx, "run-a")
	if err != nil {
		t.Fatalf("Generations: %v", err)
	}
	if !reflect.DeepEqual(gens, []int{0, 1, 2, 3}) {
		t.Fatalf("run-a generations = %v, want [0 1 2 3]", gens)
	}
}

func TestSaveOverwritesSameGeneration(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := record("run-1", 1)
	first.Meta.PlateauCount = 1
	if err := s.SaveGeneration(ctx, first); err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}

	second := record("run-1", 1)
	second.Meta.PlateauCount = 4
	if err := s.SaveGeneration(ctx, second); err != nil {
		t.Fatalf("SaveGeneration rewrite: %v", err)
	}

	got, _, err := s.LoadGeneration(ctx, "run-1", 1)
	if err != nil {
		t.Fatalf("LoadGeneration: %v", err)
	}
	if got.Meta.PlateauCount != 4 {
		t.Errorf("plateau count = %d, want rewrite to win", got.Meta.PlateauCount)
	}
}
