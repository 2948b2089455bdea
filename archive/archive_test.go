package archive

import (
	"context"
	"errors"
	"testing"

	noopmetric "go.opentelemetry.io/otel/metric/noop"

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

func archSeed(id string, gen int, parents ...string) population.Seed {
	g := population.Genome{{Tag: "injection", Mechanism: "sanitization", Strength: gen + 1, Weight: 1}}
	return population.Seed{ID: id, Genome: g, GenomeHash: g.Hash(), Generation: gen, ParentIDs: parents}
}

func TestSaveAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	want := archSeed("seed-1", 2, "seed-0")
	if err := s.SaveSeed(ctx, want); err != nil {
		t.Fatalf("SaveSeed: %v", err)
	}
	got, err := s.Get(ctx, "seed-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != want.ID || got.GenomeHash != want.GenomeHash || got.Generation != want.Generation {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSaveSeedIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	seed := archSeed("seed-1", 1)
	for i := 0; i < 3; i++ {
		if err := s.SaveSeed(ctx, seed); err != nil {
			t.Fatalf("SaveSeed attempt %d: %v", i, err)
		}
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLineageWalk(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	root := archSeed("root", 0)
	mid := archSeed("mid", 1, "root")
	leaf := archSeed("leaf", 2, "mid", "root")
	for _, seed := range []population.Seed{root, mid, leaf} {
		if err := s.SaveSeed(ctx, seed); err != nil {
			t.Fatalf("SaveSeed %s: %v", seed.ID, err)
		}
	}

	line, err := s.Lineage(ctx, "leaf")
	if err != nil {
		t.Fatalf("Lineage: %v", err)
	}
	if len(line) != 3 {
		t.Fatalf("lineage length = %d, want 3", len(line))
	}
	if line[0].ID != "leaf" {
		t.Errorf("lineage starts at %s, want leaf", line[0].ID)
	}
}

func TestLineageMissingParentEndsBranch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	// parent "live-1" intentionally absent: still in the live population
	leaf := archSeed("leaf", 3, "live-1")
	if err := s.SaveSeed(ctx, leaf); err != nil {
		t.Fatalf("SaveSeed: %v", err)
	}

	line, err := s.Lineage(ctx, "leaf")
	if err != nil {
		t.Fatalf("Lineage: %v", err)
	}
	if len(line) != 1 {
		t.Fatalf("lineage length = %d, want 1", len(line))
	}
}

func TestLineageUnknownRoot(t *testing.T) {
	s := openStore(t)
	if _, err := s.Lineage(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
