// Package synthesis breeds candidate defense seeds from reasoning
// hypotheses. All randomness flows through an injected source, so a fixed
// seed reproduces the exact same batch.
package synthesis

import (
	"context"
	"errors"
	"math/rand"
	"sort"

	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/redqueen/population"
	"github.com/swarmguard/redqueen/reasoning"
)

var (
	// ErrNoSourceSeeds means no population seed shares a tag with the
	// hypothesis, so there is nothing to breed from.
	ErrNoSourceSeeds = errors.New("synthesis: no source seeds match hypothesis tags")
	// ErrRetriesExhausted means every candidate produced within the retry
	// budget duplicated an existing genome.
	ErrRetriesExhausted = errors.New("synthesis: retries exhausted without novel genome")
)

// Mutator produces genome variants. Satisfied by defenses.Mutator.
type Mutator interface {
	Evolve(parent population.Genome, targetTags []string, strength int, rng *rand.Rand) population.Genome
	Crossover(a, b population.Genome, rng *rand.Rand) population.Genome
}

// Synthesizer turns one hypothesis into a batch of novel candidate seeds.
type Synthesizer struct {
	mutator    Mutator
	rng        *rand.Rand
	batchSize  int
	maxRetries int
	produced   metric.Int64Counter
	rejected   metric.Int64Counter
}

// Options bound a synthesis batch. Zero values fall back to defaults.
type Options struct {
	BatchSize  int // candidates per hypothesis, default 4
	MaxRetries int // duplicate-genome retries per candidate, default 8
}

func New(m Mutator, rng *rand.Rand, opts Options, meter metric.Meter) *Synthesizer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 4
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 8
	}
	produced, _ := meter.Int64Counter("redqueen_synthesis_candidates_total")
	rejected, _ := meter.Int64Counter("redqueen_synthesis_duplicates_rejected_total")
	return &Synthesizer{
		mutator:    m,
		rng:        rng,
		batchSize:  opts.BatchSize,
		maxRetries: opts.MaxRetries,
		produced:   produced,
		rejected:   rejected,
	}
}

// Synthesize breeds up to BatchSize novel seeds targeting the hypothesis
// tags. Source seeds are the population members sharing at least one tag
// with the hypothesis, strongest first. Boost widens mutation strength,
// used when the run plateaus. Candidates whose genome hash already exists
// in the population or earlier in the batch are rejected and retried; a
// candidate slot that exhausts its retries ends the batch early with
// whatever was produced so far and ErrRetriesExhausted.
func (s *Synthesizer) Synthesize(ctx context.Context, hyp reasoning.Hypothesis, pop *population.Population, generation, boost int) ([]population.Seed, error) {
	sources := sourceSeeds(hyp.Tags, pop)
	if len(sources) == 0 {
		return nil, ErrNoSourceSeeds
	}

	strength := mutationStrength(hyp.Confidence, boost)
	batch := make([]population.Seed, 0, s.batchSize)
	batchHashes := make(map[string]struct{})

	for i := 0; i < s.batchSize; i++ {
		seed, retries, ok := s.breed(sources, hyp.Tags, strength, generation, i, pop, batchHashes)
		s.rejected.Add(ctx, int64(retries))
		if !ok {
			if len(batch) == 0 {
				return nil, ErrRetriesExhausted
			}
			return batch, ErrRetriesExhausted
		}
		batchHashes[seed.GenomeHash] = struct{}{}
		batch = append(batch, seed)
		s.produced.Add(ctx, 1)
	}
	return batch, nil
}

// breed tries up to maxRetries times to produce a seed whose genome is new
// to both the population and the current batch. Returns the number of
// duplicate candidates discarded along the way.
func (s *Synthesizer) breed(sources []population.Seed, tags []string, strength, generation, index int, pop *population.Population, batchHashes map[string]struct{}) (population.Seed, int, bool) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		parent := sources[s.rng.Intn(len(sources))]
		parents := []string{parent.ID}

		var genome population.Genome
		if len(sources) > 1 && s.rng.Float64() < 0.4 {
			other := sources[s.rng.Intn(len(sources))]
			if other.ID != parent.ID {
				genome = s.mutator.Crossover(parent.Genome, other.Genome, s.rng)
				parents = append(parents, other.ID)
			}
		}
		genome = s.mutator.Evolve(firstNonNil(genome, parent.Genome), tags, strength, s.rng)

		hash := genome.Hash()
		if _, dup := batchHashes[hash]; dup || pop.Contains(hash) {
			continue
		}
		return population.Seed{
			ID:         population.NewSeedID("defense", generation, index, parents...),
			Genome:     genome,
			GenomeHash: hash,
			ParentIDs:  parents,
			Generation: generation,
		}, attempt, true
	}
	return population.Seed{}, s.maxRetries, false
}

// sourceSeeds returns population members sharing at least one hypothesis
// tag, ordered by descending fitness with genome-hash ties ascending.
func sourceSeeds(tags []string, pop *population.Population) []population.Seed {
	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[t] = struct{}{}
	}

	var out []population.Seed
	for _, seed := range pop.Seeds() {
		for _, t := range seed.Genome.Tags() {
			if _, ok := want[t]; ok {
				out = append(out, seed)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Fitness != out[j].Fitness {
			return out[i].Fitness > out[j].Fitness
		}
		return out[i].GenomeHash < out[j].GenomeHash
	})
	return out
}

// mutationStrength maps hypothesis confidence onto the 1..10 rule-strength
// scale: the weaker the current coverage, the harder the push. Boost adds
// plateau-driven diversification on top.
func mutationStrength(confidence float64, boost int) int {
	s := int(confidence*10) + 1 + boost
	if s > 10 {
		s = 10
	}
	return s
}

func firstNonNil(a, b population.Genome) population.Genome {
	if a != nil {
		return a
	}
	return b
}
