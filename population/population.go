// Package population defines evolvable defense seeds: rule genomes with
// stable hashes, lineage metadata, and the live population owned by the
// orchestration loop.
package population

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Rule is one entry in a defense genome: a mechanism applied to payloads
// carrying a tag, with a strength in [0,10] and a blend weight.
type Rule struct {
	Tag       string  `json:"tag"`
	Mechanism string  `json:"mechanism"`
	Strength  int     `json:"strength"`
	Weight    float64 `json:"weight"`
}

// Genome is an ordered rule set. Order matters for evaluation and hashing.
type Genome []Rule

// Hash returns the stable genome hash used for duplicate rejection.
func (g Genome) Hash() string {
	var sb strings.Builder
	for _, r := range g {
		fmt.Fprintf(&sb, "%s|%s|%d|%.4f;", r.Tag, r.Mechanism, r.Strength, r.Weight)
	}
	h1, h2 := murmur3.Sum128([]byte(sb.String()))
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// Clone returns a deep copy.
func (g Genome) Clone() Genome {
	cp := make(Genome, len(g))
	copy(cp, g)
	return cp
}

// Tags returns the distinct tags covered by the genome, sorted.
func (g Genome) Tags() []string {
	set := make(map[string]struct{}, len(g))
	for _, r := range g {
		set[r.Tag] = struct{}{}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Seed is one concrete defense instance. Retired seeds move to the archive
// and are never deleted, for lineage queries.
type Seed struct {
	ID         string   `json:"id"`
	Genome     Genome   `json:"genome"`
	GenomeHash string   `json:"genome_hash"`
	Fitness    float64  `json:"fitness"`
	ParentIDs  []string `json:"parent_ids,omitempty"`
	Generation int      `json:"generation"` // generation created
}

// NewSeedID derives a deterministic seed id from its provenance, so replays
// with the same RNG seed produce identical lineage.
func NewSeedID(kind string, generation, index int, parents ...string) string {
	base := fmt.Sprintf("%s|g=%d|i=%d|p=%s", kind, generation, index, strings.Join(parents, ","))
	h := sha256.Sum256([]byte(base))
	return fmt.Sprintf("seed-%x", h[:8])
}

// Population is the live defense population. The orchestration loop is its
// sole mutator, so no locking happens here.
type Population struct {
	seeds  []Seed
	hashes map[string]struct{}
}

func New(initial ...Seed) *Population {
	p := &Population{hashes: make(map[string]struct{})}
	for _, s := range initial {
		p.Add(s)
	}
	return p
}

// Add inserts a seed unless its genome hash is already live.
func (p *Population) Add(s Seed) bool {
	if s.GenomeHash == "" {
		s.GenomeHash = s.Genome.Hash()
	}
	if _, dup := p.hashes[s.GenomeHash]; dup {
		return false
	}
	p.hashes[s.GenomeHash] = struct{}{}
	p.seeds = append(p.seeds, s)
	return true
}

// Contains reports whether a genome hash is live.
func (p *Population) Contains(genomeHash string) bool {
	_, ok := p.hashes[genomeHash]
	return ok
}

// Size returns the live seed count.
func (p *Population) Size() int { return len(p.seeds) }

// Seeds returns a copy ordered by descending fitness, ties by id for
// deterministic selection.
func (p *Population) Seeds() []Seed {
	cp := make([]Seed, len(p.seeds))
	copy(cp, p.seeds)
	sort.Slice(cp, func(i, j int) bool {
		if cp[i].Fitness != cp[j].Fitness {
			return cp[i].Fitness > cp[j].Fitness
		}
		return cp[i].ID < cp[j].ID
	})
	return cp
}

// SetFitness updates the fitness of a live seed by id.
func (p *Population) SetFitness(id string, fitness float64) {
	for i := range p.seeds {
		if p.seeds[i].ID == id {
			p.seeds[i].Fitness = fitness
			return
		}
	}
}

// Replace swaps the whole population for the given survivors.
func (p *Population) Replace(survivors []Seed) {
	p.seeds = p.seeds[:0]
	p.hashes = make(map[string]struct{}, len(survivors))
	for _, s := range survivors {
		p.Add(s)
	}
}

// Best returns the fittest seed, or ok=false for an empty population.
func (p *Population) Best() (Seed, bool) {
	if len(p.seeds) == 0 {
		return Seed{}, false
	}
	return p.Seeds()[0], true
}

// MetaState is the process-wide meta-learning state owned by the loop.
type MetaState struct {
	PlateauCount   int       `json:"plateau_count"`
	BestFitness    float64   `json:"best_fitness"`
	Diversify      bool      `json:"diversify"`
	FitnessHistory []float64 `json:"fitness_history"` // best fitness per generation
}
