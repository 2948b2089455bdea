package defenses

import (
	"math/rand"

	"github.com/swarmguard/redqueen/population"
)

// baselineTags is the fixed order of tag families covered by the initial
// population. Order matters: baseline seed ids derive from the index.
var baselineTags = []string{"injection", "encoding", "overflow", "state", "flood", "obfuscation"}

// BaselineSeeds builds a starting population of single-rule specialists,
// one per tag family, cycling through the families until n seeds exist.
// Strengths are deliberately modest so early generations have room to
// climb.
func BaselineSeeds(n int, rng *rand.Rand) []population.Seed {
	if n <= 0 {
		return nil
	}
	seeds := make([]population.Seed, 0, n)
	for i := 0; i < n; i++ {
		tag := baselineTags[i%len(baselineTags)]
		genome := population.Genome{{
			Tag:       tag,
			Mechanism: MechanismFor(tag),
			Strength:  2 + rng.Intn(3),
			Weight:    1,
		}}
		// second-cycle seeds pick up a random extra rule so genomes stay
		// distinct once every family is covered
		if i >= len(baselineTags) {
			extra := baselineTags[rng.Intn(len(baselineTags))]
			genome = append(genome, population.Rule{
				Tag:       extra,
				Mechanism: MechanismFor(extra),
				Strength:  1 + rng.Intn(4),
				Weight:    1,
			})
		}
		seeds = append(seeds, population.Seed{
			ID:         population.NewSeedID("baseline", 0, i),
			Genome:     genome,
			GenomeHash: genome.Hash(),
			Generation: 0,
		})
	}
	return seeds
}
