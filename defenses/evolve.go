package defenses

import (
	"math/rand"

	"github.com/swarmguard/redqueen/population"
)

// Mutator is the genome mutation operator handed to the synthesizer.
type Mutator struct{}

// Evolve produces a new genome from parent, biased toward targetTags.
// strength widens the jump: 1 is a gentle nudge, larger values (set when
// the loop diversifies) add and jitter more aggressively. The randomness
// source is injected so synthesis stays reproducible.
func (Mutator) Evolve(parent population.Genome, targetTags []string, strength int, rng *rand.Rand) population.Genome {
	if strength < 1 {
		strength = 1
	}
	g := parent.Clone()

	covered := make(map[string]int, len(g)) // tag -> rule index
	for i, r := range g {
		covered[r.Tag] = i
	}

	for _, tag := range targetTags {
		if idx, ok := covered[tag]; ok {
			// strengthen the existing rule
			bump := 1 + rng.Intn(strength)
			g[idx].Strength += bump
			if g[idx].Strength > 10 {
				g[idx].Strength = 10
			}
			g[idx].Weight += (rng.Float64() - 0.5) * 0.2 * float64(strength)
			if g[idx].Weight < 0.1 {
				g[idx].Weight = 0.1
			}
		} else {
			g = append(g, population.Rule{
				Tag:       tag,
				Mechanism: MechanismFor(tag),
				Strength:  2 + rng.Intn(2+strength),
				Weight:    1.0,
			})
			covered[tag] = len(g) - 1
		}
	}

	// occasional undirected jitter keeps untargeted rules moving
	if len(g) > 0 && rng.Float64() < 0.3 {
		i := rng.Intn(len(g))
		g[i].Strength += rng.Intn(2*strength+1) - strength
		if g[i].Strength < 0 {
			g[i].Strength = 0
		}
		if g[i].Strength > 10 {
			g[i].Strength = 10
		}
	}
	return g
}

// Crossover splices two parent genomes at a random cut point and drops
// rules duplicating an already-taken tag/mechanism pair.
func (Mutator) Crossover(a, b population.Genome, rng *rand.Rand) population.Genome {
	if len(a) == 0 {
		return b.Clone()
	}
	if len(b) == 0 {
		return a.Clone()
	}
	cut := rng.Intn(len(a) + 1)
	child := make(population.Genome, 0, len(a)+len(b))
	child = append(child, a[:cut]...)

	seen := make(map[string]struct{}, len(child))
	for _, r := range child {
		seen[r.Tag+"|"+r.Mechanism] = struct{}{}
	}
	for _, r := range b {
		if _, dup := seen[r.Tag+"|"+r.Mechanism]; dup {
			continue
		}
		child = append(child, r)
		seen[r.Tag+"|"+r.Mechanism] = struct{}{}
	}
	return child
}
