package orchestrator

import (
	"math/rand"
	"sort"

	"github.com/swarmguard/redqueen/population"
)

// SelectionPolicy decides which seeds survive into the next generation.
// Survivors are capped at capSize; everything else is retired.
type SelectionPolicy interface {
	Select(current, newcomers []population.Seed, capSize int, rng *rand.Rand) (survivors, retired []population.Seed)
}

// Elitism keeps the fittest seeds across current members and newcomers.
// Newcomers enter with inherited fitness, so a strong lineage is not
// culled before its first evaluation.
type Elitism struct{}

func (Elitism) Select(current, newcomers []population.Seed, capSize int, _ *rand.Rand) (survivors, retired []population.Seed) {
	all := make([]population.Seed, 0, len(current)+len(newcomers))
	all = append(all, current...)
	all = append(all, newcomers...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Fitness != all[j].Fitness {
			return all[i].Fitness > all[j].Fitness
		}
		return all[i].ID < all[j].ID
	})
	if capSize >= len(all) {
		return all, nil
	}
	return all[:capSize], all[capSize:]
}

// Tournament runs repeated k-way tournaments without replacement,
// trading some selection pressure for diversity.
type Tournament struct {
	Size int // contestants per round, default 3
}

func (t Tournament) Select(current, newcomers []population.Seed, capSize int, rng *rand.Rand) (survivors, retired []population.Seed) {
	k := t.Size
	if k < 2 {
		k = 3
	}
	pool := make([]population.Seed, 0, len(current)+len(newcomers))
	pool = append(pool, current...)
	pool = append(pool, newcomers...)
	if capSize >= len(pool) {
		return pool, nil
	}

	for len(survivors) < capSize {
		best := -1
		rounds := k
		if rounds > len(pool) {
			rounds = len(pool)
		}
		for i := 0; i < rounds; i++ {
			c := rng.Intn(len(pool))
			if best == -1 || pool[c].Fitness > pool[best].Fitness {
				best = c
			}
		}
		survivors = append(survivors, pool[best])
		pool = append(pool[:best], pool[best+1:]...)
	}
	return survivors, pool
}

// MetaPolicy updates the meta-learning state after each generation.
type MetaPolicy interface {
	Observe(state *population.MetaState, bestFitness float64)
}

// PlateauDetector raises the diversify flag after Window consecutive
// generations without an Epsilon improvement in best fitness, then resets
// its counter so the flag fires once per plateau.
type PlateauDetector struct {
	Window  int
	Epsilon float64
}

func (d PlateauDetector) Observe(state *population.MetaState, bestFitness float64) {
	state.FitnessHistory = append(state.FitnessHistory, bestFitness)
	if bestFitness > state.BestFitness+d.Epsilon {
		state.BestFitness = bestFitness
		state.PlateauCount = 0
		return
	}
	if bestFitness > state.BestFitness {
		state.BestFitness = bestFitness
	}
	state.PlateauCount++
	if state.PlateauCount >= d.Window {
		state.Diversify = true
		state.PlateauCount = 0
	}
}
