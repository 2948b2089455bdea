package attacks

import "math/rand"

// Generator assembles attack campaigns from the technique catalog. It is
// the Attacks collaborator the orchestration loop consumes.
type Generator struct {
	catalog map[string]Technique
}

func NewGenerator() *Generator {
	return &Generator{catalog: newCatalog()}
}

// Campaign produces up to size payloads. Techniques whose tags intersect
// weakTags are weighted three times heavier, so campaigns press on the
// defense population's least-covered tags. With no weak tags (generation
// zero) selection is unweighted.
func (g *Generator) Campaign(weakTags []string, size int, generation int, rng *rand.Rand) []Payload {
	if size <= 0 {
		return nil
	}
	weak := make(map[string]struct{}, len(weakTags))
	for _, t := range weakTags {
		weak[t] = struct{}{}
	}

	// build the weighted pick list in catalog order for determinism
	var picks []Technique
	for _, name := range catalogOrder {
		tech := g.catalog[name]
		weight := 1
		for _, tag := range tech.Tags() {
			if _, ok := weak[tag]; ok {
				weight = 3
				break
			}
		}
		for i := 0; i < weight; i++ {
			picks = append(picks, tech)
		}
	}

	var campaign []Payload
	for len(campaign) < size {
		tech := picks[rng.Intn(len(picks))]
		wave := tech.GenerateWave(generation, rng)
		for _, p := range wave {
			campaign = append(campaign, p)
			if len(campaign) == size {
				break
			}
		}
	}
	return campaign
}

// Feedback routes a blocked payload back to adaptive techniques so later
// waves mutate around detected fragments.
func (g *Generator) Feedback(p Payload, blocked bool) {
	if !blocked {
		return
	}
	if l, ok := g.catalog[p.Technique].(Learner); ok {
		l.RecordBlock(p)
	}
}
