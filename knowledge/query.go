package knowledge

import "sort"

// Cursor is a lazy, restartable iterator over pattern entries matching a
// tag filter, ordered least-defended first (success rate ascending), most
// recent first on ties. It operates over a snapshot copy, so it never
// observes concurrent writes.
type Cursor struct {
	views []PatternView
	pos   int
}

// Query builds a cursor over patterns carrying at least one of the given
// tags. An empty filter matches everything.
func (b *Base) Query(tags []string) (*Cursor, error) {
	snap, err := b.Snapshot()
	if err != nil {
		return nil, err
	}

	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[t] = struct{}{}
	}

	matched := snap.Patterns[:0:0]
	for _, v := range snap.Patterns {
		if len(want) == 0 || anyTag(v.Tags, want) {
			matched = append(matched, v)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].SuccessRate != matched[j].SuccessRate {
			return matched[i].SuccessRate < matched[j].SuccessRate
		}
		if matched[i].LastSeen != matched[j].LastSeen {
			return matched[i].LastSeen > matched[j].LastSeen
		}
		return matched[i].Signature < matched[j].Signature
	})

	return &Cursor{views: matched}, nil
}

// Next returns the next matching entry, or ok=false when exhausted.
func (c *Cursor) Next() (PatternView, bool) {
	if c.pos >= len(c.views) {
		return PatternView{}, false
	}
	v := c.views[c.pos]
	c.pos++
	return v, true
}

// Reset rewinds the cursor to the first entry.
func (c *Cursor) Reset() { c.pos = 0 }

func anyTag(tags []string, want map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := want[t]; ok {
			return true
		}
	}
	return false
}
