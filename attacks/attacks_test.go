package attacks

import (
	"math/rand"
	"strings"
	"testing"
)

func TestCampaignSizeAndTags(t *testing.T) {
	g := NewGenerator()
	rng := rand.New(rand.NewSource(42))
	campaign := g.Campaign(nil, 12, 0, rng)
	if len(campaign) != 12 {
		t.Fatalf("expected 12 payloads, got %d", len(campaign))
	}
	for _, p := range campaign {
		if p.Technique == "" || len(p.Tags) == 0 || p.Data == "" {
			t.Fatalf("incomplete payload: %+v", p)
		}
	}
}

func TestCampaignBiasTowardWeakTags(t *testing.T) {
	g := NewGenerator()
	rng := rand.New(rand.NewSource(7))
	campaign := g.Campaign([]string{"overflow"}, 200, 1, rng)

	overflow := 0
	for _, p := range campaign {
		for _, tag := range p.Tags {
			if tag == "overflow" {
				overflow++
			}
		}
	}
	// one technique of five carries the tag; with 3x weighting it should
	// clearly exceed its unweighted share
	if overflow < 40 {
		t.Fatalf("weak-tag bias missing: %d/200 overflow payloads", overflow)
	}
}

func TestPolymorphicAdaptsToBlocks(t *testing.T) {
	tech := newPolymorphicSQL()
	rng := rand.New(rand.NewSource(1))

	before := tech.GenerateWave(0, rng)
	if !strings.Contains(before[0].Data, "OR") {
		t.Fatalf("expected OR in initial wave: %q", before[0].Data)
	}

	tech.RecordBlock(Payload{Technique: tech.Name(), Data: "admin' OR '1'='1"})
	after := tech.GenerateWave(1, rng)
	if strings.Contains(after[0].Data, "OR") {
		t.Fatalf("technique did not mutate around blocked fragment: %q", after[0].Data)
	}
}

func TestShapeFeatures(t *testing.T) {
	cases := []struct {
		data string
		want string
	}{
		{"admin' OR 1=1", "quotes=true"},
		{"data:text/plain;base64,QUJD", "enc=base64"},
		{strings.Repeat("A", 2000), "size=l"},
		{`{"a":[{"b":[]}]}`, "nest=4"},
	}
	for _, tc := range cases {
		shape := Payload{Data: tc.data}.Shape()
		if !strings.Contains(shape, tc.want) {
			t.Errorf("shape %q missing %q", shape, tc.want)
		}
	}
}

func TestShapeStableForSameData(t *testing.T) {
	p := Payload{Technique: "x", Data: "admin' OR 1=1"}
	if p.Shape() != p.Shape() {
		t.Fatalf("shape not stable")
	}
}
