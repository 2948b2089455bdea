// Package defenses is the evaluation-side collaborator: a closed catalog
// of defense mechanisms applied through seed genomes, plus the mutation
// operator the synthesizer uses to evolve genomes.
package defenses

import "github.com/swarmguard/redqueen/attacks"

// Mechanism names form the closed catalog. Each is a fixed check over
// payload features parameterized by a rule strength in [0,10].
const (
	Sanitization      = "sanitization"
	InputValidation   = "input_validation"
	BoundsEnforcement = "bounds_enforcement"
	Decoding          = "decoding"
	StateProtection   = "state_protection"
	RateLimiting      = "rate_limiting"
)

// checkFunc decides whether a mechanism at the given strength blocks a
// payload with the given features. Strength 0 never blocks.
type checkFunc func(f attacks.Features, strength int) bool

// mechanismTable is the initialization-time registry. Variants are fixed;
// nothing is discovered dynamically.
var mechanismTable = map[string]checkFunc{
	Sanitization: func(f attacks.Features, s int) bool {
		if s <= 0 {
			return false
		}
		return (f.HasSQLKeywords && s >= 3) || (f.HasQuotes && f.HasSemicolon && s >= 5)
	},
	InputValidation: func(f attacks.Features, s int) bool {
		return s >= 5 && (f.HasQuotes || f.HasSemicolon)
	},
	BoundsEnforcement: func(f attacks.Features, s int) bool {
		if s <= 0 {
			return false
		}
		limit := 4608 - 384*s // strength 1 ≈ 4k, strength 10 ≈ 768 bytes
		if limit < 512 {
			limit = 512
		}
		return f.Size > limit
	},
	Decoding: func(f attacks.Features, s int) bool {
		return s >= 3 && f.Encoding != "none"
	},
	StateProtection: func(f attacks.Features, s int) bool {
		if s <= 0 {
			return false
		}
		threshold := 9 - s
		if threshold < 2 {
			threshold = 2
		}
		return f.Nesting >= threshold
	},
	RateLimiting: func(f attacks.Features, s int) bool {
		// flood proxy: only very aggressive limits reject single payloads
		return s >= 8 && f.Size > 1000
	},
}

// MechanismFor maps a technique tag to the mechanism that addresses it,
// used when synthesis adds a rule for an uncovered tag.
func MechanismFor(tag string) string {
	switch tag {
	case "injection":
		return Sanitization
	case "encoding", "obfuscation":
		return Decoding
	case "overflow":
		return BoundsEnforcement
	case "state":
		return StateProtection
	case "flood":
		return RateLimiting
	default:
		return InputValidation
	}
}
