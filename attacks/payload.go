// Package attacks is the campaign-side collaborator: a closed catalog of
// attack techniques, each generating payload waves, plus a campaign
// generator that biases toward the defense population's weak tags.
package attacks

import (
	"fmt"
	"strings"
)

// Payload is one concrete attack payload descriptor.
type Payload struct {
	Technique string   `json:"technique"`
	Tags      []string `json:"tags"`
	Data      string   `json:"data"`
}

// Features are the observable characteristics extracted from a payload.
// Both the knowledge-base shape and the defense mechanisms key off these.
type Features struct {
	HasQuotes      bool
	HasSemicolon   bool
	HasSQLKeywords bool
	Encoding       string // none, base64, url, hex, unicode
	Size           int
	Nesting        int
}

// Features extracts the payload's observable characteristics.
func (p Payload) Features() Features {
	d := p.Data
	return Features{
		HasQuotes:      strings.ContainsAny(d, `'"`),
		HasSemicolon:   strings.Contains(d, ";"),
		HasSQLKeywords: hasSQLKeyword(d),
		Encoding:       detectEncoding(d),
		Size:           len(d),
		Nesting:        nestingDepth(d),
	}
}

// Shape returns the canonical payload-shape feature string. Two payloads
// with the same technique and shape collapse onto one knowledge-base
// pattern, so the features here are deliberately coarse.
func (p Payload) Shape() string {
	f := p.Features()
	feats := []string{
		fmt.Sprintf("quotes=%t", f.HasQuotes),
		fmt.Sprintf("semicolon=%t", f.HasSemicolon),
		fmt.Sprintf("sqlkw=%t", f.HasSQLKeywords),
		fmt.Sprintf("enc=%s", f.Encoding),
		fmt.Sprintf("size=%s", sizeBucket(f.Size)),
		fmt.Sprintf("nest=%d", f.Nesting),
	}
	return strings.Join(feats, ";")
}

func hasSQLKeyword(s string) bool {
	upper := strings.ToUpper(s)
	for _, kw := range []string{"DROP", "SELECT", "DELETE", "UNION", "INSERT"} {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

func detectEncoding(s string) string {
	switch {
	case strings.HasPrefix(s, "data:") || strings.Contains(strings.ToLower(s), "base64"):
		return "base64"
	case strings.Contains(s, "%") && strings.ContainsAny(s, "0123456789ABCDEFabcdef"):
		return "url"
	case strings.Contains(s, `\x`):
		return "hex"
	case strings.Contains(s, `\u`):
		return "unicode"
	default:
		return "none"
	}
}

func sizeBucket(n int) string {
	switch {
	case n > 4096:
		return "xl"
	case n > 1000:
		return "l"
	case n > 128:
		return "m"
	default:
		return "s"
	}
}

// nestingDepth counts the deepest brace/bracket nesting, a proxy for
// structured state-corruption payloads.
func nestingDepth(s string) int {
	depth, max := 0, 0
	for _, c := range s {
		switch c {
		case '{', '[':
			depth++
			if depth > max {
				max = depth
			}
		case '}', ']':
			if depth > 0 {
				depth--
			}
		}
	}
	return max
}
