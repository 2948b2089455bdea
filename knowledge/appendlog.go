package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// logEntry is one immutable record in the result log, chained to its
// predecessor by hash so corruption is detectable on read.
type logEntry struct {
	Index    uint64           `json:"index"`
	Result   EvaluationResult `json:"result"`
	PrevHash string           `json:"prev_hash"`
	Hash     string           `json:"hash"`
}

// resultLog is an in-memory append-only log with hash chaining, same
// discipline as an audit trail: entries are never rewritten.
type resultLog struct {
	entries []logEntry
}

func newResultLog() *resultLog { return &resultLog{entries: make([]logEntry, 0, 1024)} }

func (l *resultLog) append(res EvaluationResult) logEntry {
	idx := uint64(len(l.entries))
	prev := ""
	if idx > 0 {
		prev = l.entries[idx-1].Hash
	}
	ent := logEntry{Index: idx, Result: res, PrevHash: prev}
	ent.Hash = hashEntry(ent)
	l.entries = append(l.entries, ent)
	return ent
}

func (l *resultLog) len() int { return len(l.entries) }

// verify walks the chain and recomputes every hash.
func (l *resultLog) verify() bool {
	for i := range l.entries {
		if hashEntry(l.entries[i]) != l.entries[i].Hash {
			return false
		}
		if i > 0 && l.entries[i-1].Hash != l.entries[i].PrevHash {
			return false
		}
	}
	return true
}

func hashEntry(e logEntry) string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte(e.Result.Key()))
	h.Write([]byte(fmt.Sprintf("%t|%t|%t|%.6f", e.Result.Blocked, e.Result.InfoLeak, e.Result.Inconclusive, e.Result.LatencyMs)))
	return hex.EncodeToString(h.Sum(nil))
}
