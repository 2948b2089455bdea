// Package checkpoint persists per-generation run state in BoltDB so an
// interrupted run can resume from the last completed generation.
// BoltDB is chosen over heavier stores for easier deployment (pure Go,
// single file, no C dependencies).
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/redqueen/knowledge"
	"github.com/swarmguard/redqueen/population"
)

// Record is one generation's durable state. Written once per generation
// after selection, read once on resume.
type Record struct {
	RunID      string               `json:"run_id"`
	Generation int                  `json:"generation"`
	SavedAt    time.Time            `json:"saved_at"`
	Seeds      []population.Seed    `json:"seeds"`
	Knowledge  knowledge.Snapshot   `json:"knowledge"`
	Meta       population.MetaState `json:"meta"`
}

var (
	bucketGenerations = []byte("generations")
	bucketRuns        = []byte("runs")
)

// Store is a BoltDB-backed checkpoint store.
type Store struct {
	db           *bbolt.DB
	mu           sync.Mutex
	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
}

// Open creates or opens the checkpoint database under dir.
func Open(dir string, meter metric.Meter) (*Store, error) {
	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(filepath.Join(dir, "checkpoints.db"), 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketGenerations, bucketRuns} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	readLatency, _ := meter.Float64Histogram("redqueen_checkpoint_read_ms")
	writeLatency, _ := meter.Float64Histogram("redqueen_checkpoint_write_ms")
	return &Store{db: db, readLatency: readLatency, writeLatency: writeLatency}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// genKey orders generations lexicographically within a run.
func genKey(runID string, generation int) []byte {
	return []byte(fmt.Sprintf("%s:%08d", runID, generation))
}

// SaveGeneration writes the record and updates the run's latest pointer in
// one transaction.
func (s *Store) SaveGeneration(ctx context.Context, rec Record) error {
	start := time.Now()
	defer func() {
		s.writeLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "save_generation")))
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.SavedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketGenerations).Put(genKey(rec.RunID, rec.Generation), data); err != nil {
			return err
		}
		return tx.Bucket(bucketRuns).Put([]byte(rec.RunID), genKey(rec.RunID, rec.Generation))
	})
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// LoadLatest returns the most recent checkpoint for the run, or false when
// the run has none.
func (s *Store) LoadLatest(ctx context.Context, runID string) (Record, bool, error) {
	start := time.Now()
	defer func() {
		s.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "load_latest")))
	}()

	var rec Record
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		latest := tx.Bucket(bucketRuns).Get([]byte(runID))
		if latest == nil {
			return nil
		}
		data := tx.Bucket(bucketGenerations).Get(latest)
		if data == nil {
			return fmt.Errorf("dangling latest pointer for run %s", runID)
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal checkpoint: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, found, nil
}

// LoadGeneration returns one specific generation's record.
func (s *Store) LoadGeneration(ctx context.Context, runID string, generation int) (Record, bool, error) {
	start := time.Now()
	defer func() {
		s.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "load_generation")))
	}()

	var rec Record
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketGenerations).Get(genKey(runID, generation))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal checkpoint: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, found, nil
}

// Generations lists the checkpointed generation numbers for a run in
// ascending order.
func (s *Store) Generations(_ context.Context, runID string) ([]int, error) {
	var gens []int
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketGenerations).Cursor()
		prefix := []byte(runID + ":")
		for k, v := cursor.Seek(prefix); k != nil; k, v = cursor.Next() {
			if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			gens = append(gens, rec.Generation)
		}
		return nil
	})
	return gens, err
}
