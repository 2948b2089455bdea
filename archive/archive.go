// Package archive persists retired defense seeds in BadgerDB so lineage
// stays reconstructable after seeds leave the live population.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/redqueen/population"
)

var ErrNotFound = errors.New("archive: seed not found")

const keyPrefix = "seed:"

// Store wraps BadgerDB with idempotent seed writes and lineage walks.
type Store struct {
	mu      sync.RWMutex
	db      *badger.DB
	retired metric.Int64Counter
}

// Open returns a store rooted at path.
func Open(path string, meter metric.Meter) (*Store, error) {
	opts := badger.DefaultOptions(filepath.Clean(path)).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	retired, _ := meter.Int64Counter("redqueen_archive_seeds_total")
	return &Store{db: db, retired: retired}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func seedKey(id string) []byte { return []byte(keyPrefix + id) }

// SaveSeed writes the seed idempotently. Re-archiving an already archived
// id is a no-op, so retirement can be retried safely after a crash.
func (s *Store) SaveSeed(ctx context.Context, seed population.Seed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		key := seedKey(seed.ID)
		_, err := txn.Get(key)
		if err == nil {
			return nil
		} // already archived
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		enc, err := json.Marshal(seed)
		if err != nil {
			return err
		}
		if err := txn.Set(key, enc); err != nil {
			return err
		}
		s.retired.Add(ctx, 1)
		return nil
	})
}

// Get returns the archived seed by id.
func (s *Store) Get(_ context.Context, id string) (population.Seed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out population.Seed
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seedKey(id))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(val, &out)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return population.Seed{}, ErrNotFound
		}
		return population.Seed{}, err
	}
	return out, nil
}

// Lineage walks parent links from id back toward the roots, oldest last.
// Parents missing from the archive (still live, or from a pruned run) end
// their branch silently. Cycles cannot occur because parent ids always
// reference earlier generations, but the visited set guards anyway.
func (s *Store) Lineage(ctx context.Context, id string) ([]population.Seed, error) {
	var (
		out     []population.Seed
		visited = map[string]struct{}{}
		queue   = []string{id}
	)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, seen := visited[next]; seen {
			continue
		}
		visited[next] = struct{}{}

		seed, err := s.Get(ctx, next)
		if errors.Is(err, ErrNotFound) {
			if next == id {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, seed)
		queue = append(queue, seed.ParentIDs...)
	}
	return out, nil
}

// Count returns the number of archived seeds.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opt := badger.DefaultIteratorOptions
		opt.PrefetchValues = false
		it := txn.NewIterator(opt)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
