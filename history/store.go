// Package history is the local decision store. Every verdict lands
// here keyed by time, so `vahti history` can answer "what did the
// hooks decide and why" without the remote service.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/vahti/types"
)

var (
	bucketDecisions = []byte("decisions")
	bucketMeta      = []byte("meta")
)

var keyLastRecorded = []byte("last_recorded")

// indexEntry mirrors the queryable fields of a record so filtering
// never touches disk until a key survives the filters.
type indexEntry struct {
	key       string
	repo      string
	branch    string
	operation types.OperationType
	action    types.Action
	ts        time.Time
}

// Store wraps bbolt with an in-memory btree index ordered by time.
// Hook processes are short-lived, so the index is rebuilt on every
// Open; local histories are small enough that the scan is cheap.
type Store struct {
	mu    sync.RWMutex
	index *btree.BTreeG[*indexEntry]
	db    *bbolt.DB
	path  string
}

// Open creates or opens the decision store at path. The file lock
// timeout keeps two racing hook processes from hanging each other.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketDecisions, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing history buckets: %w", err)
	}

	s := &Store{
		index: btree.NewG[*indexEntry](32, func(a, b *indexEntry) bool {
			return a.key < b.key
		}),
		db:   db,
		path: path,
	}

	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record persists one decision.
func (s *Store) Record(rec types.DecisionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := makeKey(rec.Timestamp, rec.ID)
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling decision record: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketDecisions).Put([]byte(key), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyLastRecorded, []byte(rec.Timestamp.UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return fmt.Errorf("recording decision: %w", err)
	}

	s.index.ReplaceOrInsert(entryOf(key, &rec))
	return nil
}

// Query returns matching records, newest first. Limit 0 means no
// limit.
func (s *Store) Query(q types.DecisionQuery) ([]types.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	s.index.Descend(func(e *indexEntry) bool {
		if !q.Since.IsZero() && e.ts.Before(q.Since) {
			// Keys descend in time order; everything further is older.
			return false
		}
		if !q.Until.IsZero() && e.ts.After(q.Until) {
			return true
		}
		if !entryMatches(e, &q) {
			return true
		}
		keys = append(keys, e.key)
		return q.Limit <= 0 || len(keys) < q.Limit
	})

	records := make([]types.DecisionRecord, 0, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDecisions)
		for _, k := range keys {
			value := bucket.Get([]byte(k))
			if value == nil {
				continue
			}
			var rec types.DecisionRecord
			if err := json.Unmarshal(value, &rec); err != nil {
				return fmt.Errorf("unmarshaling decision %s: %w", k, err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Stats summarizes the whole store.
type Stats struct {
	Total       int
	ByAction    map[types.Action]int
	ByOperation map[types.OperationType]int
	Oldest      time.Time
	Newest      time.Time
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		ByAction:    make(map[types.Action]int),
		ByOperation: make(map[types.OperationType]int),
	}

	s.index.Ascend(func(e *indexEntry) bool {
		stats.Total++
		stats.ByAction[e.action]++
		stats.ByOperation[e.operation]++
		if stats.Oldest.IsZero() || e.ts.Before(stats.Oldest) {
			stats.Oldest = e.ts
		}
		if e.ts.After(stats.Newest) {
			stats.Newest = e.ts
		}
		return true
	})
	return stats
}

// Prune deletes records older than cutoff and reports how many went.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := makeKey(cutoff, "")

	var toDelete []string
	s.index.Ascend(func(e *indexEntry) bool {
		if e.key >= limit {
			return false
		}
		toDelete = append(toDelete, e.key)
		return true
	})

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDecisions)
		for _, k := range toDelete {
			if err := bucket.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pruning decisions: %w", err)
	}

	for _, k := range toDelete {
		s.index.Delete(&indexEntry{key: k})
	}
	return len(toDelete), nil
}

// rebuildIndex scans the decisions bucket into the btree.
func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDecisions).ForEach(func(k, v []byte) error {
			var rec types.DecisionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				// One corrupt record must not brick the store.
				return nil
			}
			s.index.ReplaceOrInsert(entryOf(string(k), &rec))
			return nil
		})
	})
}

func entryOf(key string, rec *types.DecisionRecord) *indexEntry {
	return &indexEntry{
		key:       key,
		repo:      rec.Repo,
		branch:    rec.Branch,
		operation: rec.Operation,
		action:    rec.Action,
		ts:        rec.Timestamp,
	}
}

func entryMatches(e *indexEntry, q *types.DecisionQuery) bool {
	if q.Repo != "" && e.repo != q.Repo {
		return false
	}
	if q.Branch != "" && e.branch != q.Branch {
		return false
	}
	if q.Operation != "" && e.operation != q.Operation {
		return false
	}
	if q.Action != "" && e.action != q.Action {
		return false
	}
	return true
}

// makeKey orders records by time; the id suffix keeps same-nanosecond
// records distinct.
func makeKey(ts time.Time, id string) string {
	return fmt.Sprintf("%020d:%s", ts.UnixNano(), id)
}
