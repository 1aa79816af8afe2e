package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// ErrRunNotFound is returned by Get for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 20

// HistoryStore records batch reports keyed by ULID, so key order is
// chronological order.
type HistoryStore struct {
	db     *BoltDB
	logger *zap.SugaredLogger
	mu     sync.RWMutex
}

// Open opens the history store in dir.
func Open(dir string, logger *zap.SugaredLogger) (*HistoryStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	db, err := NewBoltDB(dir, logger)
	if err != nil {
		return nil, err
	}
	return &HistoryStore{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}

// Path returns the database file path.
func (h *HistoryStore) Path() string {
	return h.db.Path()
}

// Save stores record, assigning an id and timestamp when unset.
func (h *HistoryStore) Save(record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("run record cannot be nil")
	}
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(RunsBucket))
		data, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal run record: %w", err)
		}
		if err := bucket.Put([]byte(record.ID), data); err != nil {
			return fmt.Errorf("failed to store run record: %w", err)
		}
		return nil
	})
}

// Get returns the run with id, or ErrRunNotFound.
func (h *HistoryStore) Get(id string) (*RunRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var record *RunRecord
	err := h.db.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(RunsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		record = &RunRecord{}
		if err := record.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal run record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// List returns up to limit runs, newest first. Corrupt records are skipped.
func (h *HistoryStore) List(limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var records []*RunRecord
	err := h.db.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(RunsBucket)).Cursor()
		for k, v := cursor.Last(); k != nil && len(records) < limit; k, v = cursor.Prev() {
			var record RunRecord
			if err := record.UnmarshalBinary(v); err != nil {
				h.logger.Warnw("Failed to unmarshal run record",
					"key", string(k),
					"error", err)
				continue
			}
			records = append(records, &record)
		}
		return nil
	})
	return records, err
}

// Prune deletes all but the newest keep runs and returns how many it removed.
func (h *HistoryStore) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	err := h.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(RunsBucket))
		var stale [][]byte
		seen := 0
		cursor := bucket.Cursor()
		for k, _ := cursor.Last(); k != nil; k, _ = cursor.Prev() {
			seen++
			if seen > keep {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete run %s: %w", k, err)
			}
			removed++
		}
		return nil
	})
	if removed > 0 {
		h.logger.Debugw("Pruned run history", "removed", removed, "kept", keep)
	}
	return removed, err
}
