// Package storage persists the reports of past labbot runs in a bbolt file.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

// Bucket names
const (
	RunsBucket = "runs"
	MetaBucket = "meta"
)

const (
	SchemaVersionKey     = "schema"
	CurrentSchemaVersion = 1
)

// DatabaseFile is the history file name inside the history directory.
const DatabaseFile = "history.db"

// ErrHistoryLocked is returned when another labbot process holds the file.
var ErrHistoryLocked = errors.New("run history is locked by another process")

// openTimeout bounds the wait for the file lock.
var openTimeout = 2 * time.Second

// BoltDB is the history database file.
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// NewBoltDB opens (creating if needed) the history database in dataDir.
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory %s: %w", dataDir, err)
	}
	dbPath := filepath.Join(dataDir, DatabaseFile)

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: openTimeout})
	if errors.Is(err, bolterrors.ErrTimeout) {
		logger.Warnw("History database is locked", "path", dbPath, "timeout", openTimeout)
		return nil, fmt.Errorf("%w: %s", ErrHistoryLocked, dbPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", dbPath, err)
	}

	b := &BoltDB{db: db, logger: logger}
	if err := b.initBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Close closes the database.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Path returns the database file path.
func (b *BoltDB) Path() string {
	return b.db.Path()
}

// initBuckets creates the buckets and stamps the schema version. A file
// written by a newer schema is refused rather than rewritten.
func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{RunsBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket([]byte(MetaBucket))
		if raw := meta.Get([]byte(SchemaVersionKey)); len(raw) == 8 {
			if v := binary.LittleEndian.Uint64(raw); v > CurrentSchemaVersion {
				return fmt.Errorf("history schema version %d is newer than supported version %d", v, CurrentSchemaVersion)
			}
		}
		version := make([]byte, 8)
		binary.LittleEndian.PutUint64(version, CurrentSchemaVersion)
		return meta.Put([]byte(SchemaVersionKey), version)
	})
}

// GetSchemaVersion returns the stored schema version, 0 when unset.
func (b *BoltDB) GetSchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return errors.New("meta bucket not found")
		}
		if raw := meta.Get([]byte(SchemaVersionKey)); len(raw) == 8 {
			version = binary.LittleEndian.Uint64(raw)
		}
		return nil
	})
	return version, err
}
