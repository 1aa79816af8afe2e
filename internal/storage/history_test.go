package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := Open(t.TempDir(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestHistoryStore_SaveAndGet(t *testing.T) {
	store := openStore(t)

	record := &RunRecord{
		Operation:  "request",
		BaseURL:    "https://api.example.gov/fhir/v0/r4",
		Path:       "/Patient/{icn}",
		Expected:   `"resourceType":"Patient"`,
		Identities: 2,
		Winners:    []string{"alice is patient 1"},
		Losers:     []string{"bob is patient  - err: login_failed: bad password"},
		Sessions: []SessionRecord{
			{Identity: "alice", Outcome: "success", Patient: "1", DurationMs: 1200},
			{Identity: "bob", Outcome: "login_failed", Error: "login_failed", ErrorDescription: "bad password"},
		},
	}
	require.NoError(t, store.Save(record))
	assert.NotEmpty(t, record.ID)
	assert.False(t, record.Timestamp.IsZero())

	got, err := store.Get(record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Operation, got.Operation)
	assert.Equal(t, record.Winners, got.Winners)
	assert.Equal(t, record.Sessions, got.Sessions)
	assert.True(t, record.Timestamp.Equal(got.Timestamp))

	winners, losers := got.Summary()
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)
}

func TestHistoryStore_GetUnknown(t *testing.T) {
	store := openStore(t)

	_, err := store.Get("01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = store.Get("")
	assert.Error(t, err)
}

func TestHistoryStore_ListNewestFirst(t *testing.T) {
	store := openStore(t)

	var ids []string
	for i := 0; i < 5; i++ {
		r := &RunRecord{Operation: "tokens", Identities: i}
		require.NoError(t, store.Save(r))
		ids = append(ids, r.ID)
	}

	runs, err := store.List(3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[4], runs[0].ID)
	assert.Equal(t, ids[3], runs[1].ID)
	assert.Equal(t, ids[2], runs[2].ID)

	all, err := store.List(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestHistoryStore_Prune(t *testing.T) {
	store := openStore(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Save(&RunRecord{Operation: "tokens"}))
	}

	removed, err := store.Prune(1)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	runs, err := store.List(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestHistoryStore_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t).Sugar()

	store, err := Open(dir, logger)
	require.NoError(t, err)
	record := &RunRecord{Operation: "tokens", Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, store.Save(record))
	require.NoError(t, store.Close())

	reopened, err := Open(dir, logger)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(record.ID)
	require.NoError(t, err)
	assert.Equal(t, "tokens", got.Operation)

	version, err := reopened.db.GetSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(CurrentSchemaVersion), version)
	assert.Equal(t, filepath.Join(dir, DatabaseFile), reopened.Path())
}

func TestOpen_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "history")
	store, err := Open(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(filepath.Join(dir, DatabaseFile))
	assert.NoError(t, err)
}

func TestHistoryStore_SaveNil(t *testing.T) {
	assert.Error(t, openStore(t).Save(nil))
}

func TestOpen_LockedByAnotherHandle(t *testing.T) {
	prev := openTimeout
	openTimeout = 50 * time.Millisecond
	t.Cleanup(func() { openTimeout = prev })

	dir := t.TempDir()
	first, err := Open(dir, nil)
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(dir, nil)
	assert.ErrorIs(t, err, ErrHistoryLocked)
}
