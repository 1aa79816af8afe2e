package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/health-apis/labbot/internal/labbot"
	"github.com/health-apis/labbot/internal/oauth"
	"github.com/health-apis/labbot/internal/storage"
)

func TestNewRunRecord(t *testing.T) {
	results := exampleResults()
	results[0].Outcome = labbot.OutcomeSuccess
	results[0].Duration = 1500 * time.Millisecond
	results[1].Outcome = labbot.OutcomeTokenFailed

	rep := Classify(results, "ok")
	record := NewRunRecord(Run{
		Operation:  "request",
		BaseURL:    "https://api.example.test/fhir/v0/r4",
		Path:       "/Patient/{icn}",
		Identities: 5,
		Duration:   3 * time.Second,
	}, results, rep)

	assert.Equal(t, "request", record.Operation)
	assert.Equal(t, "ok", record.Expected)
	assert.Equal(t, 3, record.Abandoned)
	assert.Equal(t, int64(3000), record.DurationMs)
	assert.Equal(t, rep.Winners, record.Winners)
	assert.Equal(t, rep.Losers, record.Losers)
	require.Len(t, record.Sessions, 2)
	assert.Equal(t, storage.SessionRecord{
		Identity:   "user1",
		Outcome:    "success",
		Patient:    "123",
		DurationMs: 1500,
	}, record.Sessions[0])
	assert.Equal(t, "access_denied", record.Sessions[1].Error)
}

func TestNewRunRecord_SavesWithoutTokens(t *testing.T) {
	store, err := storage.Open(t.TempDir(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	results := []labbot.SessionResult{{
		Identity: labbot.Identity{ID: "alice", Password: "pw"},
		Token:    oauth.TokenResult{AccessToken: "secret-access-token", Patient: "icn-alice"},
		Outcome:  labbot.OutcomeSuccess,
	}}
	record := NewRunRecord(Run{Operation: "tokens", Identities: 1}, results, Classify(results, ""))
	require.NoError(t, store.Save(record))

	got, err := store.Get(record.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice is patient icn-alice"}, got.Winners)
	assert.Empty(t, got.Losers)
	assert.Zero(t, got.Abandoned)

	data, err := got.MarshalBinary()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-access-token")
	assert.NotContains(t, string(data), `"pw"`)
}
