package storage

import (
	"encoding/json"
	"time"
)

// RunRecord is the persisted report of one batch.
type RunRecord struct {
	ID         string          `json:"id" yaml:"id"`
	Timestamp  time.Time       `json:"timestamp" yaml:"timestamp"`
	Operation  string          `json:"operation" yaml:"operation"` // tokens, request
	BaseURL    string          `json:"base_url" yaml:"base_url"`
	Path       string          `json:"path,omitempty" yaml:"path,omitempty"`
	Expected   string          `json:"expected,omitempty" yaml:"expected,omitempty"`
	Identities int             `json:"identities" yaml:"identities"`
	Abandoned  int             `json:"abandoned,omitempty" yaml:"abandoned,omitempty"`
	DurationMs int64           `json:"duration_ms" yaml:"duration_ms"`
	Winners    []string        `json:"winners" yaml:"winners"`
	Losers     []string        `json:"losers" yaml:"losers"`
	Sessions   []SessionRecord `json:"sessions,omitempty" yaml:"sessions,omitempty"`
}

// SessionRecord is one identity's result within a run. Tokens are never
// stored.
type SessionRecord struct {
	Identity         string `json:"identity" yaml:"identity"`
	Outcome          string `json:"outcome" yaml:"outcome"`
	Patient          string `json:"patient,omitempty" yaml:"patient,omitempty"`
	Error            string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty" yaml:"error_description,omitempty"`
	DurationMs       int64  `json:"duration_ms" yaml:"duration_ms"`
}

// MarshalBinary implements encoding.BinaryMarshaler
func (r *RunRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (r *RunRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// Summary returns winners/losers counts for listings.
func (r *RunRecord) Summary() (winners, losers int) {
	return len(r.Winners), len(r.Losers)
}
