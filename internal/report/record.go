package report

import (
	"time"

	"github.com/health-apis/labbot/internal/labbot"
	"github.com/health-apis/labbot/internal/storage"
)

// Run describes a finished batch for the run history.
type Run struct {
	Operation  string
	BaseURL    string
	Path       string
	Identities int
	Duration   time.Duration
}

// NewRunRecord builds the history record of a classified batch. Sessions
// carry outcome and error only; tokens are left out.
func NewRunRecord(run Run, results []labbot.SessionResult, rep LoginReport) *storage.RunRecord {
	record := &storage.RunRecord{
		Operation:  run.Operation,
		BaseURL:    run.BaseURL,
		Path:       run.Path,
		Expected:   rep.Expected,
		Identities: run.Identities,
		Abandoned:  max(run.Identities-len(results), 0),
		DurationMs: run.Duration.Milliseconds(),
		Winners:    append([]string{}, rep.Winners...),
		Losers:     append([]string{}, rep.Losers...),
		Sessions:   make([]storage.SessionRecord, 0, len(results)),
	}
	for _, r := range results {
		record.Sessions = append(record.Sessions, storage.SessionRecord{
			Identity:         r.Identity.ID,
			Outcome:          string(r.Outcome),
			Patient:          r.Token.Patient,
			Error:            r.Token.Error,
			ErrorDescription: r.Token.ErrorDescription,
			DurationMs:       r.Duration.Milliseconds(),
		})
	}
	return record
}
