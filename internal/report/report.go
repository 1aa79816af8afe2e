// Package report sorts session results into winners and losers and renders
// the lab user report.
package report

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/health-apis/labbot/internal/cli/output"
	"github.com/health-apis/labbot/internal/labbot"
)

// ErrorUnexpectedResponse is the loser error for a session whose token was
// good but whose follow-up response lacked the expected text.
const ErrorUnexpectedResponse = "unexpected_response"

// Entry is one classified session.
type Entry struct {
	Identity string `json:"identity" yaml:"identity"`
	Patient  string `json:"patient" yaml:"patient"`
	Winner   bool   `json:"winner" yaml:"winner"`
	Line     string `json:"line" yaml:"line"`
}

// LoginReport is the classification of one batch.
type LoginReport struct {
	Expected string   `json:"expected,omitempty" yaml:"expected,omitempty"`
	Winners  []string `json:"winners" yaml:"winners"`
	Losers   []string `json:"losers" yaml:"losers"`
	Entries  []Entry  `json:"-" yaml:"-"`
}

// IsWinner reports whether r got a token and, when a follow-up request was
// made, the request succeeded and its response contains expected.
func IsWinner(r labbot.SessionResult, expected string) bool {
	if r.Token.IsError() || r.Outcome == labbot.OutcomeRequestFailed {
		return false
	}
	return r.Response == nil || strings.Contains(*r.Response, expected)
}

// Classify partitions results. Winners render as "<id> is patient <icn>",
// losers as "<id> is patient <icn> - <error>: <description>". Both lists
// keep the order of results.
func Classify(results []labbot.SessionResult, expected string) LoginReport {
	report := LoginReport{
		Expected: expected,
		Winners:  []string{},
		Losers:   []string{},
		Entries:  make([]Entry, 0, len(results)),
	}
	for _, r := range results {
		line := fmt.Sprintf("%s is patient %s", r.Identity.ID, r.Token.Patient)
		winner := IsWinner(r, expected)
		if winner {
			report.Winners = append(report.Winners, line)
		} else {
			code, description := loserError(r, expected)
			line = fmt.Sprintf("%s - %s: %s", line, code, description)
			report.Losers = append(report.Losers, line)
		}
		report.Entries = append(report.Entries, Entry{
			Identity: r.Identity.ID,
			Patient:  r.Token.Patient,
			Winner:   winner,
			Line:     line,
		})
	}
	return report
}

func loserError(r labbot.SessionResult, expected string) (string, string) {
	if r.Token.IsError() {
		return r.Token.Error, r.Token.ErrorDescription
	}
	if r.Outcome == labbot.OutcomeRequestFailed {
		if r.Err != nil {
			return string(labbot.OutcomeRequestFailed), r.Err.Error()
		}
		return string(labbot.OutcomeRequestFailed), "follow-up request failed"
	}
	return ErrorUnexpectedResponse, fmt.Sprintf("response does not contain %q", expected)
}

// HasLosers reports whether any session lost.
func (r LoginReport) HasLosers() bool {
	return len(r.Losers) > 0
}

// Lines returns the sorted union of the winners, each suffixed " - OK", and
// the losers.
func (r LoginReport) Lines() []string {
	lines := make([]string, 0, len(r.Winners)+len(r.Losers))
	for _, w := range r.Winners {
		lines = append(lines, w+" - OK")
	}
	lines = append(lines, r.Losers...)
	sort.Strings(lines)
	return lines
}

// Text is the newline-joined report.
func (r LoginReport) Text() string {
	return strings.Join(r.Lines(), "\n")
}

// Log writes one Winner/Loser line per session followed by the full report.
func (r LoginReport) Log(logger *zap.Logger) {
	for _, e := range r.Entries {
		if e.Winner {
			logger.Info(fmt.Sprintf("Winner: %s is patient %s.", e.Identity, e.Patient))
		} else {
			logger.Info(fmt.Sprintf("Loser: %s is patient %s.", e.Identity, e.Patient))
		}
	}
	logger.Info("Lab Users:\n"+r.Text(),
		zap.Int("winners", len(r.Winners)),
		zap.Int("losers", len(r.Losers)))
}

// ParseFormat checks a report format name.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", "text":
		return "text", nil
	case output.FormatJSON, output.FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want text, json or yaml)", s)
	}
}

// Render formats the report as text, json or yaml.
func (r LoginReport) Render(format string) (string, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return "", err
	}
	formatter, err := output.NewFormatter(f)
	if err != nil {
		return "", err
	}
	return formatter.Format(r)
}

// WriteFile renders the report and writes it to path.
func (r LoginReport) WriteFile(path, format string) error {
	rendered, err := r.Render(format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil { //nolint:gosec // report is meant to be shared
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
