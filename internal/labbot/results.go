package labbot

import (
	"errors"
	"fmt"
	"time"

	"github.com/health-apis/labbot/internal/oauth"
)

// ErrBatchTimeout is returned when a batch is cut short by its timeout.
var ErrBatchTimeout = errors.New("batch timed out")

// Outcome says how far a session got.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeLoginFailed   Outcome = "login_failed"
	OutcomeTokenFailed   Outcome = "token_failed"
	OutcomeRequestFailed Outcome = "request_failed"
)

// Error codes put in the token of sessions that never reached the token
// endpoint.
const (
	ErrorLoginFailed = "login_failed"
)

// SessionResult is one identity's result. Token always carries either a
// token or an error; Response is set only when a follow-up request was made.
type SessionResult struct {
	Identity Identity          `json:"identity" yaml:"identity"`
	Token    oauth.TokenResult `json:"token" yaml:"token"`
	Response *string           `json:"response,omitempty" yaml:"response,omitempty"`
	Outcome  Outcome           `json:"outcome" yaml:"outcome"`
	Err      error             `json:"-" yaml:"-"`
	Duration time.Duration     `json:"duration" yaml:"duration"`
}

// RequestError reports a follow-up request that failed or returned a
// non-2xx status.
type RequestError struct {
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("GET %s failed: %v", e.URL, e.Err)
	}
	msg := fmt.Sprintf("GET %s returned HTTP %d", e.URL, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// errorBody is the response recorded for a failed follow-up request.
func errorBody(err error) string {
	return fmt.Sprintf("ERROR: %T: %v", err, err)
}
