package robot

import "fmt"

// State is a step of the login flow. A session moves forward through the
// states in order or ends in StateFailed.
type State int

const (
	StateStart State = iota
	StateCredentialsEntered
	StateCredentialsChecked
	StateTwoFactorCleared
	StateConsentCleared
	StateCodeExtracted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateCredentialsEntered:
		return "credentials_entered"
	case StateCredentialsChecked:
		return "credentials_checked"
	case StateTwoFactorCleared:
		return "two_factor_cleared"
	case StateConsentCleared:
		return "consent_cleared"
	case StateCodeExtracted:
		return "code_extracted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LoginError reports a browser login that did not yield an authorization
// code. State is the last state the session reached.
type LoginError struct {
	Identity string
	State    State
	Reason   string
	Err      error
}

func (e *LoginError) Error() string {
	msg := fmt.Sprintf("failed to log in %s after %s: %s", e.Identity, e.State, e.Reason)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *LoginError) Unwrap() error {
	return e.Err
}
