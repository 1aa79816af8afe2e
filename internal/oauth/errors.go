// Package oauth implements the SMART-on-FHIR pieces of the login robot:
// capability-document discovery, authorization URL construction and the
// authorization-code token exchange.
package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCode indicates the redirect URL carried no code parameter.
	ErrNoCode = errors.New("no authorization code in redirect URL")
)

// ConformanceError reports a capability document that cannot be fetched or
// does not contain the SMART oauth-uris extension. It is fatal for a batch.
type ConformanceError struct {
	// Path names the key or key:value pair that could not be found.
	Path string
	Err  error
}

func (e *ConformanceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("conformance discovery failed: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Path
}

func (e *ConformanceError) Unwrap() error {
	return e.Err
}

// TokenExchangeError reports a token endpoint response carrying an OAuth
// error, or a token request that failed outright.
type TokenExchangeError struct {
	Code        string
	Description string
	StatusCode  int
	Err         error
}

func (e *TokenExchangeError) Error() string {
	msg := "token exchange failed"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Code)
	}
	if e.Description != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Description)
	}
	if e.Code == "" && e.Description == "" && e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}
