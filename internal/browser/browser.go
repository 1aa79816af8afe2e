// Package browser defines the page-level capabilities the login robot needs
// and a headless Chrome implementation driven over the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrElementNotFound is returned when a selector matches nothing before the
// element timeout expires.
var ErrElementNotFound = errors.New("element not found")

// Browser is one isolated browser session. Selectors are CSS selectors.
// Implementations are not safe for concurrent use; each login owns one.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, text string) error
	Text(ctx context.Context, selector string) (string, error)
	// Exists reports whether selector matches right now, without waiting.
	Exists(ctx context.Context, selector string) (bool, error)
	// ReadyState returns document.readyState.
	ReadyState(ctx context.Context) (string, error)
	Close() error
}

// Options configures a launched browser.
type Options struct {
	Headless bool
	// ExecPath is the browser executable; empty searches the usual locations.
	ExecPath string
	// ElementTimeout bounds how long element actions wait for their selector.
	ElementTimeout time.Duration
	// PageLoadTimeout bounds Navigate.
	PageLoadTimeout time.Duration
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Browser, error)
}
