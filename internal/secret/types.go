package secret

import (
	"context"
)

// SecretRef represents a reference to a secret
type SecretRef struct {
	Type     string // env, keyring
	Name     string // environment variable name, keyring entry
	Original string // original reference string
}

// Provider interface for secret resolution
type Provider interface {
	// CanResolve returns true if this provider can handle the given secret type
	CanResolve(secretType string) bool

	// Resolve retrieves the actual secret value
	Resolve(ctx context.Context, ref SecretRef) (string, error)

	// IsAvailable checks if the provider is available on the current system
	IsAvailable() bool
}

// Resolver manages secret resolution using multiple providers
type Resolver struct {
	providers map[string]Provider
}
