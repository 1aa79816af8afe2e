package secret

import (
	"context"
	"fmt"
	"sort"
)

// NewResolver creates a resolver with the env and keyring providers registered
func NewResolver() *Resolver {
	r := &Resolver{
		providers: make(map[string]Provider),
	}

	r.RegisterProvider(SecretTypeEnv, NewEnvProvider())
	r.RegisterProvider(SecretTypeKeyring, NewKeyringProvider())

	return r
}

// RegisterProvider registers a new secret provider
func (r *Resolver) RegisterProvider(secretType string, provider Provider) {
	r.providers[secretType] = provider
}

// Resolve resolves a single secret reference
func (r *Resolver) Resolve(ctx context.Context, ref SecretRef) (string, error) {
	provider, exists := r.providers[ref.Type]
	if !exists {
		return "", fmt.Errorf("no provider for secret type: %s", ref.Type)
	}

	if !provider.CanResolve(ref.Type) {
		return "", fmt.Errorf("provider cannot resolve secret type: %s", ref.Type)
	}

	if !provider.IsAvailable() {
		return "", fmt.Errorf("provider for %s is not available on this system", ref.Type)
	}

	return provider.Resolve(ctx, ref)
}

// AvailableProviders returns the sorted secret types that can be resolved here
func (r *Resolver) AvailableProviders() []string {
	var available []string
	for secretType, provider := range r.providers {
		if provider.IsAvailable() {
			available = append(available, secretType)
		}
	}
	sort.Strings(available)
	return available
}
