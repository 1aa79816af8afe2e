package secret

import (
	"context"
	"fmt"
	"os"
)

const (
	SecretTypeEnv = "env"
)

// EnvProvider resolves secrets from environment variables
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider creates a new environment variable provider
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// CanResolve returns true if this provider can handle the given secret type
func (p *EnvProvider) CanResolve(secretType string) bool {
	return secretType == SecretTypeEnv
}

// Resolve retrieves the secret value from environment variables
func (p *EnvProvider) Resolve(_ context.Context, ref SecretRef) (string, error) {
	if !p.CanResolve(ref.Type) {
		return "", fmt.Errorf("env provider cannot resolve secret type: %s", ref.Type)
	}

	value, ok := p.lookup(ref.Name)
	if !ok || value == "" {
		return "", fmt.Errorf("environment variable %s not found or empty", ref.Name)
	}

	return value, nil
}

// IsAvailable always returns true as environment variables are always available
func (p *EnvProvider) IsAvailable() bool {
	return true
}
