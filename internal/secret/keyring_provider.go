package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// ServiceName for keyring entries
	ServiceName       = "labbot"
	SecretTypeKeyring = "keyring"
)

// KeyringProvider resolves secrets from OS keyring (Keychain, Secret Service, WinCred)
type KeyringProvider struct {
	serviceName string
}

// NewKeyringProvider creates a new keyring provider
func NewKeyringProvider() *KeyringProvider {
	return &KeyringProvider{
		serviceName: ServiceName,
	}
}

// CanResolve returns true if this provider can handle the given secret type
func (p *KeyringProvider) CanResolve(secretType string) bool {
	return secretType == SecretTypeKeyring
}

// Resolve retrieves the secret value from the OS keyring
func (p *KeyringProvider) Resolve(_ context.Context, ref SecretRef) (string, error) {
	if !p.CanResolve(ref.Type) {
		return "", fmt.Errorf("keyring provider cannot resolve secret type: %s", ref.Type)
	}

	secret, err := keyring.Get(p.serviceName, ref.Name)
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s from keyring: %w", ref.Name, err)
	}

	return secret, nil
}

// Store saves a secret to the OS keyring. Used by operators to seed lab
// passwords before a run.
func (p *KeyringProvider) Store(name, value string) error {
	if err := keyring.Set(p.serviceName, name, value); err != nil {
		return fmt.Errorf("failed to store secret %s in keyring: %w", name, err)
	}
	return nil
}

// IsAvailable probes the keyring backend. A missing entry still means the
// backend works.
func (p *KeyringProvider) IsAvailable() bool {
	_, err := keyring.Get(p.serviceName, "_labbot_probe")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
