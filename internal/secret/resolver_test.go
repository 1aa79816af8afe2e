package secret

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

type stubProvider struct {
	secretType string
	values     map[string]string
	available  bool
}

func (p *stubProvider) CanResolve(secretType string) bool { return secretType == p.secretType }

func (p *stubProvider) Resolve(_ context.Context, ref SecretRef) (string, error) {
	if v, ok := p.values[ref.Name]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func (p *stubProvider) IsAvailable() bool { return p.available }

func TestResolver_Resolve(t *testing.T) {
	r := &Resolver{providers: map[string]Provider{}}
	r.RegisterProvider("stub", &stubProvider{secretType: "stub", values: map[string]string{"a": "1"}, available: true})
	r.RegisterProvider("offline", &stubProvider{secretType: "offline", available: false})
	ctx := context.Background()

	v, err := r.Resolve(ctx, SecretRef{Type: "stub", Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, err = r.Resolve(ctx, SecretRef{Type: "vault", Name: "a"})
	assert.ErrorContains(t, err, "no provider for secret type")

	_, err = r.Resolve(ctx, SecretRef{Type: "offline", Name: "a"})
	assert.ErrorContains(t, err, "not available")

	assert.Equal(t, []string{"stub"}, r.AvailableProviders())
}

func TestResolver_ExpandSecretRefs(t *testing.T) {
	t.Setenv("LABBOT_TEST_SECRET", "env-value")
	r := NewResolver()
	ctx := context.Background()

	out, err := r.ExpandSecretRefs(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = r.ExpandSecretRefs(ctx, "${env:LABBOT_TEST_SECRET}")
	require.NoError(t, err)
	assert.Equal(t, "env-value", out)

	out, err = r.ExpandSecretRefs(ctx, "pre-${env:LABBOT_TEST_SECRET}-post")
	require.NoError(t, err)
	assert.Equal(t, "pre-env-value-post", out)

	_, err = r.ExpandSecretRefs(ctx, "${env:LABBOT_TEST_MISSING}")
	assert.ErrorContains(t, err, "not found or empty")
}

func TestKeyringProvider(t *testing.T) {
	keyring.MockInit()
	p := NewKeyringProvider()
	ctx := context.Background()

	assert.True(t, p.IsAvailable())
	assert.True(t, p.CanResolve("keyring"))
	assert.False(t, p.CanResolve("env"))

	_, err := p.Resolve(ctx, SecretRef{Type: "keyring", Name: "lab-password"})
	assert.Error(t, err)

	require.NoError(t, p.Store("lab-password", "p@ss"))
	v, err := p.Resolve(ctx, SecretRef{Type: "keyring", Name: "lab-password"})
	require.NoError(t, err)
	assert.Equal(t, "p@ss", v)

	r := NewResolver()
	out, err := r.ExpandSecretRefs(ctx, "${keyring:lab-password}")
	require.NoError(t, err)
	assert.Equal(t, "p@ss", out)
}

func TestEnvProvider_Resolve(t *testing.T) {
	p := &EnvProvider{lookup: func(name string) (string, bool) {
		switch name {
		case "SET":
			return "value", true
		case "EMPTY":
			return "", true
		}
		return "", false
	}}
	ctx := context.Background()

	v, err := p.Resolve(ctx, SecretRef{Type: "env", Name: "SET"})
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	_, err = p.Resolve(ctx, SecretRef{Type: "env", Name: "EMPTY"})
	assert.ErrorContains(t, err, "not found or empty")

	_, err = p.Resolve(ctx, SecretRef{Type: "env", Name: "UNSET"})
	assert.Error(t, err)

	_, err = p.Resolve(ctx, SecretRef{Type: "keyring", Name: "SET"})
	assert.ErrorContains(t, err, "cannot resolve")
}
