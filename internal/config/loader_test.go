package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validProperties = `va-oauth-robot.base-url=https://sandbox-api.example.gov/services/fhir/v0/r4
va-oauth-robot.client-id=0oa1example
va-oauth-robot.client-secret=s3cret
va-oauth-robot.redirect-url=https://app.example.gov/callback
va-oauth-robot.state=labbot-state
va-oauth-robot.aud=default
va-oauth-robot.user-password=hunter2
va-oauth-robot.credentials-mode=REQUEST_BODY
va-oauth-robot.credentials-type=MY_HEALTHE_VET
va-oauth-robot.skip-two-factor-authentication=false
webdriver.chrome.driver=/usr/bin/chromium
webdriver.chrome.headless=false
labbot.pool-size=3
labbot.batch-timeout=2m
`

func writeProperties(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lab.properties")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_PropertiesFile(t *testing.T) {
	path := writeProperties(t, validProperties)

	cfg, err := Load(context.Background(), path, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://sandbox-api.example.gov/services/fhir/v0/r4", cfg.BaseURL)
	assert.Equal(t, "0oa1example", cfg.ClientID)
	assert.Equal(t, "s3cret", cfg.ClientSecret)
	assert.Equal(t, "https://app.example.gov/callback", cfg.RedirectURL)
	assert.Equal(t, "labbot-state", cfg.State)
	assert.Equal(t, "default", cfg.Audience)
	assert.Equal(t, "hunter2", cfg.UserPassword)
	assert.Equal(t, CredentialsModeRequestBody, cfg.CredentialsMode)
	assert.Equal(t, CredentialsTypeMyHealtheVet, cfg.CredentialsType)
	assert.False(t, cfg.SkipTwoFactor)
	assert.Equal(t, "/usr/bin/chromium", cfg.ChromeDriver)
	assert.False(t, cfg.Headless)
	assert.Equal(t, 3, cfg.PoolSize)
	assert.Equal(t, 2*time.Minute, cfg.BatchTimeout)
	assert.Equal(t, DefaultWaitTimeout, cfg.WaitTimeout)
	assert.Equal(t, DefaultPageLoadTimeout, cfg.PageLoadTimeout)
	assert.NotEmpty(t, cfg.SourceFile)
	require.NotNil(t, cfg.Logging)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeProperties(t, validProperties)
	t.Setenv("LABBOT_VA_OAUTH_ROBOT_CLIENT_ID", "from-env")
	t.Setenv("LABBOT_LABBOT_POOL_SIZE", "7")

	cfg, err := Load(context.Background(), path, nil)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.ClientID)
	assert.Equal(t, 7, cfg.PoolSize)
}

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	for _, line := range strings.Split(strings.TrimSpace(validProperties), "\n") {
		key, value, _ := strings.Cut(line, "=")
		env := "LABBOT_" + strings.NewReplacer(".", "_", "-", "_").Replace(strings.ToUpper(key))
		t.Setenv(env, value)
	}

	cfg, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.properties"), nil)
	require.NoError(t, err)

	assert.Empty(t, cfg.SourceFile)
	assert.Equal(t, "0oa1example", cfg.ClientID)
}

func TestLoad_Defaults(t *testing.T) {
	minimal := `va-oauth-robot.base-url=https://api.example.gov/fhir
va-oauth-robot.client-id=id
va-oauth-robot.client-secret=secret
va-oauth-robot.redirect-url=https://app.example.gov/callback
va-oauth-robot.state=state
va-oauth-robot.aud=aud
va-oauth-robot.user-password=pw
`
	cfg, err := Load(context.Background(), writeProperties(t, minimal), nil)
	require.NoError(t, err)

	assert.Equal(t, CredentialsModeHeader, cfg.CredentialsMode)
	assert.Equal(t, CredentialsTypeIDMe, cfg.CredentialsType)
	assert.True(t, cfg.SkipTwoFactor)
	assert.True(t, cfg.Headless)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultBatchTimeout, cfg.BatchTimeout)
	assert.Equal(t, DefaultTwoFactorTimeout, cfg.TwoFactorTimeout)
	assert.Zero(t, cfg.LaunchRate)
	assert.False(t, cfg.UseTOTP())
}

func TestLoad_MissingRequiredKey(t *testing.T) {
	content := strings.Replace(validProperties, "va-oauth-robot.state=labbot-state\n", "", 1)

	_, err := Load(context.Background(), writeProperties(t, content), nil)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, KeyState, cfgErr.Key)
	assert.Contains(t, err.Error(), "must be specified")
}

type fakeExpander map[string]string

func (f fakeExpander) ExpandSecretRefs(_ context.Context, input string) (string, error) {
	if v, ok := f[input]; ok {
		return v, nil
	}
	if strings.HasPrefix(input, "${") {
		return "", errors.New("secret not found")
	}
	return input, nil
}

func TestLoad_ExpandsSecretReferences(t *testing.T) {
	content := strings.Replace(validProperties, "client-secret=s3cret", "client-secret=${env:LAB_CLIENT_SECRET}", 1)
	expander := fakeExpander{"${env:LAB_CLIENT_SECRET}": "resolved-secret"}

	cfg, err := Load(context.Background(), writeProperties(t, content), expander)
	require.NoError(t, err)
	assert.Equal(t, "resolved-secret", cfg.ClientSecret)
	assert.Contains(t, cfg.Secrets(), "resolved-secret")
	assert.Contains(t, cfg.Secrets(), "hunter2")
}

func TestLoad_UnresolvableSecretIsConfigError(t *testing.T) {
	content := strings.Replace(validProperties, "user-password=hunter2", "user-password=${keyring:missing}", 1)

	_, err := Load(context.Background(), writeProperties(t, content), fakeExpander{})
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, KeyUserPassword, cfgErr.Key)
}
