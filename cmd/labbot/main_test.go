package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/health-apis/labbot/internal/cli/output"
	"github.com/health-apis/labbot/internal/config"
	"github.com/health-apis/labbot/internal/labbot"
	"github.com/health-apis/labbot/internal/oauth"
	"github.com/health-apis/labbot/internal/storage"
	"github.com/health-apis/labbot/internal/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LABBOT_OUTPUT", "")

	root := newRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeProperties(t *testing.T, baseURL string) string {
	t.Helper()
	content := fmt.Sprintf(`va-oauth-robot.base-url=%s
va-oauth-robot.client-id=client
va-oauth-robot.client-secret=client-secret
va-oauth-robot.redirect-url=https://app.example.test/callback
va-oauth-robot.state=labbot
va-oauth-robot.aud=aud
va-oauth-robot.user-password=lab-password
labbot.history-dir=%s
`, baseURL, filepath.Join(t.TempDir(), "history"))
	path := filepath.Join(t.TempDir(), "lab.properties")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCodeSuccess},
		{"config", &config.ConfigError{Key: config.KeyClientID}, ExitCodeConfigError},
		{"wrapped config", fmt.Errorf("load: %w", &config.ConfigError{Key: config.KeyBaseURL}), ExitCodeConfigError},
		{"conformance", &oauth.ConformanceError{Err: errors.New("no rest")}, ExitCodeConformanceError},
		{"losers", &losersError{losers: 2, total: 5}, ExitCodeLosers},
		{"batch timeout", fmt.Errorf("%w: 3 of 5 identities abandoned", labbot.ErrBatchTimeout), ExitCodeBatchTimeout},
		{"other", errors.New("boom"), ExitCodeGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestStructuredErrorFor(t *testing.T) {
	se := structuredErrorFor(&config.ConfigError{Key: config.KeyClientSecret})
	assert.Equal(t, output.ErrCodeConfigInvalid, se.Code)
	assert.Equal(t, "configuration property va-oauth-robot.client-secret must be specified", se.Message)
	assert.Equal(t, ExitCodeConfigError, se.Context["exit_code"])
	assert.NotEmpty(t, se.Guidance)

	se = structuredErrorFor(&losersError{losers: 1, total: 3})
	assert.Equal(t, output.ErrCodeLosers, se.Code)
	assert.Equal(t, "1 of 3 users failed", se.Message)

	custom := output.NewStructuredError(output.ErrCodeHistoryUnavailable, "locked")
	assert.Equal(t, custom, structuredErrorFor(fmt.Errorf("history: %w", custom)))
}

func TestUsersCommand(t *testing.T) {
	out, err := execute(t, "users", "--users", "alice,bob")
	require.NoError(t, err)
	assert.Equal(t, "alice\nbob\n", out)
}

func TestUsersCommand_AllUsersJSON(t *testing.T) {
	out, err := execute(t, "users", "--json")
	require.NoError(t, err)

	var ids []string
	require.NoError(t, json.Unmarshal([]byte(out), &ids))
	assert.Equal(t, labbot.AllUsers(), ids)
}

func TestUsersCommand_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	require.NoError(t, os.WriteFile(path, []byte("# smoke\ncarol\n\ndave\n"), 0o600))

	out, err := execute(t, "users", "--users-file", path)
	require.NoError(t, err)
	assert.Equal(t, "carol\ndave\n", out)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nobody\n"), 0o600))
	_, err = execute(t, "users", "--users-file", empty)
	assert.ErrorContains(t, err, "lists no users")
}

func TestUsersCommand_BadOutputFormat(t *testing.T) {
	_, err := execute(t, "users", "-o", "csv")
	var se output.StructuredError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, output.ErrCodeInvalidOutputFormat, se.Code)
}

func TestDiscoverCommand(t *testing.T) {
	server := testutil.NewFakeSMARTServer(t)
	props := writeProperties(t, server.BaseURL())

	out, err := execute(t, "discover", "-c", props, "-o", "json", "--log-level", "error")
	require.NoError(t, err)

	var endpoints oauth.EndpointSet
	require.NoError(t, json.Unmarshal([]byte(out), &endpoints))
	assert.Equal(t, testutil.DefaultAuthorizeURL, endpoints.AuthorizeURL)
	assert.Equal(t, server.TokenURL(), endpoints.TokenURL)
}

func TestDiscoverCommand_Conformance(t *testing.T) {
	server := testutil.NewFakeSMARTServer(t)
	server.SetMetadata(200, []byte(`{"resourceType":"CapabilityStatement","rest":[]}`))
	props := writeProperties(t, server.BaseURL())

	_, err := execute(t, "discover", "-c", props, "--log-level", "error")
	require.Error(t, err)
	assert.Equal(t, ExitCodeConformanceError, exitCodeFor(err))
}

func TestDiscoverCommand_MissingConfig(t *testing.T) {
	t.Setenv("LABBOT_VA_OAUTH_ROBOT_BASE_URL", "")
	_, err := execute(t, "discover", "-c", filepath.Join(t.TempDir(), "missing.properties"))
	require.Error(t, err)
	assert.Equal(t, ExitCodeConfigError, exitCodeFor(err))
}

func TestRequestCommand_RequiresPath(t *testing.T) {
	_, err := execute(t, "request")
	assert.ErrorContains(t, err, `"path"`)
}

func TestRequestCommand_RejectsBadFormat(t *testing.T) {
	_, err := execute(t, "request", "--path", "/Patient/{icn}", "--format", "xml")
	assert.ErrorContains(t, err, "unknown report format")
}

func seedHistory(t *testing.T) (string, []*storage.RunRecord) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(dir, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	records := []*storage.RunRecord{
		{Operation: "tokens", BaseURL: "https://api.example.test", Identities: 2, Winners: []string{"a is patient 1"}, Losers: []string{"b is patient  - login_failed: bad"}},
		{Operation: "request", BaseURL: "https://api.example.test", Path: "/Patient/{icn}", Identities: 1, Winners: []string{"c is patient 3"}, Losers: []string{}},
	}
	for _, r := range records {
		require.NoError(t, store.Save(r))
	}
	require.NoError(t, store.Close())
	return dir, records
}

func TestHistoryCommand(t *testing.T) {
	dir, records := seedHistory(t)

	out, err := execute(t, "history", "--dir", dir, "--log-level", "error")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "RUN"))
	assert.True(t, strings.HasPrefix(lines[1], records[1].ID), "newest first")
	assert.True(t, strings.HasPrefix(lines[2], records[0].ID))

	out, err = execute(t, "history", "--dir", dir, "--show", records[0].ID, "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t,
		"Run "+records[0].ID+": tokens against https://api.example.test\n"+
			"a is patient 1 - OK\nb is patient  - login_failed: bad\n",
		out)

	out, err = execute(t, "history", "--dir", dir, "--json", "--limit", "1", "--log-level", "error")
	require.NoError(t, err)
	var listed []storage.RunRecord
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, records[1].ID, listed[0].ID)
}

func TestHistoryCommand_UnknownRun(t *testing.T) {
	dir, _ := seedHistory(t)
	_, err := execute(t, "history", "--dir", dir, "--show", "01ARZ3NDEKTSV4RRFFQ69G5FAV", "--log-level", "error")
	var se output.StructuredError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, output.ErrCodeInvalidInput, se.Code)
}

func TestHistoryCommand_Prune(t *testing.T) {
	dir, _ := seedHistory(t)
	out, err := execute(t, "history", "--dir", dir, "--prune", "1", "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "Removed 1 runs\n", out)
}
