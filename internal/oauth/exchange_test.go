package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/health-apis/labbot/internal/config"
	"github.com/health-apis/labbot/internal/testutil"
)

func exchangeRequest() AuthorizationRequest {
	return AuthorizationRequest{
		AuthorizeURL: testutil.DefaultAuthorizeURL,
		ClientID:     "0oa1client",
		ClientSecret: "client-secret",
		RedirectURL:  "https://app.example/callback",
		State:        "labbot",
		Audience:     "default",
		Scopes:       []string{"launch/patient", "patient/Patient.read"},
	}
}

func TestExchange_HeaderMode(t *testing.T) {
	srv := testutil.NewFakeSMARTServer(t)
	client := NewTokenExchangeClient(srv.Client(), zaptest.NewLogger(t))

	got, err := client.Exchange(context.Background(), srv.TokenURL(), "abc", exchangeRequest(), config.CredentialsModeHeader)
	require.NoError(t, err)

	assert.False(t, got.IsError())
	assert.Equal(t, "at-abc", got.AccessToken)
	assert.Equal(t, "Bearer", got.TokenType)
	assert.Equal(t, "icn-abc", got.Patient)
	assert.Equal(t, "labbot", got.State)
	assert.Equal(t, "launch/patient patient/Patient.read", got.Scope)
	assert.WithinDuration(t, time.Now().Add(time.Hour), got.ExpiresAt, 5*time.Second)

	reqs := srv.TokenRequests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].HasBasicAuth)
	assert.Equal(t, "0oa1client", reqs[0].BasicUser)
	assert.Equal(t, "client-secret", reqs[0].BasicPassword)
	assert.Equal(t, "authorization_code", reqs[0].Form.Get("grant_type"))
	assert.Equal(t, "abc", reqs[0].Form.Get("code"))
	assert.Equal(t, "https://app.example/callback", reqs[0].Form.Get("redirect_uri"))
	assert.Empty(t, reqs[0].Form.Get("client_secret"))
}

func TestExchange_HeaderModeFormEncodesCredentials(t *testing.T) {
	srv := testutil.NewFakeSMARTServer(t)
	client := NewTokenExchangeClient(srv.Client(), zaptest.NewLogger(t))

	auth := exchangeRequest()
	auth.ClientID = "lab client"
	auth.ClientSecret = "s3cr+t/="
	_, err := client.Exchange(context.Background(), srv.TokenURL(), "abc", auth, config.CredentialsModeHeader)
	require.NoError(t, err)

	reqs := srv.TokenRequests()
	require.Len(t, reqs, 1)
	require.True(t, reqs[0].HasBasicAuth)
	// RFC 6749 section 2.3.1: form-encoded before Basic encoding.
	assert.Equal(t, "lab+client", reqs[0].BasicUser)
	assert.Equal(t, "s3cr%2Bt%2F%3D", reqs[0].BasicPassword)
}

func TestExchange_RequestBodyMode(t *testing.T) {
	srv := testutil.NewFakeSMARTServer(t)
	client := NewTokenExchangeClient(srv.Client(), zaptest.NewLogger(t))

	_, err := client.Exchange(context.Background(), srv.TokenURL(), "abc", exchangeRequest(), config.CredentialsModeRequestBody)
	require.NoError(t, err)

	reqs := srv.TokenRequests()
	require.Len(t, reqs, 1)
	assert.False(t, reqs[0].HasBasicAuth)
	assert.Equal(t, "0oa1client", reqs[0].Form.Get("client_id"))
	assert.Equal(t, "client-secret", reqs[0].Form.Get("client_secret"))
}

func TestExchange_ProviderError(t *testing.T) {
	srv := testutil.NewFakeSMARTServer(t)
	client := NewTokenExchangeClient(srv.Client(), zaptest.NewLogger(t))

	got, err := client.Exchange(context.Background(), srv.TokenURL(), "expired-1", exchangeRequest(), config.CredentialsModeHeader)
	require.Error(t, err)

	var exErr *TokenExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, "invalid_grant", exErr.Code)
	assert.Equal(t, http.StatusBadRequest, exErr.StatusCode)

	assert.True(t, got.IsError())
	assert.Equal(t, "invalid_grant", got.Error)
	assert.Equal(t, "authorization code has expired", got.ErrorDescription)
	assert.Len(t, srv.TokenRequests(), 1, "codes are single use, no retry")
}

func TestExchange_ErrorFieldInSuccessfulResponse(t *testing.T) {
	srv := testutil.NewFakeSMARTServer(t)
	srv.SetTokenResponder(func(code string) (int, map[string]any) {
		return http.StatusOK, map[string]any{"error": "access_denied", "error_description": "patient not matched", "patient": "icn-x"}
	})
	client := NewTokenExchangeClient(srv.Client(), zaptest.NewLogger(t))

	got, err := client.Exchange(context.Background(), srv.TokenURL(), "abc", exchangeRequest(), config.CredentialsModeHeader)
	require.Error(t, err)
	assert.Equal(t, "access_denied", got.Error)
	assert.Equal(t, "patient not matched", got.ErrorDescription)
	assert.Equal(t, "icn-x", got.Patient)
}

func TestExchange_NonJSONFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	client := NewTokenExchangeClient(srv.Client(), zaptest.NewLogger(t))
	got, err := client.Exchange(context.Background(), srv.URL, "abc", exchangeRequest(), config.CredentialsModeHeader)
	require.Error(t, err)
	assert.Equal(t, "http_502", got.Error)
	assert.Equal(t, "upstream unavailable", got.ErrorDescription)
}

func TestExchange_TransportFailure(t *testing.T) {
	srv := testutil.NewFakeSMARTServer(t)
	tokenURL := srv.TokenURL()
	srv.Close()

	got, err := NewTokenExchangeClient(nil, zaptest.NewLogger(t)).
		Exchange(context.Background(), tokenURL, "abc", exchangeRequest(), config.CredentialsModeHeader)
	var exErr *TokenExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, "token_request_failed", got.Error)
	assert.True(t, got.IsError())
}

func TestTokenResult_IsError(t *testing.T) {
	assert.False(t, TokenResult{}.IsError())
	assert.False(t, TokenResult{Error: "  ", ErrorDescription: "\t"}.IsError())
	assert.True(t, TokenResult{Error: "invalid_grant"}.IsError())
	assert.True(t, TokenResult{ErrorDescription: "bad"}.IsError())
}

func TestTokenResult_IsErrorProperty(t *testing.T) {
	blankOrText := rapid.OneOf(rapid.StringMatching(`[ \t\n]{0,3}`), rapid.StringMatching(`[ ]?[a-z_]{1,10}[ ]?`))
	rapid.Check(t, func(t *rapid.T) {
		r := TokenResult{
			Error:            blankOrText.Draw(t, "error"),
			ErrorDescription: blankOrText.Draw(t, "description"),
		}
		hasText := func(s string) bool {
			for _, c := range s {
				if c != ' ' && c != '\t' && c != '\n' {
					return true
				}
			}
			return false
		}
		if r.IsError() != (hasText(r.Error) || hasText(r.ErrorDescription)) {
			t.Fatalf("IsError()=%v for %+v", r.IsError(), r)
		}
	})
}

func TestEpochField(t *testing.T) {
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), epochField(float64(1700000000)))
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), epochField("1700000000"))
	assert.True(t, epochField("soon").IsZero())
	assert.True(t, epochField(nil).IsZero())
}
