package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/health-apis/labbot/internal/config"
	"github.com/health-apis/labbot/internal/stringutil"
)

// TokenResult is the token endpoint response. Error responses are carried
// in Error/ErrorDescription rather than dropped.
type TokenResult struct {
	AccessToken      string    `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	TokenType        string    `json:"token_type,omitempty" yaml:"token_type,omitempty"`
	ExpiresAt        time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Scope            string    `json:"scope,omitempty" yaml:"scope,omitempty"`
	IDToken          string    `json:"id_token,omitempty" yaml:"id_token,omitempty"`
	Patient          string    `json:"patient,omitempty" yaml:"patient,omitempty"`
	State            string    `json:"state,omitempty" yaml:"state,omitempty"`
	RefreshToken     string    `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	Error            string    `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorDescription string    `json:"error_description,omitempty" yaml:"error_description,omitempty"`
}

// IsError reports whether the response carries an OAuth error. Whitespace-only
// values count as absent.
func (t TokenResult) IsError() bool {
	return strings.TrimSpace(t.Error) != "" || strings.TrimSpace(t.ErrorDescription) != ""
}

// TokenExchangeClient swaps authorization codes for tokens.
type TokenExchangeClient struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTokenExchangeClient returns a client that sends token requests through
// httpClient (http.DefaultClient when nil).
func NewTokenExchangeClient(httpClient *http.Client, logger *zap.Logger) *TokenExchangeClient {
	if logger == nil {
		logger = zap.L().Named("oauth.exchange")
	}
	return &TokenExchangeClient{httpClient: httpClient, logger: logger}
}

// Exchange posts grant_type=authorization_code to tokenURL. HEADER mode sends
// the client credentials as HTTP Basic; REQUEST_BODY mode sends client_id and
// client_secret as form fields. A response carrying an OAuth error is
// returned as a populated TokenResult together with a *TokenExchangeError.
// There is no retry: codes are single use.
func (c *TokenExchangeClient) Exchange(ctx context.Context, tokenURL, code string, auth AuthorizationRequest, mode config.CredentialsMode) (TokenResult, error) {
	style := oauth2.AuthStyleInHeader
	if mode == config.CredentialsModeRequestBody {
		style = oauth2.AuthStyleInParams
	}

	conf := &oauth2.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		RedirectURL:  auth.RedirectURL,
		Scopes:       auth.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   auth.AuthorizeURL,
			TokenURL:  tokenURL,
			AuthStyle: style,
		},
	}

	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	c.logger.Debug("Exchanging authorization code",
		zap.String("token_url", tokenURL),
		zap.String("credentials_mode", string(mode)),
		zap.String("client_id", maskOAuthSecret(auth.ClientID)),
		zap.String("code", maskOAuthSecret(code)))

	start := time.Now()
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		result, exErr := resultFromError(err)
		LogOAuthResponseError(c.logger, exErr.StatusCode, exErr.Error(), time.Since(start))
		return result, exErr
	}

	result := resultFromToken(tok)
	LogTokenMetadata(c.logger, result)
	return result, nil
}

func resultFromToken(tok *oauth2.Token) TokenResult {
	result := tokenResultFrom(tok.Extra)
	if result.AccessToken == "" {
		result.AccessToken = tok.AccessToken
	}
	if result.TokenType == "" {
		result.TokenType = tok.TokenType
	}
	if result.RefreshToken == "" {
		result.RefreshToken = tok.RefreshToken
	}
	if result.ExpiresAt.IsZero() && !tok.Expiry.IsZero() {
		result.ExpiresAt = tok.Expiry
	}
	return result
}

func resultFromError(err error) (TokenResult, *TokenExchangeError) {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return TokenResult{Error: "token_request_failed", ErrorDescription: err.Error()},
			&TokenExchangeError{Err: err}
	}

	var raw map[string]any
	result := TokenResult{}
	if json.Unmarshal(rErr.Body, &raw) == nil {
		result = tokenResultFrom(func(key string) any { return raw[key] })
	}
	if result.Error == "" {
		result.Error = rErr.ErrorCode
	}
	if result.ErrorDescription == "" {
		result.ErrorDescription = rErr.ErrorDescription
	}

	status := 0
	if rErr.Response != nil {
		status = rErr.Response.StatusCode
	}
	if !result.IsError() {
		result.Error = fmt.Sprintf("http_%d", status)
		result.ErrorDescription = stringutil.Truncate(strings.TrimSpace(string(rErr.Body)), 200)
	}

	return result, &TokenExchangeError{
		Code:        result.Error,
		Description: result.ErrorDescription,
		StatusCode:  status,
		Err:         err,
	}
}

// tokenResultFrom reads the response fields through get, which returns the
// raw decoded value for a key (JSON or form-encoded).
func tokenResultFrom(get func(key string) any) TokenResult {
	return TokenResult{
		AccessToken:      stringField(get("access_token")),
		TokenType:        stringField(get("token_type")),
		ExpiresAt:        epochField(get("expires_at")),
		Scope:            stringField(get("scope")),
		IDToken:          stringField(get("id_token")),
		Patient:          stringField(get("patient")),
		State:            stringField(get("state")),
		RefreshToken:     stringField(get("refresh_token")),
		Error:            stringField(get("error")),
		ErrorDescription: stringField(get("error_description")),
	}
}

func stringField(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

// epochField converts seconds since the epoch, as a JSON number or string,
// to a time. Anything else yields the zero time.
func epochField(v any) time.Time {
	var secs int64
	switch n := v.(type) {
	case float64:
		secs = int64(n)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return time.Time{}
		}
		secs = parsed
	default:
		return time.Time{}
	}
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
