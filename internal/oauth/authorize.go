package oauth

import (
	"fmt"
	"net/url"
	"strings"
)

// AuthorizationRequest holds everything needed to build the authorization
// URL and later exchange the resulting code.
type AuthorizationRequest struct {
	AuthorizeURL string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	State        string
	Audience     string
	Scopes       []string
}

// WithScopes returns a copy of a with scopes appended. Duplicates are
// dropped, first occurrence wins.
func (a AuthorizationRequest) WithScopes(scopes ...string) AuthorizationRequest {
	seen := make(map[string]bool, len(a.Scopes)+len(scopes))
	merged := make([]string, 0, len(a.Scopes)+len(scopes))
	for _, s := range append(append([]string(nil), a.Scopes...), scopes...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		merged = append(merged, s)
	}
	a.Scopes = merged
	return a
}

// URL renders the authorization URL with parameters in a fixed order:
// client_id, response_type=code, redirect_uri, state, aud, scope.
// The scope value is the space-joined scope list. All values are
// percent-encoded.
func (a AuthorizationRequest) URL() (string, error) {
	if a.AuthorizeURL == "" {
		return "", fmt.Errorf("authorize URL is empty")
	}
	if _, err := url.Parse(a.AuthorizeURL); err != nil {
		return "", fmt.Errorf("invalid authorize URL: %w", err)
	}

	params := []struct{ name, value string }{
		{"client_id", a.ClientID},
		{"response_type", "code"},
		{"redirect_uri", a.RedirectURL},
		{"state", a.State},
		{"aud", a.Audience},
		{"scope", strings.Join(a.WithScopes().Scopes, " ")},
	}

	var b strings.Builder
	b.WriteString(a.AuthorizeURL)
	if strings.Contains(a.AuthorizeURL, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.name)
		b.WriteByte('=')
		b.WriteString(escape(p.value))
	}
	return b.String(), nil
}

// escape percent-encodes a query value, spaces as %20.
func escape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// CodeFromRedirect extracts the authorization code from the URL the identity
// provider redirected to.
func CodeFromRedirect(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", ErrNoCode
	}
	return code, nil
}
