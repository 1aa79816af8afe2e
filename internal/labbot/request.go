package labbot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/health-apis/labbot/internal/oauth"
	"github.com/health-apis/labbot/internal/stringutil"
)

const maxResponseSize = 10 << 20

// URLWithAPIPath joins the scheme and host of baseURL with path; the base
// URL's own path is dropped.
func URLWithAPIPath(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base URL %q is not absolute", baseURL)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return u.Scheme + "://" + u.Host + path, nil
}

// ExpandPath substitutes the patient ICN for {icn}.
func ExpandPath(template, patient string) string {
	return strings.ReplaceAll(template, "{icn}", patient)
}

// SendRequest issues one GET for path against the configured base URL with
// accessToken as bearer and returns the body.
func (b *Bot) SendRequest(ctx context.Context, path, accessToken string) (string, error) {
	target, err := URLWithAPIPath(b.cfg.BaseURL, path)
	if err != nil {
		return "", &RequestError{URL: path, Err: err}
	}

	ctx, span := b.tracing.TraceRequest(ctx, target)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", &RequestError{URL: target, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/fhir+json, application/json")

	b.logger.Info("Sending request", zap.String("url", target))
	oauth.LogOAuthRequest(b.logger, req.Method, target, req.Header)
	start := time.Now()

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.tracing.SetSpanError(ctx, err)
		return "", &RequestError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &RequestError{URL: target, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		oauth.LogOAuthResponseError(b.logger, resp.StatusCode, string(body), time.Since(start))
		reqErr := &RequestError{URL: target, Status: resp.StatusCode, Body: stringutil.Truncate(strings.TrimSpace(string(body)), 200)}
		b.tracing.SetSpanError(ctx, reqErr)
		return "", reqErr
	}
	oauth.LogOAuthResponse(b.logger, resp.StatusCode, resp.Header, time.Since(start))
	return string(body), nil
}
