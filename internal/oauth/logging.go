package oauth

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const redacted = "***REDACTED***"

// Headers never logged verbatim.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
}

var (
	// Query and form parameters carrying codes, tokens or credentials. The
	// leading separator leaves response_type=code alone.
	paramPattern  = regexp.MustCompile(`(?i)([?&\s]|^)(code|client_secret|access_token|refresh_token|id_token|password|token)=[^&\s]+`)
	bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)[a-z0-9\-_.~+/]+=*`)
	// "password: x", "secret=x" and similar in free-form provider messages.
	assignPattern = regexp.MustCompile(`(?i)(secret|password|token)["']?\s*[:=]\s*["']?[a-z0-9\-_.]+`)
)

// RedactURL replaces the values of sensitive query parameters.
func RedactURL(urlStr string) string {
	if urlStr == "" {
		return urlStr
	}
	return paramPattern.ReplaceAllString(urlStr, "${1}${2}="+redacted)
}

// RedactSensitiveData redacts bearer tokens, credential assignments and
// sensitive parameters from free text such as error bodies.
func RedactSensitiveData(data string) string {
	if data == "" {
		return data
	}
	data = bearerPattern.ReplaceAllString(data, "${1}"+redacted)
	data = assignPattern.ReplaceAllStringFunc(data, func(match string) string {
		if i := strings.IndexAny(match, ":="); i >= 0 {
			return match[:i+1] + redacted
		}
		return redacted
	})
	return RedactURL(data)
}

// RedactHeaders flattens headers for logging with credentials removed.
func RedactHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		if sensitiveHeaders[strings.ToLower(key)] {
			out[key] = redacted
			continue
		}
		out[key] = RedactSensitiveData(strings.Join(values, ", "))
	}
	return out
}

// LogOAuthRequest logs an outgoing request at debug level.
func LogOAuthRequest(logger *zap.Logger, method, url string, headers http.Header) {
	logger.Debug("OAuth HTTP request",
		zap.String("method", method),
		zap.String("url", RedactURL(url)),
		zap.Any("headers", RedactHeaders(headers)))
}

// LogOAuthResponse logs a successful response at debug level.
func LogOAuthResponse(logger *zap.Logger, statusCode int, headers http.Header, duration time.Duration) {
	logger.Debug("OAuth HTTP response",
		zap.Int("status_code", statusCode),
		zap.String("status", http.StatusText(statusCode)),
		zap.Any("headers", RedactHeaders(headers)),
		zap.Duration("duration", duration))
}

// LogOAuthResponseError logs a non-2xx response.
func LogOAuthResponseError(logger *zap.Logger, statusCode int, body string, duration time.Duration) {
	logger.Warn("OAuth HTTP response error",
		zap.Int("status_code", statusCode),
		zap.String("status", http.StatusText(statusCode)),
		zap.String("error", RedactSensitiveData(body)),
		zap.Duration("duration", duration))
}

// LogTokenMetadata logs what a token response granted, never the token
// values themselves. Error responses are logged at warn level.
func LogTokenMetadata(logger *zap.Logger, token TokenResult) {
	fields := []zap.Field{
		zap.String("token_type", token.TokenType),
		zap.String("scope", token.Scope),
		zap.String("patient", token.Patient),
		zap.Bool("has_refresh_token", token.RefreshToken != ""),
		zap.Bool("has_id_token", token.IDToken != ""),
	}
	if token.IDToken != "" {
		if claims, err := ParseIDToken(token.IDToken); err == nil {
			fields = append(fields,
				zap.String("id_token_sub", claims.Subject),
				zap.String("fhir_user", claims.FHIRUser))
		} else {
			fields = append(fields, zap.String("id_token_error", err.Error()))
		}
	}
	if !token.ExpiresAt.IsZero() {
		fields = append(fields,
			zap.Time("expires_at", token.ExpiresAt),
			zap.Duration("expires_in", time.Until(token.ExpiresAt).Round(time.Second)))
	}
	if token.IsError() {
		logger.Warn("OAuth token response carries an error", append(fields,
			zap.String("error", token.Error),
			zap.String("error_description", RedactSensitiveData(token.ErrorDescription)))...)
		return
	}
	logger.Info("OAuth token metadata", fields...)
}
