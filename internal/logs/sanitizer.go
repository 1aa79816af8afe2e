package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer is a zapcore.Core that masks credentials before they reach
// the wrapped core: configured secrets registered at startup, plus anything
// shaped like a bearer token, an OAuth parameter or a JWT.
type SecretSanitizer struct {
	zapcore.Core
	rules    []maskRule
	resolved *sync.Map
}

type maskRule struct {
	re   *regexp.Regexp
	mask func(match string) string
}

var defaultRules = []maskRule{
	{
		re: regexp.MustCompile(`\bBearer\s+[A-Za-z0-9\-._~+/]+=*`),
		mask: func(match string) string {
			_, token, _ := strings.Cut(match, " ")
			return "Bearer " + maskValue(strings.TrimSpace(token))
		},
	},
	{
		// code=..., client_secret=... in redirect URLs, token forms and error bodies
		re: regexp.MustCompile(`\b(code|client_secret|access_token|refresh_token|id_token|password)=[^&\s"]+`),
		mask: func(match string) string {
			name, _, _ := strings.Cut(match, "=")
			return name + "=***"
		},
	},
	{
		re: regexp.MustCompile(`"(access_token|refresh_token|id_token|client_secret)"\s*:\s*"[^"]*"`),
		mask: func(match string) string {
			name, _, _ := strings.Cut(match, ":")
			return name + `:"***"`
		},
	},
	{
		re: regexp.MustCompile(`\beyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
		mask: func(match string) string {
			header, _, _ := strings.Cut(match, ".")
			return header + ".***"
		},
	},
}

// NewSecretSanitizer wraps core.
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{
		Core:     core,
		rules:    defaultRules,
		resolved: &sync.Map{},
	}
}

// RegisterResolvedSecret masks value wherever it appears. Values shorter than
// four characters are ignored.
func (s *SecretSanitizer) RegisterResolvedSecret(value string) {
	if len(value) < 4 {
		return
	}
	s.resolved.Store(value, struct{}{})
}

func (s *SecretSanitizer) sanitize(str string) string {
	s.resolved.Range(func(key, _ any) bool {
		secret := key.(string)
		str = strings.ReplaceAll(str, secret, maskValue(secret))
		return true
	})
	for _, rule := range s.rules {
		str = rule.re.ReplaceAllStringFunc(str, rule.mask)
	}
	return str
}

func (s *SecretSanitizer) sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		switch field.Type {
		case zapcore.StringType:
			field.String = s.sanitize(field.String)
		case zapcore.ByteStringType:
			field.Interface = []byte(s.sanitize(string(field.Interface.([]byte))))
		case zapcore.ErrorType:
			if err, ok := field.Interface.(error); ok && err != nil {
				if clean := s.sanitize(err.Error()); clean != err.Error() {
					field = zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: clean}
				}
			}
		case zapcore.StringerType:
			if str, ok := field.Interface.(interface{ String() string }); ok {
				if clean := s.sanitize(str.String()); clean != str.String() {
					field = zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: clean}
				}
			}
		}
		out[i] = field
	}
	return out
}

// Write masks the message and fields, then writes to the wrapped core.
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitize(entry.Message)
	return s.Core.Write(entry, s.sanitizeFields(fields))
}

// With returns a child core sharing the registered secrets.
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	return &SecretSanitizer{
		Core:     s.Core.With(s.sanitizeFields(fields)),
		rules:    s.rules,
		resolved: s.resolved,
	}
}

// Check adds s, not the wrapped core, so Write is always sanitized.
func (s *SecretSanitizer) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return ce.AddCore(entry, s)
	}
	return ce
}

// maskValue keeps the first three and last two characters of long values.
func maskValue(value string) string {
	switch {
	case len(value) <= 5:
		return "****"
	case len(value) <= 8:
		return value[:2] + "****"
	default:
		return value[:3] + "***" + value[len(value)-2:]
	}
}
