package config

import (
	"time"
)

// Property keys. The va-oauth-robot and webdriver names are kept so existing
// lab property files keep working.
const (
	KeyBaseURL        = "va-oauth-robot.base-url"
	KeyClientID       = "va-oauth-robot.client-id"
	KeyClientSecret   = "va-oauth-robot.client-secret"
	KeyRedirectURL    = "va-oauth-robot.redirect-url"
	KeyState          = "va-oauth-robot.state"
	KeyAudience       = "va-oauth-robot.aud"
	KeyUserPassword   = "va-oauth-robot.user-password"
	KeyCredentialMode = "va-oauth-robot.credentials-mode"
	KeyCredentialType = "va-oauth-robot.credentials-type"
	KeySkipTwoFactor  = "va-oauth-robot.skip-two-factor-authentication"
	KeyChromeDriver   = "webdriver.chrome.driver"
	KeyHeadless       = "webdriver.chrome.headless"

	KeyPoolSize         = "labbot.pool-size"
	KeyBatchTimeout     = "labbot.batch-timeout"
	KeyWaitTimeout      = "labbot.wait-timeout"
	KeyPageLoadTimeout  = "labbot.page-load-timeout"
	KeyTwoFactorTimeout = "labbot.two-factor-timeout"
	KeyLaunchRate       = "labbot.launch-rate"
	KeyTOTPSecret       = "labbot.two-factor-totp-secret"
	KeyInsecureTLS      = "labbot.insecure-tls"
	KeyHistoryDir       = "labbot.history-dir"
	KeyMetricsFile      = "labbot.metrics-file"
	KeyOTLPEndpoint     = "labbot.otlp-endpoint"
)

const (
	DefaultPoolSize         = 10
	DefaultBatchTimeout     = 10 * time.Minute
	DefaultWaitTimeout      = time.Second
	DefaultPageLoadTimeout  = 30 * time.Second
	DefaultTwoFactorTimeout = 5 * time.Minute
	DefaultHistoryDir       = ".labbot"
)

// CredentialsMode selects how the client authenticates at the token endpoint.
// HEADER sends HTTP Basic with the client id and secret form-encoded first
// (RFC 6749 section 2.3.1), so a secret containing '+', '/' or '=' reaches the
// server escaped. REQUEST_BODY sends both as form fields.
type CredentialsMode string

const (
	CredentialsModeHeader      CredentialsMode = "HEADER"
	CredentialsModeRequestBody CredentialsMode = "REQUEST_BODY"
)

// CredentialsType selects the identity provider login page variant.
type CredentialsType string

const (
	CredentialsTypeIDMe         CredentialsType = "ID_ME"
	CredentialsTypeMyHealtheVet CredentialsType = "MY_HEALTHE_VET"
)

// Config is the immutable run configuration. It is built once by Load and
// passed to every component; nothing reads properties after that.
type Config struct {
	// SourceFile is the properties file the values were read from, empty when
	// only the environment was used.
	SourceFile string `json:"source_file,omitempty"`

	BaseURL         string          `json:"base_url" mapstructure:"base-url"`
	ClientID        string          `json:"client_id" mapstructure:"client-id"`
	ClientSecret    string          `json:"-" mapstructure:"client-secret"`
	RedirectURL     string          `json:"redirect_url" mapstructure:"redirect-url"`
	State           string          `json:"state" mapstructure:"state"`
	Audience        string          `json:"aud" mapstructure:"aud"`
	UserPassword    string          `json:"-" mapstructure:"user-password"`
	CredentialsMode CredentialsMode `json:"credentials_mode" mapstructure:"credentials-mode"`
	CredentialsType CredentialsType `json:"credentials_type" mapstructure:"credentials-type"`
	SkipTwoFactor   bool            `json:"skip_two_factor" mapstructure:"skip-two-factor-authentication"`

	ChromeDriver string `json:"chrome_driver,omitempty"`
	Headless     bool   `json:"headless"`

	PoolSize         int           `json:"pool_size"`
	BatchTimeout     time.Duration `json:"batch_timeout"`
	WaitTimeout      time.Duration `json:"wait_timeout"`
	PageLoadTimeout  time.Duration `json:"page_load_timeout"`
	TwoFactorTimeout time.Duration `json:"two_factor_timeout"`
	LaunchRate       float64       `json:"launch_rate"` // browser launches per second, 0 = unlimited
	TOTPSecret       string        `json:"-"`
	InsecureTLS      bool          `json:"insecure_tls"`

	HistoryDir   string `json:"history_dir,omitempty"`
	MetricsFile  string `json:"metrics_file,omitempty"`
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`

	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// DefaultLogConfig returns console-only info logging with file rotation
// settings ready for when file output is switched on.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:         "info",
		EnableFile:    false,
		EnableConsole: true,
		Filename:      "labbot.log",
		MaxSize:       10, // 10MB
		MaxBackups:    5,  // 5 backup files
		MaxAge:        30, // 30 days
		Compress:      true,
		JSONFormat:    false,
	}
}

// Secrets returns the resolved secret values that must never reach a log.
func (c *Config) Secrets() []string {
	var out []string
	for _, s := range []string{c.ClientSecret, c.UserPassword, c.TOTPSecret} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// UseTOTP reports whether two-factor codes are generated rather than typed
// in by an operator.
func (c *Config) UseTOTP() bool {
	return c.TOTPSecret != ""
}
