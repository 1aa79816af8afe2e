package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	EnvPrefix         = "LABBOT"
	DefaultConfigFile = "lab.properties"
)

// SecretExpander replaces ${type:name} references inside a configuration value.
type SecretExpander interface {
	ExpandSecretRefs(ctx context.Context, input string) (string, error)
}

// Load reads the properties file at path (a missing file means environment
// only), applies LABBOT_* environment overrides, expands secret references and
// validates the result.
func Load(ctx context.Context, path string, expander SecretExpander) (*Config, error) {
	v := viper.New()
	setupViper(v)

	source, err := readConfigFile(v, path)
	if err != nil {
		return nil, err
	}

	cfg := fromViper(v)
	cfg.SourceFile = source

	if expander != nil {
		if err := expandSecrets(ctx, cfg, expander); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupViper(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	// va-oauth-robot.base-url => LABBOT_VA_OAUTH_ROBOT_BASE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault(KeyCredentialMode, string(CredentialsModeHeader))
	v.SetDefault(KeyCredentialType, string(CredentialsTypeIDMe))
	v.SetDefault(KeySkipTwoFactor, true)
	v.SetDefault(KeyHeadless, true)

	v.SetDefault(KeyPoolSize, DefaultPoolSize)
	v.SetDefault(KeyBatchTimeout, DefaultBatchTimeout)
	v.SetDefault(KeyWaitTimeout, DefaultWaitTimeout)
	v.SetDefault(KeyPageLoadTimeout, DefaultPageLoadTimeout)
	v.SetDefault(KeyTwoFactorTimeout, DefaultTwoFactorTimeout)
	v.SetDefault(KeyLaunchRate, 0)

	defaults := DefaultLogConfig()
	v.SetDefault("logging.level", defaults.Level)
	v.SetDefault("logging.enable-file", defaults.EnableFile)
	v.SetDefault("logging.enable-console", defaults.EnableConsole)
	v.SetDefault("logging.filename", defaults.Filename)
	v.SetDefault("logging.log-dir", "")
	v.SetDefault("logging.max-size", defaults.MaxSize)
	v.SetDefault("logging.max-backups", defaults.MaxBackups)
	v.SetDefault("logging.max-age", defaults.MaxAge)
	v.SetDefault("logging.compress", defaults.Compress)
	v.SetDefault("logging.json-format", defaults.JSONFormat)
}

func readConfigFile(v *viper.Viper, path string) (string, error) {
	if path == "" {
		return "", nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("properties")
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		BaseURL:         strings.TrimSpace(v.GetString(KeyBaseURL)),
		ClientID:        strings.TrimSpace(v.GetString(KeyClientID)),
		ClientSecret:    strings.TrimSpace(v.GetString(KeyClientSecret)),
		RedirectURL:     strings.TrimSpace(v.GetString(KeyRedirectURL)),
		State:           strings.TrimSpace(v.GetString(KeyState)),
		Audience:        strings.TrimSpace(v.GetString(KeyAudience)),
		UserPassword:    v.GetString(KeyUserPassword),
		CredentialsMode: CredentialsMode(strings.ToUpper(strings.TrimSpace(v.GetString(KeyCredentialMode)))),
		CredentialsType: CredentialsType(strings.ToUpper(strings.TrimSpace(v.GetString(KeyCredentialType)))),
		SkipTwoFactor:   v.GetBool(KeySkipTwoFactor),

		ChromeDriver: strings.TrimSpace(v.GetString(KeyChromeDriver)),
		Headless:     v.GetBool(KeyHeadless),

		PoolSize:         v.GetInt(KeyPoolSize),
		BatchTimeout:     v.GetDuration(KeyBatchTimeout),
		WaitTimeout:      v.GetDuration(KeyWaitTimeout),
		PageLoadTimeout:  v.GetDuration(KeyPageLoadTimeout),
		TwoFactorTimeout: v.GetDuration(KeyTwoFactorTimeout),
		LaunchRate:       v.GetFloat64(KeyLaunchRate),
		TOTPSecret:       strings.TrimSpace(v.GetString(KeyTOTPSecret)),
		InsecureTLS:      v.GetBool(KeyInsecureTLS),

		HistoryDir:   strings.TrimSpace(v.GetString(KeyHistoryDir)),
		MetricsFile:  strings.TrimSpace(v.GetString(KeyMetricsFile)),
		OTLPEndpoint: strings.TrimSpace(v.GetString(KeyOTLPEndpoint)),

		Logging: &LogConfig{
			Level:         v.GetString("logging.level"),
			EnableFile:    v.GetBool("logging.enable-file"),
			EnableConsole: v.GetBool("logging.enable-console"),
			Filename:      v.GetString("logging.filename"),
			LogDir:        v.GetString("logging.log-dir"),
			MaxSize:       v.GetInt("logging.max-size"),
			MaxBackups:    v.GetInt("logging.max-backups"),
			MaxAge:        v.GetInt("logging.max-age"),
			Compress:      v.GetBool("logging.compress"),
			JSONFormat:    v.GetBool("logging.json-format"),
		},
	}
}

func expandSecrets(ctx context.Context, cfg *Config, expander SecretExpander) error {
	fields := []struct {
		key   string
		value *string
	}{
		{KeyClientID, &cfg.ClientID},
		{KeyClientSecret, &cfg.ClientSecret},
		{KeyUserPassword, &cfg.UserPassword},
		{KeyTOTPSecret, &cfg.TOTPSecret},
	}

	for _, f := range fields {
		if *f.value == "" {
			continue
		}
		expanded, err := expander.ExpandSecretRefs(ctx, *f.value)
		if err != nil {
			return &ConfigError{Key: f.key, Err: err}
		}
		*f.value = expanded
	}
	return nil
}

// ResolveHistoryDir returns the run history directory, defaulting to
// ~/.labbot when none is configured.
func (c *Config) ResolveHistoryDir() (string, error) {
	if c.HistoryDir != "" {
		return c.HistoryDir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultHistoryDir), nil
}
