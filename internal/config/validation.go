package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ConfigError reports a missing or invalid configuration key. It is raised
// once at load time, never halfway through a batch.
type ConfigError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("configuration property %s: %v", e.Key, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("configuration property %s: %s", e.Key, e.Reason)
	default:
		return fmt.Sprintf("configuration property %s must be specified", e.Key)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Validate checks required keys, enum values and numeric ranges. The first
// problem found is returned.
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{KeyBaseURL, c.BaseURL},
		{KeyClientID, c.ClientID},
		{KeyClientSecret, c.ClientSecret},
		{KeyRedirectURL, c.RedirectURL},
		{KeyState, c.State},
		{KeyAudience, c.Audience},
		{KeyUserPassword, c.UserPassword},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ConfigError{Key: r.key}
		}
	}

	if err := validateAbsoluteURL(KeyBaseURL, c.BaseURL); err != nil {
		return err
	}
	if err := validateAbsoluteURL(KeyRedirectURL, c.RedirectURL); err != nil {
		return err
	}

	switch c.CredentialsMode {
	case CredentialsModeHeader, CredentialsModeRequestBody:
	case "":
		return &ConfigError{Key: KeyCredentialMode}
	default:
		return &ConfigError{Key: KeyCredentialMode, Reason: fmt.Sprintf("unknown credentials mode %q (want HEADER or REQUEST_BODY)", c.CredentialsMode)}
	}

	switch c.CredentialsType {
	case CredentialsTypeIDMe, CredentialsTypeMyHealtheVet:
	case "":
		return &ConfigError{Key: KeyCredentialType}
	default:
		return &ConfigError{Key: KeyCredentialType, Reason: fmt.Sprintf("unknown credentials type %q (want ID_ME or MY_HEALTHE_VET)", c.CredentialsType)}
	}

	if c.PoolSize <= 0 {
		return &ConfigError{Key: KeyPoolSize, Reason: "must be greater than 0"}
	}

	durations := []struct {
		key   string
		value int64
	}{
		{KeyBatchTimeout, int64(c.BatchTimeout)},
		{KeyWaitTimeout, int64(c.WaitTimeout)},
		{KeyPageLoadTimeout, int64(c.PageLoadTimeout)},
		{KeyTwoFactorTimeout, int64(c.TwoFactorTimeout)},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return &ConfigError{Key: d.key, Reason: "must be a positive duration"}
		}
	}

	if c.LaunchRate < 0 {
		return &ConfigError{Key: KeyLaunchRate, Reason: "must not be negative"}
	}

	return nil
}

func validateAbsoluteURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigError{Key: key, Err: err}
	}
	if u.Scheme == "" || u.Host == "" {
		return &ConfigError{Key: key, Reason: fmt.Sprintf("%q is not an absolute URL", raw)}
	}
	return nil
}
