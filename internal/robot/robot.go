// Package robot drives a browser through an identity provider's login,
// two-factor and consent pages to obtain an authorization code, and swaps
// that code for a token.
package robot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/health-apis/labbot/internal/browser"
	"github.com/health-apis/labbot/internal/config"
	"github.com/health-apis/labbot/internal/oauth"
	"github.com/health-apis/labbot/internal/reqcontext"
)

const (
	DefaultPollInterval = 100 * time.Millisecond

	badCredentialsSelector = "#new_user > div.form-container.shared_structure > p.alert.alert-error"
)

// Identity is one lab user account.
type Identity struct {
	ID       string `json:"id" yaml:"id"`
	Password string `json:"-" yaml:"-"`
}

// SessionConfig is everything one login needs.
type SessionConfig struct {
	Identity        Identity
	Authorization   oauth.AuthorizationRequest
	TokenURL        string
	Variant         config.CredentialsType
	CredentialsMode config.CredentialsMode
	SkipTwoFactor   bool
	Headless        bool
	ChromeDriver    string

	WaitTimeout      time.Duration
	PageLoadTimeout  time.Duration
	TwoFactorTimeout time.Duration
	PollInterval     time.Duration
}

// TokenExchanger swaps an authorization code for a token.
type TokenExchanger interface {
	Exchange(ctx context.Context, tokenURL, code string, auth oauth.AuthorizationRequest, mode config.CredentialsMode) (oauth.TokenResult, error)
}

// Option configures a Robot.
type Option func(*Robot)

// WithCodeSource sets where manual two-factor codes come from.
func WithCodeSource(cs CodeSource) Option {
	return func(r *Robot) { r.codes = cs }
}

// WithLogger sets the robot's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Robot) { r.logger = logger }
}

// WithDriver overrides the login driver chosen from the credentials type.
func WithDriver(d LoginDriver) Option {
	return func(r *Robot) { r.driver = d }
}

// Robot logs one identity in. Code and Token are memoised: once a call
// succeeds later calls return the same value without touching the browser
// or the token endpoint again.
type Robot struct {
	cfg       SessionConfig
	launcher  browser.Launcher
	exchanger TokenExchanger
	driver    LoginDriver
	codes     CodeSource
	logger    *zap.Logger

	mu    sync.Mutex
	state State
	code  string
	token *oauth.TokenResult
}

// New returns a robot for cfg.
func New(cfg SessionConfig, launcher browser.Launcher, exchanger TokenExchanger, opts ...Option) (*Robot, error) {
	if launcher == nil {
		return nil, errors.New("robot: browser launcher is required")
	}
	if exchanger == nil {
		return nil, errors.New("robot: token exchanger is required")
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = config.DefaultWaitTimeout
	}
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = config.DefaultPageLoadTimeout
	}
	if cfg.TwoFactorTimeout <= 0 {
		cfg.TwoFactorTimeout = config.DefaultTwoFactorTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	r := &Robot{cfg: cfg, launcher: launcher, exchanger: exchanger}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.With(zap.String("identity", cfg.Identity.ID))

	if r.driver == nil {
		d, err := DriverFor(cfg.Variant, r.logger)
		if err != nil {
			return nil, err
		}
		r.driver = d
	}
	return r, nil
}

// State returns the furthest state the last login reached.
func (r *Robot) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Code returns the authorization code, logging in if necessary.
func (r *Robot) Code(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codeLocked(ctx)
}

// Token returns the token for the authorization code, logging in if
// necessary. A provider error comes back as a populated result together
// with a *oauth.TokenExchangeError; that result is not memoised.
func (r *Robot) Token(ctx context.Context) (oauth.TokenResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != nil {
		return *r.token, nil
	}
	code, err := r.codeLocked(ctx)
	if err != nil {
		return oauth.TokenResult{}, err
	}

	ctx, leave := reqcontext.Enter(ctx, r.logger, "robot.token")
	result, err := r.exchanger.Exchange(ctx, r.cfg.TokenURL, code, r.cfg.Authorization, r.cfg.CredentialsMode)
	leave(err)
	if err != nil {
		return result, err
	}
	r.token = &result
	return result, nil
}

func (r *Robot) codeLocked(ctx context.Context) (string, error) {
	if r.code != "" {
		return r.code, nil
	}

	ctx, leave := reqcontext.Enter(ctx, r.logger, "robot.code")
	code, err := r.login(ctx)
	leave(err)
	if err != nil {
		r.logger.Error("Failed to acquire authorization code", zap.Error(err))
		return "", err
	}
	r.code = code
	r.logger.Info("Acquired authorization code")
	return code, nil
}

func (r *Robot) login(ctx context.Context) (string, error) {
	r.state = StateStart

	authURL, err := r.cfg.Authorization.URL()
	if err != nil {
		return "", r.fail(err, "cannot build authorization URL")
	}

	b, err := r.launcher.Launch(ctx, browser.Options{
		Headless:        r.cfg.Headless,
		ExecPath:        r.cfg.ChromeDriver,
		ElementTimeout:  r.cfg.WaitTimeout,
		PageLoadTimeout: r.cfg.PageLoadTimeout,
	})
	if err != nil {
		return "", r.fail(err, "cannot start browser")
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			r.logger.Debug("Failed to close browser", zap.Error(cerr))
		}
	}()

	url, err := b.CurrentURL(ctx)
	if err != nil {
		return "", r.fail(err, "cannot read browser URL")
	}

	err = r.step(ctx, "enter-credentials", StateCredentialsEntered, func(ctx context.Context) error {
		r.logger.Info("Loading authorization URL", zap.String("url", oauth.RedactURL(authURL)))
		if err := b.Navigate(ctx, authURL); err != nil {
			return err
		}
		if err := r.waitForPageLoad(ctx, b); err != nil {
			return err
		}
		return r.driver.Login(ctx, b, r.cfg.Identity)
	})
	if err != nil {
		return "", err
	}

	err = r.step(ctx, "check-credentials", StateCredentialsChecked, func(ctx context.Context) error {
		if err := r.checkForBadCredentials(ctx, b); err != nil {
			return err
		}
		url, err = r.waitForURLChange(ctx, b, url)
		return err
	})
	if err != nil {
		return "", err
	}

	err = r.step(ctx, "two-factor", StateTwoFactorCleared, func(ctx context.Context) error {
		if r.cfg.SkipTwoFactor {
			if err := r.clickThroughFakeTwoFactor(ctx, b); err != nil {
				return err
			}
		} else if err := r.enterTwoFactorCode(ctx, b); err != nil {
			return err
		}
		url, err = r.waitForURLChange(ctx, b, url)
		return err
	})
	if err != nil {
		return "", err
	}

	// There may be two consent forms in a row.
	err = r.step(ctx, "consent", StateConsentCleared, func(ctx context.Context) error {
		for range 2 {
			if err := r.checkForConsentForm(ctx, b); err != nil {
				return err
			}
		}
		return r.checkForMatchingError(ctx, b)
	})
	if err != nil {
		return "", err
	}

	var code string
	err = r.step(ctx, "extract-code", StateCodeExtracted, func(ctx context.Context) error {
		code, err = r.extractCode(ctx, b)
		return err
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// step runs fn as a logged sub-step and advances to next when it succeeds.
func (r *Robot) step(ctx context.Context, name string, next State, fn func(context.Context) error) error {
	ctx, leave := reqcontext.Enter(ctx, r.logger, name)
	err := fn(ctx)
	leave(err)
	if err != nil {
		return r.fail(err, name+" failed")
	}
	r.state = next
	return nil
}

// fail records the failure and returns it as a *LoginError stamped with the
// state reached so far.
func (r *Robot) fail(err error, reason string) error {
	reached := r.state
	r.state = StateFailed

	var loginErr *LoginError
	if errors.As(err, &loginErr) {
		loginErr.Identity = r.cfg.Identity.ID
		loginErr.State = reached
		return loginErr
	}
	return &LoginError{Identity: r.cfg.Identity.ID, State: reached, Reason: reason, Err: err}
}

func (r *Robot) checkForBadCredentials(ctx context.Context, b browser.Browser) error {
	found, err := r.present(ctx, b, badCredentialsSelector)
	if err != nil || !found {
		return err
	}
	text, err := b.Text(ctx, badCredentialsSelector)
	if err != nil {
		return err
	}
	r.logger.Error("Failed to log in", zap.String("message", text))
	return &LoginError{Reason: text}
}

func (r *Robot) clickThroughFakeTwoFactor(ctx context.Context, b browser.Browser) error {
	r.logger.Info("Clicking through two-factor sham")
	url, err := b.CurrentURL(ctx)
	if err != nil {
		return err
	}
	// Send-code form, then enter-code form.
	for range 2 {
		if err := b.Click(ctx, ".btn-primary"); err != nil {
			return err
		}
		if url, err = r.waitForURLChange(ctx, b, url); err != nil {
			return err
		}
	}
	return nil
}

func (r *Robot) enterTwoFactorCode(ctx context.Context, b browser.Browser) error {
	r.logger.Info("Clicking through two-factor authentication")
	if r.codes == nil {
		return &LoginError{Reason: "two-factor code required but no code source is configured"}
	}

	url, err := b.CurrentURL(ctx)
	if err != nil {
		return err
	}

	phone, err := b.Exists(ctx, "#sr_name_phone")
	if err != nil {
		return err
	}
	if phone {
		if err := b.Click(ctx, "#sr_name_phone"); err != nil {
			return err
		}
		r.logger.Info("Defaulting to phone two-factor path")
	}

	// Accounts with only an authenticator app have no send-code step.
	if next, err := r.sendTwoFactorCode(ctx, b, url); err == nil {
		url = next
		r.logger.Info("Selecting phone two-factor path")
	} else {
		r.logger.Info("Selecting code generator app two-factor path", zap.Error(err))
	}

	codeCtx, cancel := context.WithTimeout(ctx, r.cfg.TwoFactorTimeout)
	defer cancel()
	code, err := r.codes.TwoFactorCode(codeCtx, r.cfg.Identity.ID)
	if err != nil {
		return fmt.Errorf("two-factor code: %w", err)
	}

	if err := b.SendKeys(ctx, "#multifactor_code", code); err != nil {
		return err
	}
	if err := b.Click(ctx, `[name="button"]`); err != nil {
		return err
	}
	_, err = r.waitForURLChange(ctx, b, url)
	return err
}

func (r *Robot) sendTwoFactorCode(ctx context.Context, b browser.Browser, url string) (string, error) {
	if err := b.Click(ctx, ".btn-primary"); err != nil {
		return "", err
	}
	return r.waitForURLChange(ctx, b, url)
}

func (r *Robot) checkForConsentForm(ctx context.Context, b browser.Browser) error {
	url, err := b.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if strings.HasPrefix(url, r.cfg.Authorization.RedirectURL) {
		return nil
	}
	if err := r.waitForPageLoad(ctx, b); err != nil {
		return err
	}

	// Two consent form layouts exist.
	for _, form := range []struct{ marker, accept string }{
		{".consent-title", ".button-primary"},
		{"#sr_page_title", ".btn-primary"},
	} {
		found, err := r.present(ctx, b, form.marker)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		r.logger.Info("Granting consent to access data")
		if err := b.Click(ctx, form.accept); err != nil {
			return err
		}
		if _, err := r.waitForURLChange(ctx, b, url); err != nil {
			return err
		}
		break
	}

	if err := r.waitForPageLoad(ctx, b); err != nil {
		return err
	}
	found, err := r.present(ctx, b, "#error-code")
	if err != nil || !found {
		return err
	}
	text, err := b.Text(ctx, "#error-code")
	if err != nil {
		return err
	}
	return &LoginError{Reason: "Failed grant access: " + text}
}

func (r *Robot) checkForMatchingError(ctx context.Context, b browser.Browser) error {
	found, err := r.present(ctx, b, ".usa-alert-error")
	if err != nil || !found {
		return err
	}
	text, err := b.Text(ctx, ".usa-alert-heading")
	if err != nil {
		return err
	}
	return &LoginError{Reason: "Matching error: " + text}
}

func (r *Robot) extractCode(ctx context.Context, b browser.Browser) (string, error) {
	redirect := r.cfg.Authorization.RedirectURL
	url, err := r.poll(ctx, b, r.cfg.WaitTimeout, func(u string) bool { return strings.Contains(u, redirect) })
	if err != nil {
		return "", &LoginError{Reason: "Cannot find code in url " + oauth.RedactURL(url), Err: err}
	}
	r.logger.Info("Redirected", zap.String("url", oauth.RedactURL(url)))

	code, err := oauth.CodeFromRedirect(url)
	if err != nil {
		return "", &LoginError{Reason: "Cannot find code in url " + oauth.RedactURL(url), Err: err}
	}
	return code, nil
}

// present waits up to WaitTimeout for selector to match.
func (r *Robot) present(ctx context.Context, b browser.Browser, selector string) (bool, error) {
	deadline := time.Now().Add(r.cfg.WaitTimeout)
	for {
		found, err := b.Exists(ctx, selector)
		if err != nil || found {
			return found, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		if err := sleep(ctx, r.cfg.PollInterval); err != nil {
			return false, err
		}
	}
}

// waitForURLChange waits up to WaitTimeout for the URL to differ from url
// and returns the new URL.
func (r *Robot) waitForURLChange(ctx context.Context, b browser.Browser, url string) (string, error) {
	return r.poll(ctx, b, r.cfg.WaitTimeout, func(u string) bool { return u != url })
}

// poll checks the current URL against cond every PollInterval until it
// holds or timeout passes. The last URL seen is always returned.
func (r *Robot) poll(ctx context.Context, b browser.Browser, timeout time.Duration, cond func(string) bool) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		current, err := b.CurrentURL(ctx)
		if err != nil {
			return current, err
		}
		if cond(current) {
			return current, nil
		}
		if time.Now().After(deadline) {
			return current, fmt.Errorf("timed out after %s waiting on page %s", timeout, oauth.RedactURL(current))
		}
		if err := sleep(ctx, r.cfg.PollInterval); err != nil {
			return current, err
		}
	}
}

func (r *Robot) waitForPageLoad(ctx context.Context, b browser.Browser) error {
	deadline := time.Now().Add(r.cfg.PageLoadTimeout)
	for {
		state, err := b.ReadyState(ctx)
		if err != nil {
			return err
		}
		if state == "complete" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("page did not finish loading within %s (readyState %q)", r.cfg.PageLoadTimeout, state)
		}
		if err := sleep(ctx, r.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
