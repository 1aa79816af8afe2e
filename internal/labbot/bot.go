// Package labbot logs a set of lab users in through the SMART-on-FHIR
// authorization-code flow, concurrently, and optionally makes one FHIR
// request per user with the token obtained.
package labbot

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/health-apis/labbot/internal/browser"
	"github.com/health-apis/labbot/internal/config"
	"github.com/health-apis/labbot/internal/observability"
	"github.com/health-apis/labbot/internal/oauth"
	"github.com/health-apis/labbot/internal/prompt"
	"github.com/health-apis/labbot/internal/reqcontext"
	"github.com/health-apis/labbot/internal/robot"
)

// DefaultScopes are requested when none are given.
var DefaultScopes = []string{
	"launch/patient",
	"patient/Patient.read",
	"openid",
	"profile",
	"offline_access",
}

// Bot runs login batches for one configuration.
type Bot struct {
	cfg    *config.Config
	scopes []string

	launcher     browser.Launcher
	exchanger    robot.TokenExchanger
	codes        robot.CodeSource
	discoverer   oauth.EndpointDiscoverer
	discovery    *oauth.DiscoveryCache
	httpClient   *http.Client
	limiter      *rate.Limiter
	pollInterval time.Duration
	grace        time.Duration

	metrics *observability.MetricsManager
	tracing *observability.TracingManager
	logger  *zap.Logger
}

// Option configures a Bot.
type Option func(*Bot)

// WithLauncher sets the browser launcher.
func WithLauncher(l browser.Launcher) Option {
	return func(b *Bot) { b.launcher = l }
}

// WithExchanger sets the token exchanger.
func WithExchanger(e robot.TokenExchanger) Option {
	return func(b *Bot) { b.exchanger = e }
}

// WithCodeSource sets where two-factor codes come from.
func WithCodeSource(cs robot.CodeSource) Option {
	return func(b *Bot) { b.codes = cs }
}

// WithDiscoverer sets the capability document discoverer.
func WithDiscoverer(d oauth.EndpointDiscoverer) Option {
	return func(b *Bot) { b.discoverer = d }
}

// WithHTTPClient sets the client used for discovery, token exchange and
// follow-up requests.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bot) { b.httpClient = c }
}

// WithMetrics records batch metrics.
func WithMetrics(m *observability.MetricsManager) Option {
	return func(b *Bot) { b.metrics = m }
}

// WithTracing records session spans.
func WithTracing(t *observability.TracingManager) Option {
	return func(b *Bot) { b.tracing = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// WithPollInterval sets how often browser waits re-check the page.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bot) { b.pollInterval = d }
}

// WithAbandonGrace sets how long a timed-out batch waits for its cancelled
// sessions to close their browsers before returning.
func WithAbandonGrace(d time.Duration) Option {
	return func(b *Bot) { b.grace = d }
}

// New validates cfg and returns a Bot requesting scopes.
func New(cfg *config.Config, scopes []string, opts ...Option) (*Bot, error) {
	if cfg == nil {
		return nil, errors.New("labbot: configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	b := &Bot{
		cfg:    cfg,
		scopes: append([]string(nil), scopes...),
		grace:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.logger == nil {
		b.logger = zap.L().Named("labbot")
	}
	if b.httpClient == nil {
		b.httpClient = newHTTPClient(cfg.InsecureTLS)
	}
	if b.launcher == nil {
		b.launcher = browser.NewChromeLauncher(b.logger.Named("browser"))
	}
	if b.exchanger == nil {
		b.exchanger = oauth.NewTokenExchangeClient(b.httpClient, b.logger.Named("oauth"))
	}
	if b.codes == nil {
		switch {
		case cfg.UseTOTP():
			b.codes = robot.NewTOTPCodeSource(cfg.TOTPSecret)
		case !cfg.SkipTwoFactor:
			b.codes = robot.NewPromptCodeSource(prompt.NewConsolePrompter())
		}
	}
	if b.discoverer == nil {
		b.discoverer = oauth.NewDiscoverer(b.httpClient, b.logger.Named("discovery"))
	}
	b.discovery = oauth.NewDiscoveryCache(b.discoverer)
	if cfg.LaunchRate > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.LaunchRate), 1)
		b.launcher = &pacedLauncher{Launcher: b.launcher, limiter: b.limiter}
	}

	return b, nil
}

func newHTTPClient(insecure bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // lab servers use self-signed certificates
	}
	return &http.Client{Timeout: 30 * time.Second, Transport: transport}
}

// Config returns the bot's configuration.
func (b *Bot) Config() *config.Config {
	return b.cfg
}

// Endpoints returns the SMART endpoints of the configured base URL,
// discovering them on first use.
func (b *Bot) Endpoints(ctx context.Context) (oauth.EndpointSet, error) {
	endpoints, err := b.discovery.Endpoints(ctx, b.cfg.BaseURL)
	b.metrics.RecordDiscovery(err)
	return endpoints, err
}

// Tokens logs every identity in and exchanges its code for a token. A
// discovery failure aborts before any session starts. Results are in
// completion order.
func (b *Bot) Tokens(ctx context.Context, ids []Identity) ([]SessionResult, error) {
	return b.run(ctx, "tokens", ids, "")
}

// Request is Tokens followed, for each identity that got a token, by one GET
// of pathTemplate with {icn} replaced by the token's patient.
func (b *Bot) Request(ctx context.Context, ids []Identity, pathTemplate string) ([]SessionResult, error) {
	return b.run(ctx, "request", ids, pathTemplate)
}

func (b *Bot) run(ctx context.Context, operation string, ids []Identity, pathTemplate string) ([]SessionResult, error) {
	endpoints, err := b.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	auth := oauth.AuthorizationRequest{
		AuthorizeURL: endpoints.AuthorizeURL,
		ClientID:     b.cfg.ClientID,
		ClientSecret: b.cfg.ClientSecret,
		RedirectURL:  b.cfg.RedirectURL,
		State:        b.cfg.State,
		Audience:     b.cfg.Audience,
	}.WithScopes(b.scopes...)

	return b.runBatch(ctx, operation, ids, func(ctx context.Context, id Identity) SessionResult {
		return b.runSession(ctx, auth, endpoints.TokenURL, id, pathTemplate)
	})
}

// runSession wraps one identity's pipeline with its correlation id, span,
// step logging and metrics.
func (b *Bot) runSession(ctx context.Context, auth oauth.AuthorizationRequest, tokenURL string, id Identity, pathTemplate string) SessionResult {
	start := time.Now()
	correlationID := reqcontext.GenerateCorrelationID()
	ctx = reqcontext.WithIdentity(reqcontext.WithCorrelationID(ctx, correlationID), id.ID)

	ctx, span := b.tracing.TraceSession(ctx, id.ID, correlationID)
	defer span.End()
	b.metrics.SessionStarted()

	ctx, leave := reqcontext.Enter(ctx, b.logger, "labbot.session")
	result := b.session(ctx, auth, tokenURL, id, pathTemplate)
	result.Duration = time.Since(start)
	leave(result.Err)

	b.tracing.RecordOutcome(ctx, string(result.Outcome), result.Err)
	b.metrics.RecordSession(string(result.Outcome), result.Duration)

	fields := append(reqcontext.Fields(ctx),
		zap.String("outcome", string(result.Outcome)),
		zap.Duration("duration", result.Duration))
	if result.Err != nil {
		b.logger.Warn("Session failed", append(fields, zap.Error(result.Err))...)
	} else {
		b.logger.Info("Session finished", fields...)
	}
	return result
}

func (b *Bot) session(ctx context.Context, auth oauth.AuthorizationRequest, tokenURL string, id Identity, pathTemplate string) SessionResult {
	r, err := robot.New(b.sessionConfig(auth, tokenURL, id), b.launcher, b.exchanger,
		robot.WithCodeSource(b.codes),
		robot.WithLogger(b.logger.Named("robot")))
	if err != nil {
		return loginFailed(id, err)
	}

	token, err := r.Token(ctx)
	if err != nil {
		var loginErr *robot.LoginError
		if errors.As(err, &loginErr) {
			b.metrics.RecordLoginFailure(loginErr.State.String())
			return loginFailed(id, err)
		}
		b.metrics.RecordTokenExchange(err)
		if !token.IsError() {
			token.Error = "token_request_failed"
			token.ErrorDescription = err.Error()
		}
		return SessionResult{Identity: id, Token: token, Outcome: OutcomeTokenFailed, Err: err}
	}
	b.metrics.RecordTokenExchange(nil)

	result := SessionResult{Identity: id, Token: token, Outcome: OutcomeSuccess}
	if pathTemplate == "" {
		return result
	}

	body, err := b.SendRequest(ctx, ExpandPath(pathTemplate, token.Patient), token.AccessToken)
	if err != nil {
		b.logger.Error("Request failure",
			zap.String("identity", id.ID),
			zap.String("path", pathTemplate),
			zap.Error(err))
		body = errorBody(err)
		result.Outcome = OutcomeRequestFailed
		result.Err = err
	}
	result.Response = &body
	return result
}

func (b *Bot) sessionConfig(auth oauth.AuthorizationRequest, tokenURL string, id Identity) robot.SessionConfig {
	return robot.SessionConfig{
		Identity:         id,
		Authorization:    auth,
		TokenURL:         tokenURL,
		Variant:          b.cfg.CredentialsType,
		CredentialsMode:  b.cfg.CredentialsMode,
		SkipTwoFactor:    b.cfg.SkipTwoFactor,
		Headless:         b.cfg.Headless,
		ChromeDriver:     b.cfg.ChromeDriver,
		WaitTimeout:      b.cfg.WaitTimeout,
		PageLoadTimeout:  b.cfg.PageLoadTimeout,
		TwoFactorTimeout: b.cfg.TwoFactorTimeout,
		PollInterval:     b.pollInterval,
	}
}

// loginFailed builds the result of a session that never reached the token
// endpoint. The synthesized token error makes it classify as a loser.
func loginFailed(id Identity, err error) SessionResult {
	description := err.Error()
	var loginErr *robot.LoginError
	if errors.As(err, &loginErr) {
		description = loginErr.Reason
		if loginErr.Err != nil {
			description += ": " + loginErr.Err.Error()
		}
	}
	return SessionResult{
		Identity: id,
		Token:    oauth.TokenResult{Error: ErrorLoginFailed, ErrorDescription: description},
		Outcome:  OutcomeLoginFailed,
		Err:      err,
	}
}

// pacedLauncher holds each launch until the limiter allows it.
type pacedLauncher struct {
	browser.Launcher
	limiter *rate.Limiter
}

func (p *pacedLauncher) Launch(ctx context.Context, opts browser.Options) (browser.Browser, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.Launcher.Launch(ctx, opts)
}
