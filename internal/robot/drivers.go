package robot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/health-apis/labbot/internal/browser"
	"github.com/health-apis/labbot/internal/config"
)

// LoginDriver fills in and submits one identity provider's sign-in form.
type LoginDriver interface {
	Name() string
	Login(ctx context.Context, b browser.Browser, id Identity) error
}

// DriverFor selects the login driver for a credentials type.
func DriverFor(t config.CredentialsType, logger *zap.Logger) (LoginDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch t {
	case config.CredentialsTypeIDMe:
		return &IDMeDriver{logger: logger}, nil
	case config.CredentialsTypeMyHealtheVet:
		return &MyHealtheVetDriver{logger: logger}, nil
	default:
		return nil, fmt.Errorf("unsupported credentials type %q", t)
	}
}

// formDriver signs in by clicking a provider button, typing the id and
// password and submitting.
type formDriver struct {
	provider      string
	providerLink  string
	userField     string
	passwordField string
	submit        string
}

func (d formDriver) login(ctx context.Context, logger *zap.Logger, b browser.Browser, id Identity) error {
	logger.Info("Using "+d.provider, zap.String("user", id.ID))

	if err := b.Click(ctx, d.providerLink); err != nil {
		return fmt.Errorf("select %s: %w", d.provider, err)
	}
	if err := b.SendKeys(ctx, d.userField, id.ID); err != nil {
		return fmt.Errorf("enter user: %w", err)
	}
	if err := b.SendKeys(ctx, d.passwordField, id.Password); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}
	if err := b.Click(ctx, d.submit); err != nil {
		return fmt.Errorf("submit sign-in form: %w", err)
	}
	return nil
}

var idMeForm = formDriver{
	provider:      "ID.me",
	providerLink:  ".idme-signin",
	userField:     "#user_email",
	passwordField: "#user_password",
	submit:        `[name="commit"]`,
}

var myHealtheVetForm = formDriver{
	provider:      "My HealtheVet",
	providerLink:  ".mhv",
	userField:     "#_58_loginField",
	passwordField: "#_58_passwordField",
	submit:        ".btn-primary",
}

// IDMeDriver signs in through ID.me.
type IDMeDriver struct {
	logger *zap.Logger
}

func (d *IDMeDriver) Name() string { return idMeForm.provider }

func (d *IDMeDriver) Login(ctx context.Context, b browser.Browser, id Identity) error {
	return idMeForm.login(ctx, d.logger, b, id)
}

// MyHealtheVetDriver signs in through My HealtheVet.
type MyHealtheVetDriver struct {
	logger *zap.Logger
}

func (d *MyHealtheVetDriver) Name() string { return myHealtheVetForm.provider }

func (d *MyHealtheVetDriver) Login(ctx context.Context, b browser.Browser, id Identity) error {
	return myHealtheVetForm.login(ctx, d.logger, b, id)
}
