package robot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/health-apis/labbot/internal/prompt"
)

// ErrNoTwoFactorCode is returned when no code was supplied.
var ErrNoTwoFactorCode = errors.New("no two-factor code entered")

// CodeSource supplies one-time two-factor codes.
type CodeSource interface {
	TwoFactorCode(ctx context.Context, identity string) (string, error)
}

// PromptCodeSource asks an operator for each code. One console read is in
// flight at a time: a read left behind by a session that gave up is handed to
// the next caller instead of racing it for the console.
type PromptCodeSource struct {
	prompter prompt.UserPrompter
	turn     chan struct{}
	answers  chan promptResult
	pending  bool // guarded by turn
}

// NewPromptCodeSource returns a code source reading from prompter.
func NewPromptCodeSource(prompter prompt.UserPrompter) *PromptCodeSource {
	return &PromptCodeSource{
		prompter: prompter,
		turn:     make(chan struct{}, 1),
		answers:  make(chan promptResult, 1),
	}
}

type promptResult struct {
	code string
	err  error
}

// TwoFactorCode blocks until the operator answers or ctx ends.
func (p *PromptCodeSource) TwoFactorCode(ctx context.Context, identity string) (string, error) {
	select {
	case p.turn <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for two-factor code: %w", ctx.Err())
	}
	defer func() { <-p.turn }()

	message := fmt.Sprintf("Please enter the two-factor code for %s: ", identity)
	if p.pending {
		select {
		case <-p.answers:
			// Answered after its session gave up; that code belongs to nobody.
			p.pending = false
		default:
		}
	}
	if p.pending {
		if n, ok := p.prompter.(prompt.Notifier); ok {
			n.Notify(message)
		}
	} else {
		p.pending = true
		go func() {
			code, err := p.prompter.PromptSecret(message)
			p.answers <- promptResult{code: code, err: err}
		}()
	}

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for two-factor code: %w", ctx.Err())
	case res := <-p.answers:
		p.pending = false
		if res.err != nil {
			return "", res.err
		}
		code := strings.TrimSpace(res.code)
		if code == "" {
			return "", ErrNoTwoFactorCode
		}
		return code, nil
	}
}

// TOTPCodeSource generates codes from a shared authenticator secret.
type TOTPCodeSource struct {
	secret string
	now    func() time.Time
}

// NewTOTPCodeSource returns a code source for the base32 secret.
func NewTOTPCodeSource(secret string) *TOTPCodeSource {
	return &TOTPCodeSource{secret: secret, now: time.Now}
}

func (s *TOTPCodeSource) TwoFactorCode(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	code, err := totp.GenerateCode(s.secret, s.now())
	if err != nil {
		return "", fmt.Errorf("generate TOTP code: %w", err)
	}
	return code, nil
}
