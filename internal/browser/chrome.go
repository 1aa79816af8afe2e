package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultElementTimeout  = time.Second
	defaultPageLoadTimeout = 30 * time.Second
)

// ChromeLauncher starts a fresh Chrome process per session so sessions share
// no cookies or storage.
type ChromeLauncher struct {
	logger *zap.Logger
}

// NewChromeLauncher returns a launcher logging through logger.
func NewChromeLauncher(logger *zap.Logger) *ChromeLauncher {
	if logger == nil {
		logger = zap.L().Named("browser")
	}
	return &ChromeLauncher{logger: logger}
}

// Launch starts Chrome and opens a blank tab. The returned browser lives
// until Close, independent of ctx.
func (l *ChromeLauncher) Launch(ctx context.Context, opts Options) (Browser, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("whitelisted-ips", ""),
		chromedp.WindowSize(1280, 1024),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Debugf),
	)

	// the first Run starts the browser process
	startCtx, cancelStart := context.WithTimeout(tabCtx, pageLoadTimeout(opts))
	stop := context.AfterFunc(ctx, cancelStart)
	err := chromedp.Run(startCtx)
	stop()
	cancelStart()
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	l.logger.Debug("Browser started", zap.Bool("headless", opts.Headless), zap.String("exec_path", opts.ExecPath))

	return &chromeBrowser{
		ctx:             tabCtx,
		cancelTab:       cancelTab,
		cancelAlloc:     cancelAlloc,
		elementTimeout:  elementTimeout(opts),
		pageLoadTimeout: pageLoadTimeout(opts),
	}, nil
}

func elementTimeout(opts Options) time.Duration {
	if opts.ElementTimeout > 0 {
		return opts.ElementTimeout
	}
	return defaultElementTimeout
}

func pageLoadTimeout(opts Options) time.Duration {
	if opts.PageLoadTimeout > 0 {
		return opts.PageLoadTimeout
	}
	return defaultPageLoadTimeout
}

type chromeBrowser struct {
	ctx             context.Context
	cancelTab       context.CancelFunc
	cancelAlloc     context.CancelFunc
	elementTimeout  time.Duration
	pageLoadTimeout time.Duration
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (b *chromeBrowser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (b *chromeBrowser) element(ctx context.Context, selector string, action chromedp.Action) error {
	err := b.run(ctx, b.elementTimeout, action)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return err
}

func (b *chromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, b.pageLoadTimeout, chromedp.Navigate(url))
}

func (b *chromeBrowser) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := b.run(ctx, b.elementTimeout, chromedp.Location(&url))
	return url, err
}

func (b *chromeBrowser) Click(ctx context.Context, selector string) error {
	return b.element(ctx, selector, chromedp.Click(selector, chromedp.ByQuery))
}

func (b *chromeBrowser) SendKeys(ctx context.Context, selector, text string) error {
	return b.element(ctx, selector, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (b *chromeBrowser) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := b.element(ctx, selector, chromedp.Text(selector, &text, chromedp.ByQuery))
	return text, err
}

func (b *chromeBrowser) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	err := b.run(ctx, b.elementTimeout, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (b *chromeBrowser) ReadyState(ctx context.Context) (string, error) {
	var state string
	err := b.run(ctx, b.elementTimeout, chromedp.Evaluate(`document.readyState`, &state))
	return state, err
}

// Close shuts the tab and the browser process.
func (b *chromeBrowser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancelTab()
	b.cancelAlloc()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
