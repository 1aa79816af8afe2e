// Package browsertest provides a scripted in-memory browser for exercising
// login flows without a real browser.
package browsertest

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/health-apis/labbot/internal/browser"
)

// Page describes what is visible at one URL.
type Page struct {
	// Elements maps selectors to their text. Listed selectors exist.
	Elements map[string]string
	// Links maps clickable selectors to the URL a click navigates to.
	Links map[string]string
	// Actions maps clickable selectors to custom click behaviour.
	Actions map[string]func(b *Browser) error
	// ReadyState defaults to "complete".
	ReadyState string
}

func (p *Page) has(selector string) bool {
	if p == nil {
		return false
	}
	if _, ok := p.Elements[selector]; ok {
		return true
	}
	if _, ok := p.Links[selector]; ok {
		return true
	}
	_, ok := p.Actions[selector]
	return ok
}

// Site is a set of pages keyed by URL without query or fragment.
type Site struct {
	mu    sync.Mutex
	pages map[string]*Page
}

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{pages: make(map[string]*Page)}
}

// Handle registers page at rawURL; query and fragment are ignored.
func (s *Site) Handle(rawURL string, page *Page) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[pageKey(rawURL)] = page
	return s
}

func (s *Site) page(rawURL string) *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[pageKey(rawURL)]
}

func pageKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Browser is a scripted browser.Browser. It records typed text and clicks.
type Browser struct {
	site *Site

	mu     sync.Mutex
	url    string
	typed  map[string]string
	clicks []string
	closed bool
}

var _ browser.Browser = (*Browser)(nil)

// NewBrowser returns a browser on about:blank.
func NewBrowser(site *Site) *Browser {
	return &Browser{site: site, url: "about:blank", typed: make(map[string]string)}
}

// SetURL moves the browser without a navigation; used by click actions.
func (b *Browser) SetURL(u string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.url = u
}

// Typed returns everything sent to selector.
func (b *Browser) Typed(selector string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.typed[selector]
}

// Clicks returns the clicked selectors in order.
func (b *Browser) Clicks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.clicks...)
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) current() (string, *Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", nil, fmt.Errorf("browser is closed")
	}
	return b.url, b.site.page(b.url), nil
}

func (b *Browser) Navigate(ctx context.Context, u string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.SetURL(u)
	return nil
}

func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u, _, err := b.current()
	return u, err
}

func (b *Browser) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, page, err := b.current()
	if err != nil {
		return err
	}
	if !page.has(selector) {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}

	b.mu.Lock()
	b.clicks = append(b.clicks, selector)
	b.mu.Unlock()

	if action, ok := page.Actions[selector]; ok {
		return action(b)
	}
	if target, ok := page.Links[selector]; ok {
		b.SetURL(target)
	}
	return nil
}

func (b *Browser) SendKeys(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, page, err := b.current()
	if err != nil {
		return err
	}
	if !page.has(selector) {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	b.mu.Lock()
	b.typed[selector] += text
	b.mu.Unlock()
	return nil
}

func (b *Browser) Text(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, page, err := b.current()
	if err != nil {
		return "", err
	}
	if !page.has(selector) {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return page.Elements[selector], nil
}

func (b *Browser) Exists(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, page, err := b.current()
	if err != nil {
		return false, err
	}
	return page.has(selector), nil
}

func (b *Browser) ReadyState(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, page, err := b.current()
	if err != nil {
		return "", err
	}
	if page == nil || page.ReadyState == "" {
		return "complete", nil
	}
	return page.ReadyState, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Launcher hands out scripted browsers over one site.
type Launcher struct {
	Site *Site
	// Err, when set, fails every launch.
	Err error

	mu       sync.Mutex
	browsers []*Browser
	options  []browser.Options
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher returns a launcher over site.
func NewLauncher(site *Site) *Launcher {
	return &Launcher{Site: site}
}

func (l *Launcher) Launch(ctx context.Context, opts browser.Options) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Err != nil {
		return nil, l.Err
	}
	b := NewBrowser(l.Site)
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.options = append(l.options, opts)
	l.mu.Unlock()
	return b, nil
}

// Browsers returns every browser launched so far.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

// Options returns the options of every launch.
func (l *Launcher) Options() []browser.Options {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.Options(nil), l.options...)
}

// OpenCount returns how many launched browsers are not yet closed.
func (l *Launcher) OpenCount() int {
	open := 0
	for _, b := range l.Browsers() {
		if !b.Closed() {
			open++
		}
	}
	return open
}
