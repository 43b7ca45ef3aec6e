package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the headless-browser strategy.
type BrowserConfig struct {
	// ControlURL connects to an existing browser instead of launching one.
	ControlURL string
	// SettleDelay waits after load for late-rendering frameworks.
	SettleDelay time.Duration
	Logger      *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser renders pages in a stealth-patched headless Chromium. It is the
// escalation path for script-rendered shells and anti-bot walls that the
// direct strategy cannot get past. The browser launches lazily on first use
// and is shared across fetches.
type Browser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowser creates the browser strategy without launching anything.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

func (b *Browser) Name() string { return "browser" }

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}
	u := b.cfg.ControlURL
	if u == "" {
		var err error
		u, err = launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled").
			Set("disable-dev-shm-usage").
			Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
	}
	br := rod.New().ControlURL(u)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	b.browser = br
	b.cfg.Logger.Info("acquire: browser connected", "control_url", u)
	return br, nil
}

// Fetch renders the page and returns its post-JavaScript DOM as HTML.
func (b *Browser) Fetch(ctx context.Context, rawURL string) (*SourceDocument, error) {
	br, err := b.connect()
	if err != nil {
		return nil, &FetchError{Kind: KindBlocked, URL: rawURL, Strategy: "browser", Err: err}
	}

	page, err := stealth.Page(br)
	if err != nil {
		return nil, &FetchError{Kind: KindBlocked, URL: rawURL, Strategy: "browser",
			Err: fmt.Errorf("open page: %w", err)}
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := page.Navigate(rawURL); err != nil {
		return nil, browserErr(ctx, rawURL, fmt.Errorf("navigate: %w", err))
	}
	if err := page.WaitLoad(); err != nil {
		return nil, browserErr(ctx, rawURL, fmt.Errorf("wait load: %w", err))
	}

	select {
	case <-time.After(b.cfg.SettleDelay):
	case <-ctx.Done():
		return nil, browserErr(ctx, rawURL, ctx.Err())
	}

	res, err := page.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, browserErr(ctx, rawURL, fmt.Errorf("read dom: %w", err))
	}
	html := []byte(res.Value.Str())

	if BotChallenge(html) {
		return nil, &FetchError{Kind: KindBlocked, URL: rawURL, Strategy: "browser",
			Err: errors.New("challenge page survived rendering")}
	}

	title := ""
	if info, err := page.Info(); err == nil {
		title = info.Title
	}

	b.cfg.Logger.Debug("acquire: browser rendered", "url", rawURL, "size", len(html))

	return &SourceDocument{
		URL:         rawURL,
		Strategy:    "browser",
		Payload:     html,
		ContentType: "text/html; charset=utf-8",
		HTTPStatus:  200,
		FetchedAt:   time.Now(),
		Title:       title,
	}, nil
}

// Close shuts the shared browser down.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}

func browserErr(ctx context.Context, rawURL string, err error) *FetchError {
	kind := KindBlocked
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &FetchError{Kind: kind, URL: rawURL, Strategy: "browser", Err: err}
}
