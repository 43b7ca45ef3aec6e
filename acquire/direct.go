package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DirectConfig configures the plain-HTTP strategy.
type DirectConfig struct {
	// UserAgent sent with requests.
	UserAgent string
	// MaxBytes caps the response body read. Default: 10MB.
	MaxBytes int64
	// Client overrides the HTTP client (tests).
	Client *http.Client
	Logger *slog.Logger
}

func (c *DirectConfig) defaults() {
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; signet/1.0)"
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Client == nil {
		c.Client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		}
	}
}

// Direct is the plain HTTP GET strategy. It covers the large majority of
// static sites; script-rendered shells and bot challenges are detected and
// reported as blocked so the chain escalates to the browser.
type Direct struct {
	cfg DirectConfig
}

// NewDirect creates the direct strategy.
func NewDirect(cfg DirectConfig) *Direct {
	cfg.defaults()
	return &Direct{cfg: cfg}
}

func (d *Direct) Name() string { return "direct" }

// Fetch GETs the URL and returns a SourceDocument.
func (d *Direct) Fetch(ctx context.Context, rawURL string) (*SourceDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindNotFound, URL: rawURL, Strategy: "direct", Err: err}
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		kind := KindBlocked
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &FetchError{Kind: kind, URL: rawURL, Strategy: "direct", Err: err}
	}
	defer resp.Body.Close()

	if kind, bad := classifyStatus(resp.StatusCode); bad {
		return nil, &FetchError{Kind: kind, URL: rawURL, Strategy: "direct",
			Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxBytes))
	if err != nil {
		return nil, &FetchError{Kind: KindBlocked, URL: rawURL, Strategy: "direct",
			Err: fmt.Errorf("read body: %w", err)}
	}

	contentType := resp.Header.Get("Content-Type")

	if isHTML(contentType, body) {
		if BotChallenge(body) {
			return nil, &FetchError{Kind: KindBlocked, URL: rawURL, Strategy: "direct",
				Err: errors.New("anti-bot challenge page")}
		}
		if !Sufficient(body) {
			return nil, &FetchError{Kind: KindBlocked, URL: rawURL, Strategy: "direct",
				Err: errors.New("script-rendered shell, needs a browser")}
		}
	}

	d.cfg.Logger.Debug("acquire: direct fetched",
		"url", rawURL, "status", resp.StatusCode, "size", len(body))

	return &SourceDocument{
		URL:         rawURL,
		Strategy:    "direct",
		Payload:     body,
		ContentType: contentType,
		HTTPStatus:  resp.StatusCode,
		FetchedAt:   time.Now(),
	}, nil
}

func classifyStatus(code int) (Kind, bool) {
	switch {
	case code >= 200 && code < 300:
		return "", false
	case code == http.StatusNotFound || code == http.StatusGone:
		return KindNotFound, true
	case code == http.StatusUnauthorized || code == http.StatusForbidden,
		code == http.StatusTooManyRequests:
		return KindBlocked, true
	case code >= 500:
		return KindBlocked, true
	default:
		return KindBlocked, true
	}
}

func isHTML(contentType string, body []byte) bool {
	if strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml") {
		return true
	}
	if contentType != "" {
		return false
	}
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	lower := strings.ToLower(string(head))
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype html")
}
