package acquire

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// Placeholder is the terminal strategy. It never fails: it builds a minimal
// document from the URL itself so the bookmark stays usable and flags it for
// manual review.
type Placeholder struct{}

// NewPlaceholder creates the placeholder strategy.
func NewPlaceholder() *Placeholder { return &Placeholder{} }

func (p *Placeholder) Name() string { return "placeholder" }

// Fetch synthesizes a document from the URL.
func (p *Placeholder) Fetch(ctx context.Context, rawURL string) (*SourceDocument, error) {
	title := titleFromURL(rawURL)
	body := fmt.Sprintf("%s\n\nContent could not be retrieved automatically from %s.", title, rawURL)
	return &SourceDocument{
		URL:                  rawURL,
		Strategy:             "placeholder",
		Payload:              []byte(body),
		ContentType:          "text/plain; charset=utf-8",
		FetchedAt:            time.Now(),
		Title:                title,
		RequiresManualReview: true,
	}, nil
}

// titleFromURL derives a human-readable title from the last meaningful path
// segment, falling back to the host.
func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for i := len(segs) - 1; i >= 0; i-- {
		if s := humanize(segs[i]); s != "" {
			return s
		}
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func humanize(seg string) string {
	seg, _ = url.PathUnescape(seg)
	if i := strings.LastIndex(seg, "."); i > 0 {
		seg = seg[:i]
	}
	seg = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || r == '+' {
			return ' '
		}
		return r
	}, seg)
	seg = strings.Join(strings.Fields(seg), " ")
	if seg == "" {
		return ""
	}
	// Pure numeric IDs make poor titles.
	numeric := true
	for _, r := range seg {
		if !unicode.IsDigit(r) {
			numeric = false
			break
		}
	}
	if numeric {
		return ""
	}
	return strings.ToUpper(seg[:1]) + seg[1:]
}
