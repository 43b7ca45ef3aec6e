// Package compose builds the text that gets embedded for a bookmark.
//
// Sections are appended in a fixed priority order (title, description,
// headings, owner note, body head, body tail) under a character budget.
// Title and description are never truncated; whatever budget remains goes
// to the lower-priority sections. The composition is deterministic, so the
// same content always hashes to the same embedding cache key.
package compose

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/solenne/signet/extract"
)

// Config bounds the composed text.
type Config struct {
	// Budget is the character ceiling for the whole composition.
	Budget int
	// Head is how much of the body's start to include.
	Head int
	// Tail is how much of the body's end to include. The tail often holds
	// conclusions that summarize the piece better than its middle.
	Tail int
	// MaxTokens additionally bounds the result in model tokens when > 0.
	// Token counting downloads encoder data on first use, so it is opt-in.
	MaxTokens int
	// Encoding names the tiktoken encoding used when MaxTokens > 0.
	Encoding string
}

func (c *Config) defaults() {
	if c.Budget <= 0 {
		c.Budget = 8000
	}
	if c.Head <= 0 {
		c.Head = 5000
	}
	if c.Tail <= 0 {
		c.Tail = 1000
	}
	if c.Encoding == "" {
		c.Encoding = "cl100k_base"
	}
}

// Composer builds embedding inputs.
type Composer struct {
	cfg Config
}

// New creates a Composer.
func New(cfg Config) *Composer {
	cfg.defaults()
	return &Composer{cfg: cfg}
}

// Compose assembles the embedding text for extracted content plus the
// owner's note. The result never exceeds the configured budget.
func (c *Composer) Compose(content *extract.Content, note string) (string, error) {
	var sb strings.Builder

	title := strings.TrimSpace(content.Title)
	desc := strings.TrimSpace(content.Description)

	// Title and description always fit whole. They are short and carry the
	// highest signal per character.
	appendSection(&sb, title)
	appendSection(&sb, desc)

	remaining := func() int { return c.cfg.Budget - sb.Len() }

	if headings := strings.Join(content.Headings, " · "); headings != "" {
		appendBounded(&sb, headings, remaining())
	}
	if note = strings.TrimSpace(note); note != "" {
		appendBounded(&sb, note, remaining())
	}

	body := strings.TrimSpace(content.Body)
	if body != "" {
		head, tail := splitBody(body, c.cfg.Head, c.cfg.Tail)
		appendBounded(&sb, head, remaining())
		if tail != "" {
			appendBounded(&sb, tail, remaining())
		}
	}

	out := strings.TrimSpace(sb.String())

	if c.cfg.MaxTokens > 0 {
		var err error
		out, err = truncateTokens(out, c.cfg.Encoding, c.cfg.MaxTokens)
		if err != nil {
			return "", err
		}
	}
	return out, nil
}

// splitBody returns the first head characters and the last tail characters
// of body. Short bodies yield no tail: overlapping head and tail would
// embed the same sentences twice.
func splitBody(body string, head, tail int) (string, string) {
	runes := []rune(body)
	if len(runes) <= head {
		return body, ""
	}
	h := string(runes[:head])
	if len(runes) <= head+tail {
		return h, string(runes[head:])
	}
	return h, string(runes[len(runes)-tail:])
}

func appendSection(sb *strings.Builder, s string) {
	if s == "" {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	sb.WriteString(s)
}

// appendBounded appends s truncated to fit within limit bytes (including
// the section separator). Sections that cannot fit at all are dropped.
func appendBounded(sb *strings.Builder, s string, limit int) {
	if s == "" {
		return
	}
	sep := 0
	if sb.Len() > 0 {
		sep = 2
	}
	avail := limit - sep
	if avail <= 0 {
		return
	}
	if len(s) > avail {
		s = truncateRunes(s, avail)
		if s == "" {
			return
		}
	}
	if sep > 0 {
		sb.WriteString("\n\n")
	}
	sb.WriteString(s)
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// truncateTokens drops trailing tokens beyond max.
func truncateTokens(s, encoding string, max int) (string, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return "", err
	}
	toks := enc.Encode(s, nil, nil)
	if len(toks) <= max {
		return s, nil
	}
	return enc.Decode(toks[:max]), nil
}
