package extract

import (
	"strings"
	"unicode"
)

// Boilerplate phrases that dominate error pages, cookie walls and teaser
// shells. A body made of these scores low even when it is long enough.
var boilerplatePhrases = []string{
	"accept all cookies",
	"we use cookies",
	"cookie policy",
	"subscribe to continue",
	"sign in to continue",
	"create a free account",
	"enable javascript",
	"page not found",
	"access denied",
	"content could not be retrieved",
}

// Policy decides which extractions are worth an embedding call.
type Policy struct {
	// Threshold is the minimum quality score that gates embedding.
	Threshold int
}

func (p *Policy) defaults() {
	if p.Threshold <= 0 {
		p.Threshold = 5
	}
}

// NewPolicy creates a scoring policy with defaults applied.
func NewPolicy(threshold int) *Policy {
	p := &Policy{Threshold: threshold}
	p.defaults()
	return p
}

// ShouldEmbed reports whether content of the given score earns an embedding.
func (p *Policy) ShouldEmbed(score int) bool {
	return score >= p.Threshold
}

// Score rates extracted content from 0 (garbage) to 10 (rich article). The
// function is pure: the same content always produces the same score, so
// gate decisions are reproducible across retries and processes.
func Score(c *Content) int {
	if c == nil || strings.TrimSpace(c.Body) == "" {
		return 0
	}

	score := 0.0

	// Length: saturates at 4 points around 3000 characters of body.
	chars := len([]rune(c.Body))
	length := float64(chars) / 3000.0 * 4.0
	if length > 4.0 {
		length = 4.0
	}
	score += length

	if strings.TrimSpace(c.Title) != "" {
		score += 1.5
	}
	if len(c.Headings) > 0 {
		score += 1.0
	}
	if strings.TrimSpace(c.Description) != "" {
		score += 0.5
	}

	// Structure: real prose has sentence-length words, not tag soup.
	score += 3.0 * structureFactor(c.Body)

	// Penalties.
	score -= 4.0 * boilerplateRatio(c.Body)
	if pr := computePrintableRatio(c.Body); pr < 0.85 {
		score -= (0.85 - pr) * 10.0
	}
	if c.LowConfidence {
		score -= 1.0
	}

	switch {
	case score < 0:
		return 0
	case score > 10:
		return 10
	}
	return int(score)
}

// structureFactor is 1.0 for text that looks like prose and approaches 0
// for token soup.
func structureFactor(body string) float64 {
	wl := computeWordlikeRatio(body)
	// Below 0.4 word-like tokens the text is mostly noise.
	if wl < 0.4 {
		return 0
	}
	return (wl - 0.4) / 0.6
}

// boilerplateRatio estimates how much of the body is boilerplate phrasing,
// in 0..1.
func boilerplateRatio(body string) float64 {
	lower := strings.ToLower(body)
	hits := 0
	for _, p := range boilerplatePhrases {
		if strings.Contains(lower, p) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	// Each phrase weighs more in short bodies.
	words := countWords(body)
	if words == 0 {
		return 1
	}
	ratio := float64(hits*25) / float64(words)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// computePrintableRatio returns the ratio of printable characters in text.
// Excludes PUA U+E000-U+F8FF, control chars below U+0020 (except newline,
// carriage return, tab) and U+FFFD.
func computePrintableRatio(text string) float64 {
	if len(text) == 0 {
		return 1.0
	}
	total := 0
	printable := 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	// Private Use Area
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	// Replacement character
	if r == 0xFFFD {
		return true
	}
	// Control chars except whitespace
	if r < 0x0020 && r != '\n' && r != '\r' && r != '\t' {
		return true
	}
	return false
}

// computeWordlikeRatio returns the ratio of word-like tokens (length 2-15)
// to total tokens.
func computeWordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		n := len([]rune(f))
		if n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}
