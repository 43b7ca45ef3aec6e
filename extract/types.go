// Package extract turns raw acquired payloads into normalized content.
//
// The extractor is deliberately forgiving: malformed HTML, empty bodies and
// odd encodings degrade the result (LowConfidence, warnings) instead of
// failing the pipeline. The only hard error is a payload format nothing can
// read, such as a scanned PDF with no text layer.
package extract

import "strings"

// Content is the normalized output of one extraction.
type Content struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Headings    []string `json:"headings,omitempty"`

	// Body is markdown for HTML sources, plain text otherwise.
	Body string `json:"body"`

	WordCount int `json:"word_count"`

	// LowConfidence marks degraded extractions: parser fallbacks, missing
	// titles, suspiciously short bodies. The content is still usable.
	LowConfidence bool     `json:"low_confidence,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

func (c *Content) addWarning(msg string) {
	c.Warnings = append(c.Warnings, msg)
	c.LowConfidence = true
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

// collapseSpace folds runs of whitespace into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
