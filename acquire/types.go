// Package acquire implements the multi-strategy content acquisition chain.
//
// A Chain tries acquisition strategies in priority order (direct HTTP,
// domain API adapter, stealth browser, placeholder) until one yields a
// usable SourceDocument. Strategy selection is driven by a declarative
// route table so known-hostile domains skip straight to the strategy that
// works for them.
package acquire

import "time"

// SourceDocument is the raw outcome of one acquisition. It is consumed by
// the extractor and discarded afterwards, never persisted long-term.
type SourceDocument struct {
	URL         string
	Strategy    string
	Payload     []byte
	ContentType string
	HTTPStatus  int
	FetchedAt   time.Time

	// Title is set by strategies that learn it during acquisition (API
	// responses, rendered pages). The extractor prefers its own.
	Title string

	// RequiresManualReview marks placeholder documents so the owner can
	// re-save the bookmark once the page is reachable.
	RequiresManualReview bool
}

// IsPlaceholder reports whether the document came from the terminal
// fallback strategy.
func (d *SourceDocument) IsPlaceholder() bool {
	return d.RequiresManualReview
}
