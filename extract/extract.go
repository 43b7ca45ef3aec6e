package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/solenne/signet/acquire"
)

// ErrUnsupportedFormat is the extractor's only hard failure: the payload is
// in a format no parser can read (image-only PDFs, binaries). It maps to a
// permanent job failure.
var ErrUnsupportedFormat = errors.New("extract: unsupported format")

// Extract normalizes an acquired document. The error is non-nil only for
// ErrUnsupportedFormat cases; every other problem degrades the Content.
func Extract(doc *acquire.SourceDocument) (*Content, error) {
	switch detectFormat(doc) {
	case formatHTML:
		return extractHTML(doc.Payload, doc.Title), nil
	case formatPDF:
		return extractPDF(doc.Payload)
	case formatText:
		return extractText(doc.Payload, doc.Title), nil
	default:
		return nil, fmt.Errorf("%w: content type %q", ErrUnsupportedFormat, doc.ContentType)
	}
}

type format int

const (
	formatUnknown format = iota
	formatHTML
	formatPDF
	formatText
)

// detectFormat trusts the Content-Type header first and sniffs the payload
// when the header is absent or generic.
func detectFormat(doc *acquire.SourceDocument) format {
	ct := strings.ToLower(doc.ContentType)
	switch {
	case strings.Contains(ct, "text/html"), strings.Contains(ct, "application/xhtml"):
		return formatHTML
	case strings.Contains(ct, "application/pdf"):
		return formatPDF
	case strings.Contains(ct, "text/plain"),
		strings.Contains(ct, "text/markdown"),
		strings.Contains(ct, "application/json"):
		return formatText
	}

	head := doc.Payload
	if len(head) > 512 {
		head = head[:512]
	}
	switch {
	case bytes.HasPrefix(bytes.TrimSpace(head), []byte("%PDF-")):
		return formatPDF
	case bytes.Contains(bytes.ToLower(head), []byte("<html")),
		bytes.Contains(bytes.ToLower(head), []byte("<!doctype html")):
		return formatHTML
	case looksTextual(head):
		return formatText
	}
	return formatUnknown
}

// looksTextual reports whether the sample is mostly printable bytes.
func looksTextual(sample []byte) bool {
	if len(sample) == 0 {
		return false
	}
	printable := 0
	for _, b := range sample {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7F) || b >= 0x80 {
			printable++
		}
	}
	return float64(printable)/float64(len(sample)) > 0.9
}
