package embedder

import (
	"errors"
	"fmt"
)

// Kind classifies an embedding failure.
type Kind string

const (
	// KindQuotaExceeded: the key's daily or monthly budget is spent.
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindInvalidKey: the upstream rejected the API key.
	KindInvalidKey Kind = "invalid_key"
	// KindUpstreamUnavailable: network failure, timeout or 5xx. Transient.
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	// KindUpstreamRejected: the upstream refused the request itself
	// (oversized input, unknown model). Retrying the same input is useless.
	KindUpstreamRejected Kind = "upstream_rejected"
)

// EmbedError is a typed embedding failure.
type EmbedError struct {
	Kind Kind
	Err  error
}

func (e *EmbedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embed: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("embed: %s", e.Kind)
}

func (e *EmbedError) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt could succeed. Only transient
// upstream failures qualify: quota and key errors will fail identically.
func (e *EmbedError) Retryable() bool {
	return e.Kind == KindUpstreamUnavailable
}

// AsEmbedError unwraps err to an *EmbedError if there is one in the chain.
func AsEmbedError(err error) (*EmbedError, bool) {
	var ee *EmbedError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
