package acquire

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindBlocked           Kind = "blocked"
	KindAuthRequired      Kind = "auth_required"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindNotFound          Kind = "not_found"
)

// FetchError is a typed acquisition failure. Kind decides whether the job
// queue retries (timeout, blocked) or terminates the job (auth_required,
// unsupported_format, not_found).
type FetchError struct {
	Kind     Kind
	URL      string
	Strategy string
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("acquire: %s %s", e.Kind, e.URL)
	if e.Strategy != "" {
		msg += " (" + e.Strategy + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt could plausibly succeed.
func (e *FetchError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindBlocked
}

// AsFetchError unwraps err to a *FetchError if there is one in the chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
