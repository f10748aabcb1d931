package quote

import (
	"errors"
	"fmt"
)

// Kind classifies why a quote or build call failed.
type Kind string

// Quote failure kinds
const (
	KindInvalidInput     Kind = "invalid_input"
	KindUnsupportedChain Kind = "unsupported_chain"
	KindNetwork          Kind = "network"
	KindTimeout          Kind = "timeout"
	KindNoRoute          Kind = "no_route"
	KindMalformed        Kind = "malformed"
	KindRateLimited      Kind = "rate_limited"
	KindExpired          Kind = "expired"
)

// QuoteError is returned by Provider and backends for every failure.
type QuoteError struct {
	Kind    Kind
	Backend string // empty when the failure happened before any backend was called
	Err     error
}

func (e *QuoteError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("quote %s [%s]: %v", e.Kind, e.Backend, e.Err)
	}
	return fmt.Sprintf("quote %s: %v", e.Kind, e.Err)
}

func (e *QuoteError) Unwrap() error {
	return e.Err
}

// Errorf builds a QuoteError with a formatted cause.
func Errorf(kind Kind, format string, args ...interface{}) *QuoteError {
	return &QuoteError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from err, or "" if err is not a QuoteError.
func KindOf(err error) Kind {
	var qe *QuoteError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}

// withBackend tags err with the backend name, converting unknown errors to network failures.
func withBackend(name string, err error) *QuoteError {
	var qe *QuoteError
	if errors.As(err, &qe) {
		c := *qe
		if c.Backend == "" {
			c.Backend = name
		}
		return &c
	}
	return &QuoteError{Kind: KindNetwork, Backend: name, Err: err}
}
