package provider

import (
	"errors"
	"fmt"
)

// Kind classifies why a provider call produced no data
type Kind string

const (
	KindNetwork          Kind = "network"
	KindUnavailable      Kind = "provider_unavailable"
	KindSymbolNotFound   Kind = "symbol_not_found"
	KindRateLimited      Kind = "rate_limited"
	KindBadResponse      Kind = "bad_response"
	KindInsufficientData Kind = "insufficient_data"
	KindInvalidInput     Kind = "invalid_input"
	KindCacheUnavailable Kind = "cache_backend_unavailable"
	KindCancelled        Kind = "cancelled"
)

// Error is returned for every absent outcome of a provider call
type Error struct {
	Kind   Kind
	Op     string
	Symbol string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Symbol != "" {
		msg += " (" + e.Symbol + ")"
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or "" when err is not a provider error
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsNotFound reports a symbol_not_found outcome
func IsNotFound(err error) bool {
	return KindOf(err) == KindSymbolNotFound
}

// countsAsFailure reports whether a breaker should count err against the upstream
func countsAsFailure(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindUnavailable:
		return true
	}
	return false
}
