package venue

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies venue adapter failures for the propagation policy:
// Transient and RateLimited errors are retried inside the adapter; Auth is
// fatal; Permanent and NotFound surface immediately as leg failures.
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"   // network, DNS, TLS, 5xx
	KindRateLimited ErrorKind = "rateLimited" // venue throttling, carries RetryAfter
	KindAuth        ErrorKind = "auth"        // credentials rejected
	KindPermanent   ErrorKind = "permanent"   // order rejected, bad request
	KindNotFound    ErrorKind = "notFound"    // unknown order/symbol
)

// Error is the typed error all adapters return. It wraps the underlying
// cause so errors.Is/As keep working through the venue layer.
type Error struct {
	Kind       ErrorKind
	Venue      string
	Op         string
	RetryAfter time.Duration // only set for KindRateLimited
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Venue, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Venue, e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation context.
func NewError(kind ErrorKind, venueID, op string, err error) *Error {
	return &Error{Kind: kind, Venue: venueID, Op: op, Err: err}
}

// KindOf extracts the error kind, defaulting to KindTransient for untyped
// errors (network failures reach us as plain errors from the HTTP layer).
func KindOf(err error) ErrorKind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindTransient
}

// Retryable reports whether the error is worth retrying with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}

// RetryAfterOf returns the venue-advertised wait for rate-limited errors,
// or zero.
func RetryAfterOf(err error) time.Duration {
	var ve *Error
	if errors.As(err, &ve) && ve.Kind == KindRateLimited {
		return ve.RetryAfter
	}
	return 0
}

// ErrNotApplicable is returned by FundingRate on venues without perpetuals.
var ErrNotApplicable = errors.New("funding rate not applicable")
