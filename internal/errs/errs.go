// Package errs defines the canonical error kinds shared by every collaborator in the
// dispatch pipeline. Components never return bare errors across their public contracts;
// they wrap a Kind so callers upstream (the orchestrator, the HTTP glue) can make a single
// switch decide retry behavior and response code without re-deriving it from strings.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind enumerates the canonical error classification. Exhaustive by design: any new
// failure mode must be mapped onto one of these before it leaves the package that detects it.
type Kind int

const (
	Unknown Kind = iota
	ValidationError
	RateLimited
	IdempotencyConflict
	DuplicateInFlight
	FraudBlocked
	FraudRequiresVerification
	NoEligibleProvider
	CircuitOpen
	ProviderTransient
	ProviderPermanent
	ConcurrentTransition
)

func (k Kind) String() string {
	switch k {
	case ValidationError:
		return "validation_error"
	case RateLimited:
		return "rate_limited"
	case IdempotencyConflict:
		return "idempotency_conflict"
	case DuplicateInFlight:
		return "duplicate_in_flight"
	case FraudBlocked:
		return "fraud_blocked"
	case FraudRequiresVerification:
		return "fraud_requires_verification"
	case NoEligibleProvider:
		return "no_eligible_provider"
	case CircuitOpen:
		return "circuit_open"
	case ProviderTransient:
		return "provider_transient"
	case ProviderPermanent:
		return "provider_permanent"
	case ConcurrentTransition:
		return "concurrent_transition"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a Kind onto the response code enumerated in the inbound request contract.
func (k Kind) HTTPStatus() int {
	switch k {
	case ValidationError:
		return 400
	case RateLimited:
		return 429
	case IdempotencyConflict, ConcurrentTransition, DuplicateInFlight:
		return 409
	case FraudBlocked, FraudRequiresVerification, NoEligibleProvider:
		return 422
	default:
		return 500
	}
}

// Retryable reports whether C5 may attempt this error again against the same provider.
func (k Kind) Retryable() bool {
	switch k {
	case ProviderTransient, RateLimited:
		return true
	default:
		return false
	}
}

// Error is the concrete type every layer wraps with fmt.Errorf("...: %w", err).
type Error struct {
	Kind       Kind
	Provider   string // set for CircuitOpen / ProviderTransient / ProviderPermanent
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a canonical error of the given kind wrapping cause (which may be nil).
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WithRetryAfter attaches a Retry-After duration, used by RateLimited.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithProvider attaches the provider tag, used by CircuitOpen / Provider* kinds.
func (e *Error) WithProvider(tag string) *Error {
	e.Provider = tag
	return e
}

// KindOf extracts the canonical Kind from err, defaulting to Unknown when err does not
// wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// As is a convenience wrapper around errors.As for the common case.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
