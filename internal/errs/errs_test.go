package errs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindStringAndHTTPStatus(t *testing.T) {
	tests := []struct {
		kind       Kind
		wantString string
		wantStatus int
	}{
		{ValidationError, "validation_error", 400},
		{RateLimited, "rate_limited", 429},
		{IdempotencyConflict, "idempotency_conflict", 409},
		{DuplicateInFlight, "duplicate_in_flight", 409},
		{ConcurrentTransition, "concurrent_transition", 409},
		{FraudBlocked, "fraud_blocked", 422},
		{FraudRequiresVerification, "fraud_requires_verification", 422},
		{NoEligibleProvider, "no_eligible_provider", 422},
		{CircuitOpen, "circuit_open", 500},
		{ProviderTransient, "provider_transient", 500},
		{ProviderPermanent, "provider_permanent", 500},
		{Unknown, "unknown", 500},
	}

	for _, tt := range tests {
		t.Run(tt.wantString, func(t *testing.T) {
			assert.Equal(t, tt.wantString, tt.kind.String())
			assert.Equal(t, tt.wantStatus, tt.kind.HTTPStatus())
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, ProviderTransient.Retryable())
	assert.True(t, RateLimited.Retryable())
	assert.False(t, ProviderPermanent.Retryable())
	assert.False(t, ValidationError.Retryable())
}

func TestNewAndKindOf(t *testing.T) {
	cause := errors.New("boom")
	err := New(ProviderTransient, cause)

	assert.Equal(t, ProviderTransient, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestKindOfDefaultsToUnknownForPlainError(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("not ours")))
}

func TestWithRetryAfterAndProvider(t *testing.T) {
	err := New(RateLimited, nil).WithRetryAfter(5 * time.Second).WithProvider("mtn")

	assert.Equal(t, 5*time.Second, err.RetryAfter)
	assert.Equal(t, "mtn", err.Provider)

	got, ok := As(err)
	assert.True(t, ok)
	assert.Same(t, err, got)
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(ValidationError, "amount %d invalid", 42)
	assert.Equal(t, ValidationError, KindOf(err))
	assert.Contains(t, err.Error(), "42")
}
