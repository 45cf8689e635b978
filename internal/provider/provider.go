// Package provider defines the C1 adapter contract: the single capability interface
// every mobile-money provider implementation satisfies, and the canonical status/error
// vocabulary above it works in exclusively. Generalizes the teacher's BaseMediator
// (api/internal/mediators/base_mediator.go) from an accounting-API mediator (sync,
// health, rate limiting bundled in) down to the narrower contract §4.4 specifies: the
// adapter owns only provider-specific auth, signatures and status dialects.
package provider

import (
	"context"
	"time"
)

// Status is the canonical status an adapter call or webhook maps onto, distinct from
// any provider-native string (see map_status in §4.4).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// Limits is the result of limits().
type Limits struct {
	Min   int64 // minor units
	Max   int64
	Daily int64
}

// InitiateRequest is the canonical request shape passed to initiate().
type InitiateRequest struct {
	TransactionID  string
	ExternalRef    string
	Amount         int64 // minor units
	Currency       string
	RecipientPhone string
	RecipientName  string
	Description    string
	Metadata       map[string]any
}

// CallResult is the shared shape returned by initiate() and status().
type CallResult struct {
	ProviderTxID      string
	ProviderReference string
	Status            Status
	Message           string
}

// WebhookEvent is the adapter-verified, canonically-mapped result of verify_webhook.
type WebhookEvent struct {
	ProviderTxID      string
	ProviderReference string
	Status            Status
	Raw               []byte
}

// Adapter is the C1 contract. Callers classify failures with errs.KindOf (see
// internal/errs); the MTN, AirtelTigo and Vodafone adapters in this package return
// credential errors from Authenticate unwrapped, which errs.KindOf reports as Unknown.
// Adapters are the only components permitted to see
// provider-native status strings, signature schemes or phone-prefix tables.
type Adapter interface {
	ProviderTag() string
	SupportsPhone(e164 string) bool
	Limits() Limits

	// Authenticate refreshes provider credentials if needed. Idempotent; caches the
	// token and its expiry on the adapter.
	Authenticate(ctx context.Context) error

	Initiate(ctx context.Context, req InitiateRequest) (CallResult, error)
	Status(ctx context.Context, providerTxID string) (CallResult, error)
	Refund(ctx context.Context, originalProviderTxID string, amount int64, reason string) (refundTxID string, err error)

	// VerifyWebhook returns (event, true) on a valid signature, (zero, false) otherwise.
	VerifyWebhook(payload []byte, headers map[string]string) (WebhookEvent, bool)

	// MapStatus is a total function from a provider-native status string to the
	// canonical Status.
	MapStatus(providerStatus string) Status
}

// TokenCache is the small piece of authenticate()-state every adapter needs: a cached
// bearer token with an expiry, refreshed only when stale. Held as a field by the MTN
// and AirtelTigo adapters (the Vodafone adapter relies on an oauth2.TokenSource
// instead), mirroring how BaseMediator centralizes connection state.
type TokenCache struct {
	Token     string
	ExpiresAt time.Time
}

func (t *TokenCache) Valid() bool {
	return t.Token != "" && time.Now().Before(t.ExpiresAt)
}
