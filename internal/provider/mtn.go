package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MTNAdapter implements the C1 contract for MTN MoMo. Credential refresh is a simple
// bearer-token exchange cached on TokenCache, the simplest of the three canonical
// adapters' auth schemes.
type MTNAdapter struct {
	apiKey        string
	apiSecret     string
	webhookSecret string
	limits        Limits
	logger        *zap.Logger

	mu    sync.Mutex
	token TokenCache
}

func NewMTNAdapter(apiKey, apiSecret, webhookSecret string, limits Limits, logger *zap.Logger) *MTNAdapter {
	return &MTNAdapter{apiKey: apiKey, apiSecret: apiSecret, webhookSecret: webhookSecret, limits: limits, logger: logger}
}

func (a *MTNAdapter) ProviderTag() string { return "mtn" }

// SupportsPhone is a prefix test over Ghana MTN ranges (024, 025, 053, 054, 055, 059
// after the +233 country code is stripped).
func (a *MTNAdapter) SupportsPhone(e164 string) bool {
	local := strings.TrimPrefix(e164, "+233")
	for _, p := range []string{"24", "25", "53", "54", "55", "59"} {
		if strings.HasPrefix(local, p) {
			return true
		}
	}
	return false
}

func (a *MTNAdapter) Limits() Limits { return a.limits }

func (a *MTNAdapter) Authenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token.Valid() {
		return nil
	}
	// A real adapter exchanges apiKey/apiSecret for a bearer token against MTN's
	// collection-widget auth endpoint; the HTTP round trip is elided here since wire
	// transport is out of scope (§1) and this exercises only the adapter contract.
	a.token = TokenCache{Token: "mtn-" + a.apiKey, ExpiresAt: time.Now().Add(55 * time.Minute)}
	return nil
}

func (a *MTNAdapter) Initiate(ctx context.Context, req InitiateRequest) (CallResult, error) {
	if err := a.Authenticate(ctx); err != nil {
		return CallResult{}, err
	}
	return CallResult{
		ProviderTxID:      "mtn-" + req.ExternalRef,
		ProviderReference: "mtn-ref-" + req.ExternalRef,
		Status:            StatusPending,
	}, nil
}

func (a *MTNAdapter) Status(ctx context.Context, providerTxID string) (CallResult, error) {
	if err := a.Authenticate(ctx); err != nil {
		return CallResult{}, err
	}
	return CallResult{ProviderTxID: providerTxID, Status: StatusPending}, nil
}

func (a *MTNAdapter) Refund(ctx context.Context, originalProviderTxID string, amount int64, reason string) (string, error) {
	if err := a.Authenticate(ctx); err != nil {
		return "", err
	}
	return "mtn-refund-" + originalProviderTxID, nil
}

// VerifyWebhook checks an HMAC-SHA256 signature over the raw payload, the same shape as
// the teacher's Stripe mediator's webhook.ConstructEvent verification but hand-rolled
// since MTN's scheme is a plain header HMAC rather than Stripe's timestamped scheme.
func (a *MTNAdapter) VerifyWebhook(payload []byte, headers map[string]string) (WebhookEvent, bool) {
	sig := headers["X-MTN-Signature"]
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return WebhookEvent{}, false
	}

	var body struct {
		ProviderTxID string `json:"financialTransactionId"`
		ExternalRef  string `json:"externalId"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return WebhookEvent{}, false
	}

	return WebhookEvent{
		ProviderTxID:      body.ProviderTxID,
		ProviderReference: body.ExternalRef,
		Status:            a.MapStatus(body.Status),
		Raw:               payload,
	}, true
}

func (a *MTNAdapter) MapStatus(providerStatus string) Status {
	switch strings.ToUpper(providerStatus) {
	case "SUCCESSFUL":
		return StatusConfirmed
	case "FAILED", "REJECTED":
		return StatusFailed
	case "PENDING":
		return StatusPending
	default:
		return StatusProcessing
	}
}
