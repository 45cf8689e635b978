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

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AirtelTigoAdapter authenticates with a signed JWT bearer token instead of a static
// API key, the pattern coinbase-x402 and other_examples/pulseberry use golang-jwt/jwt/v5
// for.
type AirtelTigoAdapter struct {
	signingKey    []byte
	serviceID     string
	webhookSecret string
	limits        Limits
	logger        *zap.Logger

	mu    sync.Mutex
	token TokenCache
}

func NewAirtelTigoAdapter(signingKey []byte, serviceID, webhookSecret string, limits Limits, logger *zap.Logger) *AirtelTigoAdapter {
	return &AirtelTigoAdapter{signingKey: signingKey, serviceID: serviceID, webhookSecret: webhookSecret, limits: limits, logger: logger}
}

func (a *AirtelTigoAdapter) ProviderTag() string { return "airteltigo" }

func (a *AirtelTigoAdapter) SupportsPhone(e164 string) bool {
	local := strings.TrimPrefix(e164, "+233")
	for _, p := range []string{"26", "27", "56", "57"} {
		if strings.HasPrefix(local, p) {
			return true
		}
	}
	return false
}

func (a *AirtelTigoAdapter) Limits() Limits { return a.limits }

// Authenticate mints a short-lived JWT bearer token signed with the service's HMAC key,
// caching it until it expires.
func (a *AirtelTigoAdapter) Authenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token.Valid() {
		return nil
	}

	expiry := time.Now().Add(15 * time.Minute)
	claims := jwt.MapClaims{
		"sub": a.serviceID,
		"exp": expiry.Unix(),
		"iat": time.Now().Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(a.signingKey)
	if err != nil {
		return err
	}

	a.token = TokenCache{Token: signed, ExpiresAt: expiry}
	return nil
}

func (a *AirtelTigoAdapter) Initiate(ctx context.Context, req InitiateRequest) (CallResult, error) {
	if err := a.Authenticate(ctx); err != nil {
		return CallResult{}, err
	}
	return CallResult{
		ProviderTxID:      "at-" + req.ExternalRef,
		ProviderReference: "at-ref-" + req.ExternalRef,
		Status:            StatusPending,
	}, nil
}

func (a *AirtelTigoAdapter) Status(ctx context.Context, providerTxID string) (CallResult, error) {
	if err := a.Authenticate(ctx); err != nil {
		return CallResult{}, err
	}
	return CallResult{ProviderTxID: providerTxID, Status: StatusPending}, nil
}

func (a *AirtelTigoAdapter) Refund(ctx context.Context, originalProviderTxID string, amount int64, reason string) (string, error) {
	if err := a.Authenticate(ctx); err != nil {
		return "", err
	}
	return "at-refund-" + originalProviderTxID, nil
}

func (a *AirtelTigoAdapter) VerifyWebhook(payload []byte, headers map[string]string) (WebhookEvent, bool) {
	sig := headers["X-AirtelTigo-Signature"]
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return WebhookEvent{}, false
	}

	var body struct {
		TxnID   string `json:"txn_id"`
		RefID   string `json:"merchant_ref"`
		State   string `json:"state"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return WebhookEvent{}, false
	}

	return WebhookEvent{
		ProviderTxID:      body.TxnID,
		ProviderReference: body.RefID,
		Status:            a.MapStatus(body.State),
		Raw:               payload,
	}, true
}

func (a *AirtelTigoAdapter) MapStatus(providerStatus string) Status {
	switch strings.ToLower(providerStatus) {
	case "success", "completed":
		return StatusConfirmed
	case "failed", "declined":
		return StatusFailed
	case "queued":
		return StatusPending
	default:
		return StatusProcessing
	}
}
