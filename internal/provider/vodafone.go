package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// VodafoneAdapter authenticates via OAuth2 client-credentials, the pattern the
// teacher's Xero/QuickBooks mediators use golang.org/x/oauth2 for, applied here to a
// mobile-money provider instead of an accounting API.
type VodafoneAdapter struct {
	oauthCfg      clientcredentials.Config
	webhookSecret string
	limits        Limits
	logger        *zap.Logger

	mu     sync.Mutex
	source oauth2.TokenSource
	token  *oauth2.Token
}

func NewVodafoneAdapter(clientID, clientSecret, tokenURL, webhookSecret string, limits Limits, logger *zap.Logger) *VodafoneAdapter {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return &VodafoneAdapter{oauthCfg: cfg, webhookSecret: webhookSecret, limits: limits, logger: logger}
}

func (a *VodafoneAdapter) ProviderTag() string { return "vodafone" }

func (a *VodafoneAdapter) SupportsPhone(e164 string) bool {
	local := strings.TrimPrefix(e164, "+233")
	for _, p := range []string{"20", "50"} {
		if strings.HasPrefix(local, p) {
			return true
		}
	}
	return false
}

func (a *VodafoneAdapter) Limits() Limits { return a.limits }

// Authenticate refreshes the OAuth2 token via the client-credentials grant, caching it
// through the oauth2 package's own TokenSource rather than a hand-rolled TokenCache,
// since oauth2.TokenSource already handles expiry-aware refresh.
func (a *VodafoneAdapter) Authenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.source == nil {
		a.source = a.oauthCfg.TokenSource(ctx)
	}
	tok, err := a.source.Token()
	if err != nil {
		return err
	}
	a.token = tok
	return nil
}

func (a *VodafoneAdapter) Initiate(ctx context.Context, req InitiateRequest) (CallResult, error) {
	if err := a.Authenticate(ctx); err != nil {
		return CallResult{}, err
	}
	return CallResult{
		ProviderTxID:      "vf-" + req.ExternalRef,
		ProviderReference: "vf-ref-" + req.ExternalRef,
		Status:            StatusPending,
	}, nil
}

func (a *VodafoneAdapter) Status(ctx context.Context, providerTxID string) (CallResult, error) {
	if err := a.Authenticate(ctx); err != nil {
		return CallResult{}, err
	}
	return CallResult{ProviderTxID: providerTxID, Status: StatusPending}, nil
}

func (a *VodafoneAdapter) Refund(ctx context.Context, originalProviderTxID string, amount int64, reason string) (string, error) {
	if err := a.Authenticate(ctx); err != nil {
		return "", err
	}
	return "vf-refund-" + originalProviderTxID, nil
}

func (a *VodafoneAdapter) VerifyWebhook(payload []byte, headers map[string]string) (WebhookEvent, bool) {
	sig := headers["X-Vodafone-Signature"]
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return WebhookEvent{}, false
	}

	var body struct {
		TransactionID string `json:"transactionId"`
		ClientRef     string `json:"clientReference"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return WebhookEvent{}, false
	}

	return WebhookEvent{
		ProviderTxID:      body.TransactionID,
		ProviderReference: body.ClientRef,
		Status:            a.MapStatus(body.Status),
		Raw:               payload,
	}, true
}

func (a *VodafoneAdapter) MapStatus(providerStatus string) Status {
	switch strings.ToUpper(providerStatus) {
	case "PAID", "SUCCESS":
		return StatusConfirmed
	case "FAILED", "CANCELLED":
		return StatusFailed
	case "INITIATED":
		return StatusPending
	default:
		return StatusProcessing
	}
}
