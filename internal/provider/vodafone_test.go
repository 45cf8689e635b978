package provider_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/provider"
)

func TestVodafoneSupportsPhone(t *testing.T) {
	a := provider.NewVodafoneAdapter("client", "secret", "https://example.invalid/token", "whsec", provider.Limits{Max: 100000}, zap.NewNop())

	cases := []struct {
		phone string
		want  bool
	}{
		{"+233201234567", true},  // 20
		{"+233501234567", true},  // 50
		{"+233241234567", false}, // mtn prefix
		{"+233271234567", false}, // airteltigo prefix
	}
	for _, c := range cases {
		assert.Equal(t, c.want, a.SupportsPhone(c.phone), "phone %s", c.phone)
	}
}

func TestVodafoneMapStatus(t *testing.T) {
	a := provider.NewVodafoneAdapter("client", "secret", "https://example.invalid/token", "whsec", provider.Limits{}, zap.NewNop())

	assert.Equal(t, provider.StatusConfirmed, a.MapStatus("PAID"))
	assert.Equal(t, provider.StatusConfirmed, a.MapStatus("success"))
	assert.Equal(t, provider.StatusFailed, a.MapStatus("FAILED"))
	assert.Equal(t, provider.StatusFailed, a.MapStatus("CANCELLED"))
	assert.Equal(t, provider.StatusPending, a.MapStatus("INITIATED"))
	assert.Equal(t, provider.StatusProcessing, a.MapStatus("UNKNOWN_STATE"))
}

func TestVodafoneVerifyWebhookValidSignature(t *testing.T) {
	a := provider.NewVodafoneAdapter("client", "secret", "https://example.invalid/token", "whsec", provider.Limits{}, zap.NewNop())

	body := map[string]string{
		"transactionId":   "vf-1",
		"clientReference": "ext-1",
		"status":          "PAID",
	}
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	headers := map[string]string{"X-Vodafone-Signature": signHMAC("whsec", payload)}

	event, ok := a.VerifyWebhook(payload, headers)
	require.True(t, ok)
	assert.Equal(t, "vf-1", event.ProviderTxID)
	assert.Equal(t, "ext-1", event.ProviderReference)
	assert.Equal(t, provider.StatusConfirmed, event.Status)
}

func TestVodafoneVerifyWebhookRejectsBadSignature(t *testing.T) {
	a := provider.NewVodafoneAdapter("client", "secret", "https://example.invalid/token", "whsec", provider.Limits{}, zap.NewNop())

	payload := []byte(`{"transactionId":"vf-1","status":"PAID"}`)
	_, ok := a.VerifyWebhook(payload, map[string]string{"X-Vodafone-Signature": "deadbeef"})
	assert.False(t, ok)
}
