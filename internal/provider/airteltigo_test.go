package provider_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/provider"
)

func TestAirtelTigoSupportsPhone(t *testing.T) {
	a := provider.NewAirtelTigoAdapter([]byte("signingkey"), "svc-1", "whsec", provider.Limits{Max: 100000}, zap.NewNop())

	cases := []struct {
		phone string
		want  bool
	}{
		{"+233261234567", true},  // 26
		{"+233271234567", true},  // 27
		{"+233561234567", true},  // 56
		{"+233571234567", true},  // 57
		{"+233241234567", false}, // mtn prefix
		{"+233201234567", false}, // vodafone prefix
	}
	for _, c := range cases {
		assert.Equal(t, c.want, a.SupportsPhone(c.phone), "phone %s", c.phone)
	}
}

func TestAirtelTigoMapStatus(t *testing.T) {
	a := provider.NewAirtelTigoAdapter([]byte("signingkey"), "svc-1", "whsec", provider.Limits{}, zap.NewNop())

	assert.Equal(t, provider.StatusConfirmed, a.MapStatus("success"))
	assert.Equal(t, provider.StatusConfirmed, a.MapStatus("COMPLETED"))
	assert.Equal(t, provider.StatusFailed, a.MapStatus("failed"))
	assert.Equal(t, provider.StatusFailed, a.MapStatus("DECLINED"))
	assert.Equal(t, provider.StatusPending, a.MapStatus("queued"))
	assert.Equal(t, provider.StatusProcessing, a.MapStatus("in_review"))
}

func TestAirtelTigoVerifyWebhookValidSignature(t *testing.T) {
	a := provider.NewAirtelTigoAdapter([]byte("signingkey"), "svc-1", "whsec", provider.Limits{}, zap.NewNop())

	body := map[string]string{
		"txn_id":       "at-1",
		"merchant_ref": "ext-1",
		"state":        "success",
	}
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	headers := map[string]string{"X-AirtelTigo-Signature": signHMAC("whsec", payload)}

	event, ok := a.VerifyWebhook(payload, headers)
	require.True(t, ok)
	assert.Equal(t, "at-1", event.ProviderTxID)
	assert.Equal(t, "ext-1", event.ProviderReference)
	assert.Equal(t, provider.StatusConfirmed, event.Status)
}

func TestAirtelTigoVerifyWebhookRejectsBadSignature(t *testing.T) {
	a := provider.NewAirtelTigoAdapter([]byte("signingkey"), "svc-1", "whsec", provider.Limits{}, zap.NewNop())

	payload := []byte(`{"txn_id":"at-1","state":"success"}`)
	_, ok := a.VerifyWebhook(payload, map[string]string{"X-AirtelTigo-Signature": "deadbeef"})
	assert.False(t, ok)
}
