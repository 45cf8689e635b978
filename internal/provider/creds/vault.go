// Package creds supplies provider adapter credentials from HashiCorp Vault, adapted
// from the teacher's VaultClient (api/internal/services/vault_client.go): same
// Logical().Read(path) pattern, generalized from Stripe/database/Redis secret shapes to
// a single per-provider credential bundle addressed at "momopay/<provider_tag>/credentials".
package creds

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// Bundle is the credential shape every canonical adapter's authenticate() consumes.
type Bundle struct {
	APIKey        string
	APISecret     string
	WebhookSecret string
	ClientID      string // OAuth2-style providers
	ClientSecret  string
	JWTSigningKey string // JWT-bearer-auth providers
}

// VaultClient fetches per-provider credential bundles from Vault.
type VaultClient struct {
	client *api.Client
	logger *zap.Logger
}

func NewVaultClient(addr, token string, logger *zap.Logger) (*VaultClient, error) {
	cfg := &api.Config{Address: addr, HttpClient: &http.Client{Timeout: 30 * time.Second}}
	c, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creds: vault client: %w", err)
	}
	c.SetToken(token)
	return &VaultClient{client: c, logger: logger}, nil
}

// Load reads "momopay/<providerTag>/credentials" and assembles a Bundle, the way
// GetStripeSecrets assembled a map from a single Vault path.
func (v *VaultClient) Load(providerTag string) (Bundle, error) {
	path := fmt.Sprintf("momopay/%s/credentials", providerTag)
	secret, err := v.client.Logical().Read(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("creds: read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return Bundle{}, fmt.Errorf("creds: no secret data at %s", path)
	}

	get := func(key string) string {
		if s, ok := secret.Data[key].(string); ok {
			return s
		}
		return ""
	}

	return Bundle{
		APIKey:        get("api_key"),
		APISecret:     get("api_secret"),
		WebhookSecret: get("webhook_secret"),
		ClientID:      get("client_id"),
		ClientSecret:  get("client_secret"),
		JWTSigningKey: get("jwt_signing_key"),
	}, nil
}

// HealthCheck mirrors the teacher's VaultClient.HealthCheck.
func (v *VaultClient) HealthCheck() error {
	if _, err := v.client.Sys().Health(); err != nil {
		return fmt.Errorf("creds: vault health check failed: %w", err)
	}
	return nil
}

// RenewToken mirrors the teacher's VaultClient.RenewToken, renewing the client's own
// Vault token lease. cmd/orchestrator does not call it, so the lease is not renewed
// automatically.
func (v *VaultClient) RenewToken() error {
	if _, err := v.client.Auth().Token().RenewSelf(0); err != nil {
		return fmt.Errorf("creds: renew vault token: %w", err)
	}
	return nil
}
