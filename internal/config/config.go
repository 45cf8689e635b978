// Package config loads the §6.5 configuration surface via github.com/spf13/viper,
// adapted from the teacher's worker/internal/config/config.go: typed mapstructure
// config struct, viper.SetDefault for the server, database, redis, log, transaction,
// idempotency, payments_initiate rate-limit and per-provider circuit-breaker keys
// (retries and providers have no defaults), viper.BindEnv for the
// operationally-overridable ones, optional YAML file load. The teacher's
// print-statement debug trail is dropped and the resolved config is not logged; Load
// stays logger-free so it can run before logging is constructed, exactly as the
// teacher's config.Load() does.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// TransactionConfig is the §6.5 "transaction" surface.
type TransactionConfig struct {
	MinAmount      int64 `mapstructure:"min_amount"` // minor units
	MaxAmount      int64 `mapstructure:"max_amount"`
	TimeoutSeconds int   `mapstructure:"timeout_seconds"`
	MaxRetries     int   `mapstructure:"max_retries"`
}

func (t TransactionConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// RateLimitEndpointConfig is one entry of the §6.5 "rate limits per endpoint" surface.
type RateLimitEndpointConfig struct {
	Algorithm         string `mapstructure:"algorithm"` // "token_bucket" | "sliding_window"
	RequestsPerWindow int    `mapstructure:"requests_per_window"`
	WindowSeconds     int    `mapstructure:"window_seconds"`
	Burst             int    `mapstructure:"burst"`
	BlockDurationSecs int    `mapstructure:"block_duration"`
}

// CircuitBreakerConfig is the §6.5 "circuit breaker per provider" surface.
type CircuitBreakerConfig struct {
	FailureThreshold      int     `mapstructure:"failure_threshold"`
	SuccessThreshold      int     `mapstructure:"success_threshold"`
	TimeoutSeconds        int     `mapstructure:"timeout_seconds"`
	SlowCallThresholdMS   int     `mapstructure:"slow_call_threshold_ms"`
	SlowCallRateThreshold float64 `mapstructure:"slow_call_rate_threshold"`
	MinimumCalls          int     `mapstructure:"minimum_calls"`
}

// RetryConfig is the §6.5 "retry per provider" surface.
type RetryConfig struct {
	MaxAttempts   int     `mapstructure:"max_attempts"`
	BaseDelayMS   int     `mapstructure:"base_delay_ms"`
	MaxDelayMS    int     `mapstructure:"max_delay_ms"`
	Multiplier    float64 `mapstructure:"multiplier"`
	JitterPercent float64 `mapstructure:"jitter"`
}

// IdempotencyConfig is the §6.5 "idempotency" surface.
type IdempotencyConfig struct {
	TTLSeconds               int `mapstructure:"ttl_seconds"`
	ProcessingTimeoutSeconds int `mapstructure:"processing_timeout_seconds"`
}

// ProviderLimits mirrors provider.Limits for config-file representation.
type ProviderLimits struct {
	Min   int64 `mapstructure:"min"`
	Max   int64 `mapstructure:"max"`
	Daily int64 `mapstructure:"daily"`
}

// ProviderConfig is one entry of the §6.5 "providers" list.
type ProviderConfig struct {
	Tag           string         `mapstructure:"tag"`
	Sandbox       bool           `mapstructure:"sandbox"`
	PhonePrefixes []string       `mapstructure:"phone_prefixes"`
	Limits        ProviderLimits `mapstructure:"limits"`
	Priority      int            `mapstructure:"priority"`
	APIKey        string         `mapstructure:"api_key"`
	APISecret     string         `mapstructure:"api_secret"`
	WebhookSecret string         `mapstructure:"webhook_secret"`
	ClientID      string         `mapstructure:"client_id"`
	ClientSecret  string         `mapstructure:"client_secret"`
	TokenURL      string         `mapstructure:"token_url"`
}

// ServerConfig is the HTTP glue's own surface, outside the §6.5 dispatch-core list but
// needed to run cmd/orchestrator, mirrored on the teacher's ServerConfig.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// DatabaseConfig mirrors the teacher's DatabaseConfig; the store package only needs a DSN.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

// RedisConfig configures the event bus.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// VaultConfig configures provider credential loading.
type VaultConfig struct {
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token"`
}

// LogConfig mirrors the teacher's LogConfig.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the full §6.5 surface plus the ambient server/database/redis/vault/log
// sections needed to run the binary.
type Config struct {
	Server      ServerConfig                       `mapstructure:"server"`
	Database    DatabaseConfig                     `mapstructure:"database"`
	Redis       RedisConfig                         `mapstructure:"redis"`
	Vault       VaultConfig                         `mapstructure:"vault"`
	Log         LogConfig                           `mapstructure:"log"`
	Transaction TransactionConfig                   `mapstructure:"transaction"`
	RateLimits  map[string]RateLimitEndpointConfig  `mapstructure:"rate_limits"`
	Breakers    map[string]CircuitBreakerConfig     `mapstructure:"circuit_breakers"`
	Retries     map[string]RetryConfig              `mapstructure:"retries"`
	Idempotency IdempotencyConfig                   `mapstructure:"idempotency"`
	Providers   []ProviderConfig                    `mapstructure:"providers"`
}

// Load sets the defaults listed in the package doc, binds the operationally-overridable environment
// variables, and reads an optional config file, mirroring the teacher's config.Load()
// shape without its stray debug prints.
func Load() (*Config, error) {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.host", "0.0.0.0")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "momopay")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("log.level", "info")

	viper.SetDefault("transaction.min_amount", 100)       // 1.00 in minor units
	viper.SetDefault("transaction.max_amount", 5000000)   // 50,000.00
	viper.SetDefault("transaction.timeout_seconds", 900)  // 15 minutes
	viper.SetDefault("transaction.max_retries", 3)

	viper.SetDefault("idempotency.ttl_seconds", 24*60*60)
	viper.SetDefault("idempotency.processing_timeout_seconds", 30)

	viper.SetDefault("rate_limits.payments_initiate.algorithm", "token_bucket")
	viper.SetDefault("rate_limits.payments_initiate.requests_per_window", 10)
	viper.SetDefault("rate_limits.payments_initiate.window_seconds", 60)
	viper.SetDefault("rate_limits.payments_initiate.burst", 3)
	viper.SetDefault("rate_limits.payments_initiate.block_duration", 60)

	for _, tag := range []string{"mtn", "airteltigo", "vodafone"} {
		viper.SetDefault("circuit_breakers."+tag+".failure_threshold", 3)
		viper.SetDefault("circuit_breakers."+tag+".success_threshold", 2)
		viper.SetDefault("circuit_breakers."+tag+".timeout_seconds", 30)
		viper.SetDefault("circuit_breakers."+tag+".slow_call_threshold_ms", 10000)
		viper.SetDefault("circuit_breakers."+tag+".slow_call_rate_threshold", 0.6)
		viper.SetDefault("circuit_breakers."+tag+".minimum_calls", 5)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	envBindings := map[string]string{
		"server.port":       "SERVER_PORT",
		"server.host":       "SERVER_HOST",
		"database.host":     "DATABASE_HOST",
		"database.port":     "DATABASE_PORT",
		"database.name":     "DATABASE_NAME",
		"database.user":     "DATABASE_USER",
		"database.password": "DATABASE_PASSWORD",
		"database.ssl_mode": "DATABASE_SSL_MODE",
		"redis.addr":        "REDIS_ADDR",
		"redis.password":    "REDIS_PASSWORD",
		"vault.addr":        "VAULT_ADDR",
		"vault.token":       "VAULT_TOKEN",
		"log.level":         "LOG_LEVEL",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
