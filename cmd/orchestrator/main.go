// Command orchestrator is the dispatch core's single process entrypoint: it wires
// every collaborator (store, rate limiter, idempotency guard, fraud scorer, provider
// registry, circuit breakers, selector, retry engine, sweeper, event bus) through
// go.uber.org/fx, exactly as the teacher's worker/cmd/main.go wires its service graph,
// then exposes §6.1's HTTP surface with gin and starts the background sweeper as an
// fx.Lifecycle hook.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/breaker"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/config"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/eventbus"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/fraud"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/fsm"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/httpapi"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/idempotency"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/orchestrator"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/provider"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/provider/creds"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/ratelimit"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/retry"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/selector"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/store"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/sweeper"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/validation"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/webhook"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
		fx.Provide(
			config.Load,
			newLogger,
			newDatabase,
			newStore,
			newBreakerManager,
			newProviderRegistry,
			newSelector,
			newRetryEngine,
			newRateLimiter,
			newIdempotencyGuard,
			newFraudScorer,
			newFSM,
			newValidator,
			newOrchestrator,
			newSweeper,
			newEventBus,
			newReconciler,
			newHandlers,
		),
		fx.Invoke(startSweeper, startEventBus, runHTTPServer),
		fx.StopTimeout(30*time.Second),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		log.Fatalf("failed to start orchestrator: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Log.Level == "debug" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	return zcfg.Build()
}

func newDatabase(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("database connection established")
	return db, nil
}

func newStore(db *gorm.DB) (store.Store, error) {
	s := store.New(db)
	if err := s.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return s, nil
}

func newBreakerManager(logger *zap.Logger) *breaker.Manager {
	return breaker.NewManager(logger)
}

func newProviderRegistry(cfg *config.Config, logger *zap.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	var vault *creds.VaultClient
	if cfg.Vault.Addr != "" {
		v, err := creds.NewVaultClient(cfg.Vault.Addr, cfg.Vault.Token, logger)
		if err != nil {
			logger.Warn("vault client unavailable, falling back to config-based credentials", zap.Error(err))
		} else {
			vault = v
		}
	}

	for _, p := range cfg.Providers {
		bundle := credentialsFor(vault, p, logger)
		limits := provider.Limits{Min: p.Limits.Min, Max: p.Limits.Max, Daily: p.Limits.Daily}

		switch p.Tag {
		case "mtn":
			registry.Register(provider.NewMTNAdapter(bundle.APIKey, bundle.APISecret, bundle.WebhookSecret, limits, logger))
		case "airteltigo":
			registry.Register(provider.NewAirtelTigoAdapter([]byte(bundle.JWTSigningKey), p.ClientID, bundle.WebhookSecret, limits, logger))
		case "vodafone":
			registry.Register(provider.NewVodafoneAdapter(bundle.ClientID, bundle.ClientSecret, p.TokenURL, bundle.WebhookSecret, limits, logger))
		default:
			logger.Warn("unknown provider tag in configuration, skipping", zap.String("tag", p.Tag))
		}
	}
	return registry, nil
}

func credentialsFor(vault *creds.VaultClient, p config.ProviderConfig, logger *zap.Logger) creds.Bundle {
	if vault != nil {
		bundle, err := vault.Load(p.Tag)
		if err == nil {
			return bundle
		}
		logger.Warn("failed to load provider credentials from vault, using config", zap.String("provider_tag", p.Tag), zap.Error(err))
	}
	return creds.Bundle{
		APIKey: p.APIKey, APISecret: p.APISecret, WebhookSecret: p.WebhookSecret,
		ClientID: p.ClientID, ClientSecret: p.ClientSecret, JWTSigningKey: p.APISecret,
	}
}

func newSelector(registry *provider.Registry, breakers *breaker.Manager, cfg *config.Config, logger *zap.Logger) *selector.Selector {
	profiles := make(map[string]selector.ProviderProfile, len(cfg.Providers))
	for _, p := range cfg.Providers {
		profiles[p.Tag] = selector.ProviderProfile{Priority: p.Priority}
	}
	return selector.New(registry, breakers, profiles, logger)
}

func newRetryEngine(breakers *breaker.Manager, cfg *config.Config, logger *zap.Logger) *retry.Engine {
	configs := make(map[string]retry.ProviderConfig, len(cfg.Retries))
	for tag, r := range cfg.Retries {
		configs[tag] = retry.ProviderConfig{
			MaxAttempts: r.MaxAttempts,
			BaseDelay:   time.Duration(r.BaseDelayMS) * time.Millisecond,
			MaxDelay:    time.Duration(r.MaxDelayMS) * time.Millisecond,
			Multiplier:  r.Multiplier,
			Jitter:      r.JitterPercent,
		}
	}
	return retry.New(breakers, configs, breakerConfigsFromCfg(cfg), logger)
}

// breakerConfigsFromCfg converts the §6.5 "circuit breaker per provider" surface into
// the breaker package's Config shape, keyed by provider tag.
func breakerConfigsFromCfg(cfg *config.Config) map[string]breaker.Config {
	configs := make(map[string]breaker.Config, len(cfg.Breakers))
	for tag, b := range cfg.Breakers {
		configs[tag] = breaker.Config{
			FailureThreshold:      b.FailureThreshold,
			SuccessThreshold:      b.SuccessThreshold,
			Timeout:               time.Duration(b.TimeoutSeconds) * time.Second,
			SlowCallThreshold:     time.Duration(b.SlowCallThresholdMS) * time.Millisecond,
			SlowCallRateThreshold: b.SlowCallRateThreshold,
			MinimumCalls:          b.MinimumCalls,
		}
	}
	return configs
}

func newRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	endpoints := make(map[string]ratelimit.EndpointConfig, len(cfg.RateLimits))
	for name, e := range cfg.RateLimits {
		algo := ratelimit.TokenBucket
		if e.Algorithm == string(ratelimit.SlidingWindow) {
			algo = ratelimit.SlidingWindow
		}
		endpoints[name] = ratelimit.EndpointConfig{
			Algorithm:         algo,
			RequestsPerWindow: e.RequestsPerWindow,
			WindowSeconds:     e.WindowSeconds,
			Burst:             e.Burst,
			BlockDuration:     time.Duration(e.BlockDurationSecs) * time.Second,
		}
	}
	return ratelimit.New(endpoints)
}

func newIdempotencyGuard(s store.Store, cfg *config.Config) *idempotency.Guard {
	return idempotency.New(s, idempotency.Config{
		TTL:               time.Duration(cfg.Idempotency.TTLSeconds) * time.Second,
		ProcessingTimeout: time.Duration(cfg.Idempotency.ProcessingTimeoutSeconds) * time.Second,
	})
}

func newFraudScorer(cfg *config.Config) fraud.Scorer {
	return fraud.ThresholdScorer{
		HighRiskAmount:     cfg.Transaction.MaxAmount / 2,
		CriticalRiskAmount: cfg.Transaction.MaxAmount,
	}
}

func newFSM(s store.Store) *fsm.Machine { return fsm.New(s) }

func newValidator(cfg *config.Config) *validation.Validator {
	return validation.New(cfg.Transaction.MinAmount, cfg.Transaction.MaxAmount)
}

func newOrchestrator(
	s store.Store,
	limiter *ratelimit.Limiter,
	idem *idempotency.Guard,
	scorer fraud.Scorer,
	machine *fsm.Machine,
	sel *selector.Selector,
	retryEngine *retry.Engine,
	registry *provider.Registry,
	validator *validation.Validator,
	cfg *config.Config,
	logger *zap.Logger,
) *orchestrator.Orchestrator {
	limits := orchestrator.Limits{
		MinAmount:  cfg.Transaction.MinAmount,
		MaxAmount:  cfg.Transaction.MaxAmount,
		Timeout:    cfg.Transaction.Timeout(),
		MaxRetries: cfg.Transaction.MaxRetries,
	}
	return orchestrator.New(s, limiter, idem, scorer, machine, sel, retryEngine, registry, validator, limits, logger)
}

func newSweeper(s store.Store, machine *fsm.Machine, idem *idempotency.Guard, logger *zap.Logger) *sweeper.Sweeper {
	return sweeper.New(s, machine, idem, sweeper.DefaultConfig(), logger)
}

func newEventBus(cfg *config.Config, logger *zap.Logger) (*eventbus.RedisBus, error) {
	return eventbus.NewRedisBus(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
}

func startEventBus(lc fx.Lifecycle, bus *eventbus.RedisBus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("closing event bus")
			return bus.Close()
		},
	})
}

func newReconciler(registry *provider.Registry, s store.Store, machine *fsm.Machine, bus *eventbus.RedisBus, logger *zap.Logger) *webhook.Reconciler {
	return webhook.New(registry, s, machine, logger).WithBus(bus)
}

func newHandlers(orch *orchestrator.Orchestrator, reconciler *webhook.Reconciler, logger *zap.Logger) *httpapi.Handlers {
	return httpapi.NewHandlers(orch, reconciler, logger)
}

func startSweeper(lc fx.Lifecycle, sw *sweeper.Sweeper, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting expiry sweeper")
			// The OnStart context only bounds startup; the loop runs until OnStop.
			return sw.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping expiry sweeper")
			return sw.Stop(ctx)
		},
	})
}

func runHTTPServer(lc fx.Lifecycle, handlers *httpapi.Handlers, cfg *config.Config, logger *zap.Logger) {
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.Register(router)

	srv := &http.Server{Addr: cfg.Server.Host + ":" + cfg.Server.Port, Handler: router}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting HTTP server", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
