// Package retry implements C5: bounded per-provider retries with failover to the next
// candidate adapter, backoff with jitter, and the mandatory ambiguous-outcome status
// probe of L2/S7 before ever retrying a call whose prior outcome is unknown.
package retry

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/breaker"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/errs"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/provider"
)

var tracer = otel.Tracer("github.com/lexure-intelligence/momopay-orchestrator/internal/retry")

// ProviderConfig is one entry of the §6.5 "retry per provider" surface.
type ProviderConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64 // fraction, e.g. 0.1 for ±10%
}

func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2, Jitter: 0.1}
}

// AttemptRecord is appended to transaction.Attempts for every call the engine makes,
// mirroring the source's ProviderTransaction log.
type AttemptRecord struct {
	ProviderTag string
	Outcome     string // "success", "failed", "confirmed_after_status_probe"
	ErrorCode   string
	StartedAt   time.Time
	EndedAt     time.Time
	CallResult  provider.CallResult
}

// Outcome is the engine's terminal result for one execute() call.
type Outcome struct {
	Success  bool
	Result   provider.CallResult
	Provider string
	Attempts []AttemptRecord
	Err      error
}

// Engine implements the C5 contract.
type Engine struct {
	breakers       *breaker.Manager
	configs        map[string]ProviderConfig
	breakerConfigs map[string]breaker.Config
	logger         *zap.Logger
	sleep          func(time.Duration)
}

// New constructs an Engine. breakerConfigs is the §6.5 "circuit breaker per provider"
// surface, keyed by provider tag; a provider with no entry gets
// breaker.DefaultProviderConfig(), exactly like configFor's retry-config fallback.
func New(breakers *breaker.Manager, configs map[string]ProviderConfig, breakerConfigs map[string]breaker.Config, logger *zap.Logger) *Engine {
	return &Engine{breakers: breakers, configs: configs, breakerConfigs: breakerConfigs, logger: logger, sleep: time.Sleep}
}

func (e *Engine) configFor(tag string) ProviderConfig {
	if c, ok := e.configs[tag]; ok {
		return c
	}
	return DefaultProviderConfig()
}

func (e *Engine) breakerConfigFor(tag string) breaker.Config {
	if c, ok := e.breakerConfigs[tag]; ok {
		return c
	}
	return breaker.DefaultProviderConfig()
}

// Execute implements §4.6's algorithm over an ordered provider_list (head = primary,
// as produced by the selector).
func (e *Engine) Execute(ctx context.Context, req provider.InitiateRequest, providers []provider.Adapter) Outcome {
	var attempts []AttemptRecord

providerLoop:
	for _, p := range providers {
		cfg := e.configFor(p.ProviderTag())
		br := e.breakers.Get(p.ProviderTag(), e.breakerConfigFor(p.ProviderTag()))

		var lastProviderTxID string
		for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
			if attempt > 1 && lastProviderTxID != "" {
				// An ambiguous-outcome retry: probe status before committing to
				// another initiate(), per L2/S7. A confirmed status short-circuits
				// the retry entirely.
				if res, probed := e.probe(ctx, p, lastProviderTxID); probed {
					rec := AttemptRecord{
						ProviderTag: p.ProviderTag(),
						Outcome:     "confirmed_after_status_probe",
						StartedAt:   time.Now(),
						EndedAt:     time.Now(),
						CallResult:  res,
					}
					attempts = append(attempts, rec)
					return Outcome{Success: true, Result: res, Provider: p.ProviderTag(), Attempts: attempts}
				}
			}

			attemptCtx, span := tracer.Start(ctx, "retry.adapter_call", trace.WithAttributes(
				attribute.String("provider_tag", p.ProviderTag()),
				attribute.Int("attempt", attempt),
			))

			start := time.Now()
			var result provider.CallResult
			callErr := br.Call(attemptCtx, func(ctx context.Context) error {
				var err error
				result, err = p.Initiate(ctx, req)
				return err
			})
			end := time.Now()
			if callErr != nil {
				span.RecordError(callErr)
			}
			span.End()

			rec := AttemptRecord{ProviderTag: p.ProviderTag(), StartedAt: start, EndedAt: end, CallResult: result}

			if callErr == nil {
				rec.Outcome = "success"
				attempts = append(attempts, rec)
				return Outcome{Success: true, Result: result, Provider: p.ProviderTag(), Attempts: attempts}
			}

			kind := errs.KindOf(callErr)
			rec.Outcome = "failed"
			rec.ErrorCode = kind.String()
			attempts = append(attempts, rec)

			if result.ProviderTxID != "" {
				lastProviderTxID = result.ProviderTxID
			}

			switch kind {
			case errs.CircuitOpen:
				// Skip remaining attempts on this provider; move to the next.
				continue providerLoop
			case errs.ProviderTransient, errs.RateLimited:
				if attempt < cfg.MaxAttempts {
					e.sleep(e.backoff(cfg, attempt, kind))
				}
			default:
				// Non-retryable: fail the whole execute(), do not try other providers
				// per §4.6 step "break out of the outer loop and fail" for
				// non-retryable classification.
				return Outcome{Success: false, Provider: p.ProviderTag(), Attempts: attempts, Err: callErr}
			}
		}
	}

	return Outcome{Success: false, Attempts: attempts, Err: errs.New(errs.ProviderTransient, nil)}
}

// probe implements the mandatory status check of L2/S7: before retrying after an
// ambiguous outcome, confirm the provider did not already commit the prior attempt.
func (e *Engine) probe(ctx context.Context, p provider.Adapter, providerTxID string) (provider.CallResult, bool) {
	res, err := p.Status(ctx, providerTxID)
	if err != nil {
		return provider.CallResult{}, false
	}
	return res, res.Status == provider.StatusConfirmed
}

func (e *Engine) backoff(cfg ProviderConfig, attempt int, kind errs.Kind) time.Duration {
	base := cfg.BaseDelay
	if kind == errs.RateLimited {
		base *= 2 // extended base delay per §4.6
	}

	delay := float64(base) * pow(cfg.Multiplier, float64(attempt-1))
	if max := float64(cfg.MaxDelay); delay > max {
		delay = max
	}

	jitter := delay * cfg.Jitter * (2*rand.Float64() - 1)
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
