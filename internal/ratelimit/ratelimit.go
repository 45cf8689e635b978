// Package ratelimit implements C3: per-(key, endpoint) admission control. It
// generalizes the teacher's RateLimiter (api/internal/mediators/rate_limiter.go), which
// hand-rolled token refill math for a single provider, into per-key instances built on
// golang.org/x/time/rate for the token-bucket algorithm, plus a sliding-window
// alternative and a shared block-list, selected per endpoint per §4.2.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/errs"
)

// Algorithm selects which of the two interchangeable admission strategies an endpoint uses.
type Algorithm string

const (
	TokenBucket   Algorithm = "token_bucket"
	SlidingWindow Algorithm = "sliding_window"
)

// EndpointConfig is one entry of the §6.5 "rate limits per endpoint" surface.
type EndpointConfig struct {
	Algorithm         Algorithm
	RequestsPerWindow int
	WindowSeconds     int
	Burst             int
	BlockDuration      time.Duration
}

// Result is the C3 check() contract return shape.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type bucketState struct {
	limiter  *rate.Limiter
	window   []time.Time
	blockedUntil time.Time
}

// Limiter implements C3 across every (key, endpoint) pair the core sees. One Limiter
// instance is shared process-wide and constructed once at startup, like the teacher's
// single RateLimiter per mediator.
type Limiter struct {
	mu        sync.Mutex
	endpoints map[string]EndpointConfig
	states    map[string]*bucketState // key: endpoint + "\x00" + key
}

func New(endpoints map[string]EndpointConfig) *Limiter {
	return &Limiter{
		endpoints: endpoints,
		states:    make(map[string]*bucketState),
	}
}

func stateKey(key, endpoint string) string { return endpoint + "\x00" + key }

// Check implements the C3 contract: check(key, endpoint) -> {allowed, remaining, reset_at, retry_after?}.
func (l *Limiter) Check(key, endpoint string) (Result, error) {
	cfg, ok := l.endpoints[endpoint]
	if !ok {
		// An endpoint with no configured limit is unrestricted.
		return Result{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sk := stateKey(key, endpoint)
	st, ok := l.states[sk]
	if !ok {
		st = &bucketState{}
		if cfg.Algorithm == TokenBucket {
			ratePerSec := rate.Limit(float64(cfg.RequestsPerWindow) / float64(cfg.WindowSeconds))
			st.limiter = rate.NewLimiter(ratePerSec, cfg.RequestsPerWindow+cfg.Burst)
		}
		l.states[sk] = st
	}

	now := time.Now()
	if now.Before(st.blockedUntil) {
		retryAfter := st.blockedUntil.Sub(now)
		return Result{Allowed: false, RetryAfter: retryAfter, ResetAt: st.blockedUntil}, nil
	}

	var allowed bool
	var remaining int
	var resetAt time.Time

	switch cfg.Algorithm {
	case SlidingWindow:
		allowed, remaining, resetAt = checkSlidingWindow(st, now, cfg)
	default:
		allowed, remaining, resetAt = checkTokenBucket(st, cfg)
	}

	if !allowed {
		st.blockedUntil = now.Add(cfg.BlockDuration)
		return Result{Allowed: false, RetryAfter: cfg.BlockDuration, ResetAt: st.blockedUntil}, nil
	}

	return Result{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

func checkTokenBucket(st *bucketState, cfg EndpointConfig) (allowed bool, remaining int, resetAt time.Time) {
	allowed = st.limiter.Allow()
	remaining = int(st.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	resetAt = time.Now().Add(time.Duration(float64(time.Second) / float64(st.limiter.Limit())))
	return
}

func checkSlidingWindow(st *bucketState, now time.Time, cfg EndpointConfig) (allowed bool, remaining int, resetAt time.Time) {
	windowStart := now.Add(-time.Duration(cfg.WindowSeconds) * time.Second)

	kept := st.window[:0]
	for _, t := range st.window {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	st.window = kept

	limit := cfg.RequestsPerWindow + cfg.Burst
	if len(st.window) >= limit {
		resetAt = st.window[0].Add(time.Duration(cfg.WindowSeconds) * time.Second)
		return false, 0, resetAt
	}

	st.window = append(st.window, now)
	remaining = limit - len(st.window)
	resetAt = now.Add(time.Duration(cfg.WindowSeconds) * time.Second)
	return true, remaining, resetAt
}

// Require wraps Check, translating a denial into the canonical RateLimited error used
// by the orchestrator's step 2.
func (l *Limiter) Require(key, endpoint string) error {
	res, err := l.Check(key, endpoint)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return errs.New(errs.RateLimited, nil).WithRetryAfter(res.RetryAfter)
	}
	return nil
}
