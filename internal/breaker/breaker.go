// Package breaker implements the per-provider circuit breaker of C2: a three-state
// machine (closed/open/half_open) wrapping exactly one adapter call. Ported from the
// source's CircuitBreaker/CircuitBreakerManager (services/circuit_breaker.py): same
// dual trigger (consecutive-failure count OR slow-call rate over a trailing window of
// minimum_calls), same half-open-reopens-on-any-failure rule, same bounded call-time
// history. The lock is held only around state checks and counter updates, never across
// the wrapped call itself.
package breaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/errs"
)

// State is one of the three breaker states of §4.5.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config mirrors the source's CircuitBreakerConfig dataclass and the §6.5 configuration
// surface for "circuit breaker per provider".
type Config struct {
	FailureThreshold     int
	SuccessThreshold     int
	Timeout              time.Duration
	SlowCallThreshold    time.Duration
	SlowCallRateThreshold float64
	MinimumCalls         int
}

// DefaultProviderConfig mirrors get_provider_circuit_breaker()'s defaults.
func DefaultProviderConfig() Config {
	return Config{
		FailureThreshold:      3,
		SuccessThreshold:      2,
		Timeout:               30 * time.Second,
		SlowCallThreshold:     10 * time.Second,
		SlowCallRateThreshold: 0.6,
		MinimumCalls:          5,
	}
}

// DefaultFraudConfig mirrors get_fraud_detection_circuit_breaker()'s defaults. Kept for
// parity with the source even though the fraud scorer in this core is an external
// collaborator (§6.2) that callers may choose to wrap in a breaker of their own.
func DefaultFraudConfig() Config {
	return Config{
		FailureThreshold:      5,
		SuccessThreshold:      3,
		Timeout:               60 * time.Second,
		SlowCallThreshold:     3 * time.Second,
		SlowCallRateThreshold: 0.7,
		MinimumCalls:          10,
	}
}

const callHistoryCap = 100

// stats mirrors CircuitBreakerStats.
type stats struct {
	totalCalls           int
	successfulCalls      int
	failedCalls          int
	slowCalls            int
	consecutiveFailures  int
	consecutiveSuccesses int
	callTimes            []time.Duration
}

// Breaker wraps a single provider's calls. Safe for concurrent use by many goroutines.
type Breaker struct {
	name            string
	cfg             Config
	logger          *zap.Logger
	mu              sync.Mutex
	state           State
	stats           stats
	lastStateChange time.Time
}

// New constructs a breaker in the closed state, matching CircuitBreaker.__init__.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	return &Breaker{
		name:            name,
		cfg:             cfg,
		logger:          logger,
		state:           Closed,
		lastStateChange: time.Now(),
	}
}

// State returns the current breaker state under lock.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the breaker's live consecutive-failure count, the same
// live counter the source's health_status["error_count"] exposes to
// _select_optimal_provider's health_score term.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats.consecutiveFailures
}

// Call executes fn with circuit breaker protection. Returns errs.CircuitOpen without
// invoking fn if the circuit is open and the timeout has not elapsed.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	b.mu.Lock()
	if err != nil {
		b.recordFailure(duration)
	} else {
		b.recordSuccess(duration)
	}
	b.mu.Unlock()

	return err
}

// admit checks and, if needed, flips open->half_open; it does not hold the lock across
// the caller's subsequent work.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if time.Since(b.lastStateChange) >= b.cfg.Timeout {
			b.state = HalfOpen
			b.lastStateChange = time.Now()
			b.logger.Info("circuit breaker half-open probe", zap.String("breaker", b.name))
		} else {
			return errs.New(errs.CircuitOpen, nil).WithProvider(b.name)
		}
	}
	return nil
}

func (b *Breaker) recordSuccess(d time.Duration) {
	b.stats.totalCalls++
	b.stats.successfulCalls++
	b.stats.consecutiveSuccesses++
	b.stats.consecutiveFailures = 0
	b.pushCallTime(d)

	if b.state == HalfOpen && b.stats.consecutiveSuccesses >= b.cfg.SuccessThreshold {
		b.state = Closed
		b.lastStateChange = time.Now()
		b.stats = stats{}
		b.logger.Info("circuit breaker closed after recovery", zap.String("breaker", b.name))
	} else if b.state == Closed && b.slowCallRateExceeded() {
		b.state = Open
		b.lastStateChange = time.Now()
	}
}

func (b *Breaker) recordFailure(d time.Duration) {
	b.stats.totalCalls++
	b.stats.failedCalls++
	b.stats.consecutiveFailures++
	b.stats.consecutiveSuccesses = 0
	b.pushCallTime(d)

	switch b.state {
	case Closed:
		if b.shouldOpen() {
			b.state = Open
			b.lastStateChange = time.Now()
			b.logger.Warn("circuit breaker opened",
				zap.String("breaker", b.name),
				zap.Int("consecutive_failures", b.stats.consecutiveFailures))
		}
	case HalfOpen:
		// Any failure on the probe reopens immediately; the probe is not retried.
		b.state = Open
		b.lastStateChange = time.Now()
		b.logger.Warn("circuit breaker reopened after failed probe", zap.String("breaker", b.name))
	}
}

func (b *Breaker) pushCallTime(d time.Duration) {
	if d > b.cfg.SlowCallThreshold {
		b.stats.slowCalls++
	}
	b.stats.callTimes = append(b.stats.callTimes, d)
	if len(b.stats.callTimes) > callHistoryCap {
		b.stats.callTimes = b.stats.callTimes[1:]
	}
}

func (b *Breaker) shouldOpen() bool {
	if b.stats.consecutiveFailures >= b.cfg.FailureThreshold {
		return true
	}
	return b.slowCallRateExceeded()
}

// slowCallRateExceeded reports whether the slow-call fraction over the last
// MinimumCalls calls has reached SlowCallRateThreshold.
func (b *Breaker) slowCallRateExceeded() bool {
	if b.stats.totalCalls < b.cfg.MinimumCalls {
		return false
	}

	recent := b.stats.callTimes
	if len(recent) > b.cfg.MinimumCalls {
		recent = recent[len(recent)-b.cfg.MinimumCalls:]
	}
	if len(recent) >= b.cfg.MinimumCalls {
		slow := 0
		for _, t := range recent {
			if t > b.cfg.SlowCallThreshold {
				slow++
			}
		}
		if float64(slow)/float64(len(recent)) >= b.cfg.SlowCallRateThreshold {
			b.logger.Warn("circuit breaker opening due to slow calls", zap.String("breaker", b.name))
			return true
		}
	}
	return false
}

// Reset manually resets the breaker to closed with fresh stats.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.stats = stats{}
	b.lastStateChange = time.Now()
}

// Manager registers one Breaker per provider tag, mirroring CircuitBreakerManager.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), logger: logger}
}

// Get returns or creates the breaker for tag, using cfg only on first creation.
func (m *Manager) Get(tag string, cfg Config) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[tag]; ok {
		return b
	}
	b := New(tag, cfg, m.logger)
	m.breakers[tag] = b
	return b
}

// States returns a snapshot of every registered breaker's state, used by the selector
// to filter out open providers.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.breakers))
	for tag, b := range m.breakers {
		out[tag] = b.State()
	}
	return out
}

// ConsecutiveFailures returns the live consecutive-failure count for tag, or 0 if no
// breaker has been registered for it yet (a provider never called is healthy by
// definition). Used by the selector's health-score tiebreak instead of a static,
// never-updated profile field.
func (m *Manager) ConsecutiveFailures(tag string) int {
	m.mu.Lock()
	b, ok := m.breakers[tag]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return b.ConsecutiveFailures()
}

func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.breakers {
		b.Reset()
	}
}
