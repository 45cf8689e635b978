package orchestrator

import "sync"

// Metrics generalizes the teacher's RecoveryOrchestrationService.GetRecoveryMetrics
// into dispatch-pipeline counters. Queryable in-process rather than emitted to a
// backend, per spec.md §1's "Metrics backends and log sinks... are external
// collaborators" — transport belongs outside this package.
type Metrics struct {
	mu sync.Mutex

	created             int64
	rateLimited         int64
	idempotencyHits     int64
	idempotencyConflict int64
	fraudRejected       map[string]int64
	dispatchSucceeded   map[string]int64
	dispatchFailed      map[string]int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		fraudRejected:     make(map[string]int64),
		dispatchSucceeded: make(map[string]int64),
		dispatchFailed:    make(map[string]int64),
	}
}

func (m *Metrics) IncCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *Metrics) IncRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited++
}

func (m *Metrics) IncIdempotencyConflict(isConflict bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isConflict {
		m.idempotencyConflict++
	} else {
		m.idempotencyHits++
	}
}

func (m *Metrics) IncFraudRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fraudRejected[reason]++
}

func (m *Metrics) IncDispatchSucceeded(providerTag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchSucceeded[providerTag]++
}

func (m *Metrics) IncDispatchFailed(providerTag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchFailed[providerTag]++
}

// Snapshot is a point-in-time copy of the counters, safe to read without holding m's lock.
type Snapshot struct {
	Created             int64
	RateLimited         int64
	IdempotencyHits     int64
	IdempotencyConflict int64
	FraudRejected       map[string]int64
	DispatchSucceeded   map[string]int64
	DispatchFailed      map[string]int64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Created:             m.created,
		RateLimited:         m.rateLimited,
		IdempotencyHits:     m.idempotencyHits,
		IdempotencyConflict: m.idempotencyConflict,
		FraudRejected:       copyMap(m.fraudRejected),
		DispatchSucceeded:   copyMap(m.dispatchSucceeded),
		DispatchFailed:      copyMap(m.dispatchFailed),
	}
}

func copyMap(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
