// Package idempotency implements the C4 contract on top of the store's atomic
// conditional insert, translating store.IdempotencyOutcome into the caller-facing
// decisions of §4.3: fresh, in_progress, completed(response), conflict, timed_out_restarted.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/errs"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/store"
)

// Outcome mirrors the C4 begin() result variant in caller-facing terms.
type Outcome int

const (
	Fresh Outcome = iota
	InProgress
	Completed
	Conflict
	TimedOutRestarted
)

// Config is the §6.5 idempotency configuration surface.
type Config struct {
	TTL               time.Duration
	ProcessingTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{TTL: 24 * time.Hour, ProcessingTimeout: 30 * time.Second}
}

// Guard implements the C4 contract over a store.Store.
type Guard struct {
	store store.Store
	cfg   Config
}

func New(s store.Store, cfg Config) *Guard {
	return &Guard{store: s, cfg: cfg}
}

// HashRequest computes the stable hash of a canonicalised request body used as
// IdempotencyRecord.request_hash.
func HashRequest(canonicalBody any) (string, error) {
	b, err := json.Marshal(canonicalBody)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Begin implements §4.3's begin(key, request_hash, ttl). key may be empty, meaning the
// caller supplied no Idempotency-Key; callers must treat that as always-Fresh (no
// dedup) rather than calling Begin at all — see orchestrator.
func (g *Guard) Begin(ctx context.Context, key string, requestHash string) (Outcome, map[string]any, error) {
	outcome, rec, err := g.store.BeginIdempotency(ctx, key, requestHash, g.cfg.TTL, g.cfg.ProcessingTimeout)
	if err != nil {
		return 0, nil, err
	}

	switch outcome {
	case store.IdemFresh:
		return Fresh, nil, nil
	case store.IdemInProgress:
		return InProgress, nil, errs.New(errs.DuplicateInFlight, nil)
	case store.IdemAlreadyCompleted:
		return Completed, rec.Response.Data(), nil
	case store.IdemConflict:
		return Conflict, nil, errs.New(errs.IdempotencyConflict, nil)
	case store.IdemTimedOutRestarted:
		return TimedOutRestarted, nil, nil
	default:
		return 0, nil, errs.New(errs.Unknown, nil)
	}
}

func (g *Guard) Complete(ctx context.Context, key string, response map[string]any) error {
	return g.store.CompleteIdempotency(ctx, key, response)
}

func (g *Guard) Fail(ctx context.Context, key string, response map[string]any) error {
	return g.store.FailIdempotency(ctx, key, response)
}

// Sweep removes expired records out of band, matching §4.3's "expired records are
// swept out of band" — invoked periodically by internal/sweeper.
func (g *Guard) Sweep(ctx context.Context, now time.Time, limit int) (int64, error) {
	return g.store.SweepExpiredIdempotency(ctx, now, limit)
}
