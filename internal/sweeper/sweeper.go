// Package sweeper implements the §5 background sweeper: a periodic task that moves
// timed-out pending/processing transactions to expired (B4) and, out of band, removes
// expired idempotency records (§4.3's "expired records are swept out of band").
// Dispatch of individual expiry transitions is bounded by a gammazero/workerpool pool
// the same way the wider example pack uses it to cap concurrent background work,
// rather than spawning one unbounded goroutine per scan batch.
package sweeper

import (
	"context"
	"time"

	"github.com/gammazero/workerpool"
	"go.uber.org/zap"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/fsm"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/idempotency"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/models"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/store"
)

// Config controls the sweeper's cadence and batch sizes.
type Config struct {
	Interval           time.Duration
	ScanLimit          int
	IdempotencySweepLimit int
	Concurrency        int
}

func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second, ScanLimit: 200, IdempotencySweepLimit: 500, Concurrency: 8}
}

// Sweeper drives §5's "background sweeper" obligation on a ticker, guarded so each
// expiry is still just a normal fsm.Machine.Apply conditional transition — no
// transaction is ever mutated outside the §4.7 rules even from this background path.
type Sweeper struct {
	store  store.Store
	fsm    *fsm.Machine
	idem   *idempotency.Guard
	cfg    Config
	logger *zap.Logger

	stop chan struct{}
	done chan struct{}
}

func New(s store.Store, machine *fsm.Machine, idem *idempotency.Guard, cfg Config, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:  s,
		fsm:    machine,
		idem:   idem,
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the sweeper loop until Stop is called or ctx is cancelled, matching the
// fx.Lifecycle.OnStart contract the orchestrator binary wires it through.
func (s *Sweeper) Start(ctx context.Context) error {
	go s.loop(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it to finish, the fx.Lifecycle.OnStop half.
func (s *Sweeper) Stop(ctx context.Context) error {
	close(s.stop)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce performs one sweep pass: expires stale transactions and, out of band,
// deletes expired idempotency records.
func (s *Sweeper) runOnce(ctx context.Context) {
	now := time.Now()

	expirable, err := s.store.ScanExpirable(ctx, now, s.cfg.ScanLimit)
	if err != nil {
		s.logger.Warn("sweeper: scan expirable failed", zap.Error(err))
	} else if len(expirable) > 0 {
		pool := workerpool.New(s.cfg.Concurrency)
		for i := range expirable {
			tx := expirable[i]
			pool.Submit(func() { s.expireOne(ctx, tx) })
		}
		pool.StopWait()
	}

	if s.idem != nil {
		if n, err := s.idem.Sweep(ctx, now, s.cfg.IdempotencySweepLimit); err != nil {
			s.logger.Warn("sweeper: idempotency sweep failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("sweeper: idempotency records swept", zap.Int64("count", n))
		}
	}
}

func (s *Sweeper) expireOne(ctx context.Context, tx models.Transaction) {
	err := s.fsm.Apply(ctx, tx.ID, tx.Status, models.StatusExpired, "expired", nil,
		map[string]any{"expires_at": tx.ExpiresAt})
	if err != nil {
		// A ConcurrentTransition here just means a synchronous/webhook path beat the
		// sweeper to a terminal state between the scan and this update; that's the
		// expected §5 "first valid transition wins" outcome, not a fault.
		s.logger.Debug("sweeper: expiry transition skipped", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
		return
	}
	s.logger.Info("sweeper: transaction expired", zap.String("transaction_id", tx.ID.String()))
}
