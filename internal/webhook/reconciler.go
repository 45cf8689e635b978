// Package webhook implements C8: ingesting provider callbacks, validating them, and
// driving the transaction state machine. Failures after signature verification are
// persisted to a dead-letter table and still acknowledged 2xx, modeled on the
// teacher's WebhookService.logToDLQ (api/internal/services/webhook_service.go).
package webhook

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/eventbus"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/fsm"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/models"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/provider"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/store"
)

// transitionsTopic is where durable transitions get fanned out for interested
// subscribers, mirroring the teacher's RedisEventBus topic convention.
const transitionsTopic = "momopay.transaction_transitions"

// Outcome describes what the reconciler did with one callback, for logging/metrics.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeNoOpReplay     Outcome = "no_op_replay"
	OutcomePostTerminal   Outcome = "post_terminal"
	OutcomeInvalidSig     Outcome = "invalid_signature"
	OutcomeUnknownTx      Outcome = "unknown_transaction"
	OutcomeDeadLettered   Outcome = "dead_lettered"
)

// Reconciler implements §4.8's six-step algorithm.
type Reconciler struct {
	registry *provider.Registry
	store    store.Store
	fsm      *fsm.Machine
	bus      eventbus.Bus
	logger   *zap.Logger
}

func New(registry *provider.Registry, s store.Store, machine *fsm.Machine, logger *zap.Logger) *Reconciler {
	return &Reconciler{registry: registry, store: s, fsm: machine, logger: logger}
}

// WithBus attaches an event bus the reconciler fans durable transitions out to; nil is
// a valid no-op bus (tests and single-process deployments need not wire one).
func (r *Reconciler) WithBus(bus eventbus.Bus) *Reconciler {
	r.bus = bus
	return r
}

func (r *Reconciler) publish(ctx context.Context, tx *models.Transaction, target models.Status) {
	if r.bus == nil {
		return
	}
	event := map[string]any{
		"transaction_id": tx.ID.String(),
		"user_id":        tx.UserID,
		"status":         string(target),
		"provider_tag":   tx.PrimaryProvider,
	}
	if err := r.bus.Publish(ctx, transitionsTopic, event); err != nil {
		r.logger.Warn("failed to publish transaction transition", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
	}
}

// canonicalTarget maps a provider's mapped status onto the transaction-level target
// status the FSM understands. Confirmed/Failed pass through directly; Processing maps
// to the processing state; Pending webhooks are unusual (the transaction is normally
// already pending) and are reported as unrecognised, so Handle dead-letters them.
func canonicalTarget(s provider.Status) (models.Status, bool) {
	switch s {
	case provider.StatusConfirmed:
		return models.StatusConfirmed, true
	case provider.StatusFailed:
		return models.StatusFailed, true
	case provider.StatusProcessing:
		return models.StatusProcessing, true
	default:
		return "", false
	}
}

// Handle implements §4.8 for one provider route. routeTag identifies which adapter the
// callback is addressed to (e.g. the `{provider_tag}` path segment). Handle returns no
// acknowledgement flag: the HTTP layer answers 2xx for every Outcome, including an
// invalid signature (dropped and logged) and a durably dead-lettered payload, per
// §4.8 step 6.
func (r *Reconciler) Handle(ctx context.Context, routeTag string, payload []byte, headers map[string]string) (Outcome, error) {
	adapter, ok := r.registry.Get(routeTag)
	if !ok {
		r.logger.Warn("webhook for unknown provider route", zap.String("route", routeTag))
		return OutcomeUnknownTx, nil
	}

	event, ok := adapter.VerifyWebhook(payload, headers)
	if !ok {
		r.logger.Warn("webhook signature invalid", zap.String("provider_tag", routeTag))
		return OutcomeInvalidSig, nil
	}

	tx, err := r.store.GetTransactionByProviderRef(ctx, routeTag, event.ProviderTxID)
	if err != nil {
		r.logger.Warn("webhook references unknown transaction",
			zap.String("provider_tag", routeTag), zap.String("provider_tx_id", event.ProviderTxID))
		return OutcomeUnknownTx, nil
	}

	target, recognized := canonicalTarget(event.Status)
	if !recognized {
		return r.deadLetter(ctx, routeTag, payload, "unrecognized canonical status from adapter")
	}

	if target == tx.Status {
		_ = r.fsm.NoOpReplay(ctx, r.logger, tx.ID, tx.Status, map[string]any{"provider_tx_id": event.ProviderTxID})
		return OutcomeNoOpReplay, nil
	}

	if tx.Status.Terminal() {
		// Late callback on an already-terminal transaction (S6, I6): never reverts,
		// always just an informational audit trail.
		if tx.Status == models.StatusCancelled && target == models.StatusConfirmed {
			if err := r.fsm.PostCancelConfirmation(ctx, tx.ID, routeTag); err != nil {
				return r.deadLetter(ctx, routeTag, payload, err.Error())
			}
		} else if err := r.fsm.PostTerminalCallback(ctx, tx.ID, tx.Status, target, routeTag); err != nil {
			return r.deadLetter(ctx, routeTag, payload, err.Error())
		}
		return OutcomePostTerminal, nil
	}

	mutate := func(t *models.Transaction) {
		if target == models.StatusConfirmed {
			now := time.Now()
			t.ConfirmedAt = &now
		}
	}

	err = r.fsm.Apply(ctx, tx.ID, tx.Status, target, "webhook_confirmed", mutate, map[string]any{
		"provider_tx_id":     event.ProviderTxID,
		"provider_reference": event.ProviderReference,
	})
	if err != nil {
		// A ConcurrentTransition here means a synchronous path already moved the
		// transaction; §5 says "the first valid transition wins" and the second
		// observer no-ops or logs. Re-read and decide rather than failing the webhook.
		fresh, getErr := r.store.GetTransaction(ctx, tx.ID)
		if getErr != nil {
			return r.deadLetter(ctx, routeTag, payload, err.Error())
		}
		if fresh.Status == target {
			return OutcomeNoOpReplay, nil
		}
		r.logger.Info("webhook observed concurrent transition, provider inconsistency",
			zap.String("transaction_id", tx.ID.String()), zap.String("target", string(target)))
		return OutcomePostTerminal, nil
	}

	r.publish(ctx, tx, target)
	return OutcomeApplied, nil
}

func (r *Reconciler) deadLetter(ctx context.Context, providerTag string, payload []byte, reason string) (Outcome, error) {
	if err := r.store.InsertDeadLetter(ctx, models.DeadLetterEntry{ProviderTag: providerTag, Payload: payload, Error: reason}); err != nil {
		return OutcomeDeadLettered, err
	}
	r.logger.Warn("webhook dead-lettered", zap.String("provider_tag", providerTag), zap.String("reason", reason))
	return OutcomeDeadLettered, nil
}
