// Package fsm implements C7: the canonical transaction lifecycle of §4.7. Every
// transition is an atomic conditional store operation (read, verify from, set to,
// append audit event); a failed precondition surfaces as errs.ConcurrentTransition
// rather than an error the caller should treat as a fault.
package fsm

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/errs"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/models"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/store"
)

// transitions is the §4.7 table: legal (from, to) pairs. Anything not listed here is
// refused by Apply before it ever reaches the store.
var transitions = map[models.Status]map[models.Status]bool{
	models.StatusInitiated: {
		models.StatusPending: true,
		models.StatusFailed:  true,
	},
	models.StatusPending: {
		models.StatusProcessing: true,
		models.StatusConfirmed:  true,
		models.StatusFailed:     true,
		models.StatusExpired:    true,
		models.StatusCancelled:  true,
	},
	models.StatusProcessing: {
		models.StatusConfirmed: true,
		models.StatusFailed:    true,
		models.StatusExpired:   true,
	},
	models.StatusConfirmed: {
		models.StatusRefunded: true,
	},
}

// Valid reports whether (from, to) is a legal transition per §4.7.
func Valid(from, to models.Status) bool {
	if from == to {
		return false // same-state is a no-op path, not a transition
	}
	return transitions[from][to]
}

// Machine drives transactions through §4.7 on top of a store.Store.
type Machine struct {
	store store.Store
}

func New(s store.Store) *Machine {
	return &Machine{store: s}
}

// Apply attempts the transition (from, to) for transaction id. Returns
// errs.ConcurrentTransition if the current status no longer equals from (I1, §5's
// "first valid transition wins" rule); the caller must re-read and decide, exactly as
// §4.7 requires. Returns an *errs.Error wrapping the illegal-transition case too, since
// an out-of-table transition is the same caller-facing outcome as a lost race.
func (m *Machine) Apply(ctx context.Context, id uuid.UUID, from, to models.Status, eventType string, mutate func(*models.Transaction), eventData map[string]any) error {
	if !Valid(from, to) {
		return errs.New(errs.ConcurrentTransition, nil)
	}

	applied, err := m.store.ConditionalTransition(ctx, id, from, to, mutate, models.AuditEvent{
		EventType: eventType,
		EventData: datatypes.NewJSONType(eventData),
	})
	if err != nil {
		return err
	}
	if !applied {
		return errs.New(errs.ConcurrentTransition, nil)
	}
	return nil
}

// NoOpReplay handles a same-state webhook delivery: target already equals the
// transaction's current status. §4.8 is explicit that "applying a transition that
// equals the current state is a no-op and must not create duplicate events," and L1
// requires the audit log after N identical deliveries to be identical to the log after
// one. So this writes nothing to the store — the original transition's audit row
// already records the fact; a replay is logged for observability and otherwise
// discarded.
func (m *Machine) NoOpReplay(ctx context.Context, logger *zap.Logger, id uuid.UUID, status models.Status, eventData map[string]any) error {
	if logger != nil {
		logger.Info("webhook replay observed, no-op",
			zap.String("transaction_id", id.String()), zap.String("status", string(status)), zap.Any("event_data", eventData))
	}
	return nil
}

// PostTerminalCallback records S6/§5's "late webhook after terminal" event: the
// transaction does not change, but a post_terminal_callback audit row is appended so a
// human can investigate the provider inconsistency.
func (m *Machine) PostTerminalCallback(ctx context.Context, id uuid.UUID, terminalStatus, reportedStatus models.Status, provider string) error {
	return m.store.AppendAuditEvent(ctx, models.AuditEvent{
		TransactionID: id,
		EventType:     "post_terminal_callback",
		FromStatus:    terminalStatus,
		ToStatus:      terminalStatus,
		Provider:      provider,
		EventData:     datatypes.NewJSONType(map[string]any{"reported_status": string(reportedStatus)}),
	})
}

// PostCancelConfirmation implements §5's "if the provider later reports success for a
// cancelled transaction, the state machine leaves it cancelled and emits a
// post_cancel_confirmation event for human follow-up."
func (m *Machine) PostCancelConfirmation(ctx context.Context, id uuid.UUID, provider string) error {
	return m.store.AppendAuditEvent(ctx, models.AuditEvent{
		TransactionID: id,
		EventType:     "post_cancel_confirmation",
		FromStatus:    models.StatusCancelled,
		ToStatus:      models.StatusCancelled,
		Provider:      provider,
	})
}

