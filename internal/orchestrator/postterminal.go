package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/models"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/store"
)

// StepExecutor runs one bounded side effect after a transaction reaches a terminal
// state. Generalized from the teacher's step executor interface (worker/internal/
// services/step_executors.go), scoped down so it can never move a transaction's
// status — per §C.1, this is explicitly not a second state machine.
type StepExecutor interface {
	StepType() string
	Execute(ctx context.Context, transactionID, terminalStatus string) error
}

// StepExecutorSet runs every registered executor for a terminal transition, logging
// and swallowing individual executor errors since a failed notification must never
// roll back or retry the dispatch pipeline itself.
type StepExecutorSet struct {
	executors []StepExecutor
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewStepExecutorSet(s store.Store, logger *zap.Logger) *StepExecutorSet {
	return &StepExecutorSet{
		executors: []StepExecutor{notifyCustomerExecutor{store: s}, scheduleRefundReviewExecutor{store: s}},
		logger:    logger,
		tracer:    otel.Tracer("github.com/lexure-intelligence/momopay-orchestrator/internal/orchestrator/postterminal"),
	}
}

// Run invokes every registered executor for the given terminal status. Executors that
// don't apply to this status (e.g. the refund-review executor on a cancelled
// transaction) self-filter inside Execute.
func (s *StepExecutorSet) Run(ctx context.Context, transactionID, terminalStatus string) {
	for _, e := range s.executors {
		ctx, span := s.tracer.Start(ctx, "postterminal."+e.StepType())
		span.SetAttributes(
			attribute.String("transaction_id", transactionID),
			attribute.String("terminal_status", terminalStatus),
		)
		if err := e.Execute(ctx, transactionID, terminalStatus); err != nil {
			span.RecordError(err)
			s.logger.Warn("post-terminal step executor failed",
				zap.String("step_type", e.StepType()),
				zap.String("transaction_id", transactionID),
				zap.Error(err))
		}
		span.End()
	}
}

// notifyCustomerExecutor sends a confirmation/failure notice. The transport itself is
// out of scope (spec.md §1 treats log sinks/notification backends as external
// collaborators); this executor records that the notification step ran via the same
// audit-log shape §4.7's transitions append, the way the teacher's recovery_actions.go
// writes a RecoveryAction row for every executed step rather than just logging one.
type notifyCustomerExecutor struct {
	store store.Store
}

func (notifyCustomerExecutor) StepType() string { return "notify_customer" }

func (e notifyCustomerExecutor) Execute(ctx context.Context, transactionID, terminalStatus string) error {
	id, err := uuid.Parse(transactionID)
	if err != nil {
		return err
	}
	status := models.Status(terminalStatus)
	return e.store.AppendAuditEvent(ctx, models.AuditEvent{
		TransactionID: id,
		EventType:     "customer_notified",
		FromStatus:    status,
		ToStatus:      status,
		EventData:     datatypes.NewJSONType(map[string]any{"channel": "sms"}),
	})
}

// scheduleRefundReviewExecutor flags a confirmed transaction for manual refund-policy
// review when it arrived via degraded cross-network routing, a judgment call this core
// does not automate.
type scheduleRefundReviewExecutor struct {
	store store.Store
}

func (scheduleRefundReviewExecutor) StepType() string { return "schedule_refund_review" }

func (e scheduleRefundReviewExecutor) Execute(ctx context.Context, transactionID, terminalStatus string) error {
	if terminalStatus != string(models.StatusConfirmed) {
		return nil
	}
	id, err := uuid.Parse(transactionID)
	if err != nil {
		return err
	}
	tx, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if !tx.CrossNetwork {
		return nil
	}
	return e.store.AppendAuditEvent(ctx, models.AuditEvent{
		TransactionID: id,
		EventType:     "refund_review_scheduled",
		FromStatus:    models.StatusConfirmed,
		ToStatus:      models.StatusConfirmed,
		EventData:     datatypes.NewJSONType(map[string]any{"reason": "cross_network_confirmation"}),
	})
}
