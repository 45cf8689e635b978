// Package orchestrator implements C9: the single top-level pipeline every inbound
// payment request is threaded through exactly once, composing the rate limiter (C3),
// idempotency guard (C4), fraud scorer (§6.2), transaction state machine (C7), provider
// selector (C6) and retry/failover engine (C5(C2(C1))) in the order §4.1 mandates.
// Generalizes the teacher's RecoveryOrchestrationService (worker/internal/services/
// recovery_orchestration_service.go): same tracer-wrapped top-level method, same
// "build an explicit collaborator graph at construction, no package-level singletons"
// shape, applied to payment dispatch instead of failure-recovery workflows.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/errs"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/fraud"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/fsm"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/idempotency"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/models"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/provider"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/ratelimit"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/retry"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/selector"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/store"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/validation"
)

var tracer = otel.Tracer("github.com/lexure-intelligence/momopay-orchestrator/internal/orchestrator")

const endpointPaymentsInitiate = "payments_initiate"

// Limits is the §6.5 "transaction" configuration surface this package consumes.
type Limits struct {
	MinAmount  int64
	MaxAmount  int64
	Timeout    time.Duration
	MaxRetries int
}

// InitiateRequest is the canonical shape of §6.1's `POST /payments` body.
type InitiateRequest struct {
	UserID         string
	AmountMinor    int64
	Currency       string
	RecipientPhone string
	RecipientName  string
	Description    string
	Metadata       map[string]any
	IdempotencyKey string
}

// InitiateResponse is the canonical response cached verbatim by the idempotency guard
// and replayed on duplicate submission (P2).
type InitiateResponse struct {
	TransactionID        string `json:"transaction_id"`
	ExternalReference     string `json:"external_reference"`
	Status                string `json:"status"`
	Reason                string `json:"reason,omitempty"`
	VerificationRequired  bool   `json:"verification_required,omitempty"`
}

func (r InitiateResponse) asMap() map[string]any {
	return map[string]any{
		"transaction_id":        r.TransactionID,
		"external_reference":    r.ExternalReference,
		"status":                r.Status,
		"reason":                r.Reason,
		"verification_required": r.VerificationRequired,
	}
}

func responseFromMap(m map[string]any) InitiateResponse {
	get := func(k string) string {
		if s, ok := m[k].(string); ok {
			return s
		}
		return ""
	}
	verification, _ := m["verification_required"].(bool)
	return InitiateResponse{
		TransactionID:        get("transaction_id"),
		ExternalReference:    get("external_reference"),
		Status:               get("status"),
		Reason:               get("reason"),
		VerificationRequired: verification,
	}
}

// Orchestrator is the C9 collaborator graph. Every dependency is passed in at
// construction, per §9's "global singletons... become explicit collaborators" note;
// there is no process-wide mutable state anywhere in this package.
type Orchestrator struct {
	store       store.Store
	limiter     *ratelimit.Limiter
	idempotency *idempotency.Guard
	fraudScorer fraud.Scorer
	fsm         *fsm.Machine
	selector    *selector.Selector
	retryEngine *retry.Engine
	registry    *provider.Registry
	validator   *validation.Validator
	limits      Limits
	logger      *zap.Logger
	metrics     *Metrics
	postTerminal *StepExecutorSet
}

// New constructs an Orchestrator. Panics if store, selector or retryEngine is nil,
// mirroring the teacher's RetryService constructor guard against misconfiguration.
func New(
	s store.Store,
	limiter *ratelimit.Limiter,
	idem *idempotency.Guard,
	scorer fraud.Scorer,
	machine *fsm.Machine,
	sel *selector.Selector,
	retryEngine *retry.Engine,
	registry *provider.Registry,
	validator *validation.Validator,
	limits Limits,
	logger *zap.Logger,
) *Orchestrator {
	if s == nil || sel == nil || retryEngine == nil {
		panic("orchestrator: nil store, selector or retry engine")
	}
	return &Orchestrator{
		store:        s,
		limiter:      limiter,
		idempotency:  idem,
		fraudScorer:  scorer,
		fsm:          machine,
		selector:     sel,
		retryEngine:  retryEngine,
		registry:     registry,
		validator:    validator,
		limits:       limits,
		logger:       logger,
		metrics:      NewMetrics(),
		postTerminal: NewStepExecutorSet(s, logger),
	}
}

// Metrics exposes the orchestrator's running counters (§C.2's generalization of the
// teacher's GetRecoveryMetrics), queryable in-process rather than emitted to a backend.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// InitiatePayment implements §4.1's eleven-step algorithm.
func (o *Orchestrator) InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.initiate_payment")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", req.UserID))

	log := o.logger.With(zap.String("user_id", req.UserID), zap.String("idempotency_key", req.IdempotencyKey))

	// Step 1: sanitise.
	req.RecipientName = validation.SanitizeControlChars(req.RecipientName)
	req.Description = validation.SanitizeControlChars(req.Description)
	canonicalPhone := validation.CanonicalizePhone(req.RecipientPhone)
	req.AmountMinor = validation.RoundAmount(req.AmountMinor)

	if o.validator != nil {
		if err := o.validator.Validate(validation.PaymentRequest{
			UserID:         req.UserID,
			AmountMinor:    req.AmountMinor,
			Currency:       req.Currency,
			RecipientPhone: canonicalPhone,
			RecipientName:  req.RecipientName,
			Description:    req.Description,
		}); err != nil {
			return nil, err
		}
	}

	// Step 2: rate limit.
	if o.limiter != nil {
		if err := o.limiter.Require(req.UserID, endpointPaymentsInitiate); err != nil {
			o.metrics.IncRateLimited()
			return nil, err
		}
	}

	// Step 3: idempotency.
	canonicalBody := map[string]any{
		"user_id": req.UserID, "amount": req.AmountMinor, "currency": req.Currency,
		"recipient_phone": canonicalPhone, "recipient_name": req.RecipientName,
		"description": req.Description,
	}
	var requestHash string
	if req.IdempotencyKey != "" && o.idempotency != nil {
		var err error
		requestHash, err = idempotency.HashRequest(canonicalBody)
		if err != nil {
			return nil, errs.New(errs.Unknown, err)
		}
		outcome, cached, err := o.idempotency.Begin(ctx, req.IdempotencyKey, requestHash)
		if err != nil {
			o.metrics.IncIdempotencyConflict(outcome == idempotency.Conflict)
			return nil, err
		}
		if outcome == idempotency.Completed {
			resp := responseFromMap(cached)
			return &resp, nil
		}
	}

	// Step 4: fraud score.
	score, err := o.fraudScorer.Score(ctx, fraud.Features{
		UserID: req.UserID, Amount: req.AmountMinor, Currency: req.Currency, RecipientPhone: canonicalPhone,
	})
	if err != nil {
		return nil, errs.New(errs.Unknown, err)
	}

	now := time.Now()
	tx := &models.Transaction{
		ID:                 uuid.New(),
		ExternalReference:  generateExternalRef(),
		UserID:             req.UserID,
		Amount:             req.AmountMinor,
		Currency:           req.Currency,
		RecipientPhone:     canonicalPhone,
		RecipientName:      req.RecipientName,
		Description:        req.Description,
		TransactionType:    models.TypePayment,
		Status:             models.StatusInitiated,
		RiskScore:          score.RiskScore,
		RiskLevel:          models.RiskLevel(score.RiskLevel),
		MaxRetries:         o.limits.MaxRetries,
		Metadata:           datatypes.NewJSONType(req.Metadata),
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(o.limits.Timeout),
	}

	if score.IsFraud && score.RiskLevel == fraud.RiskCritical {
		return o.rejectForFraud(ctx, tx, "fraud_blocked", errs.FraudBlocked, req.IdempotencyKey)
	}
	if score.IsFraud && score.RiskLevel == fraud.RiskHigh {
		resp, rerr := o.rejectForFraud(ctx, tx, "fraud_requires_verification", errs.FraudRequiresVerification, req.IdempotencyKey)
		if resp != nil {
			resp.VerificationRequired = true
		}
		return resp, rerr
	}

	// Step 5: create + persist.
	if err := o.store.InsertTransaction(ctx, tx); err != nil {
		return nil, errs.New(errs.Unknown, err)
	}
	o.metrics.IncCreated()

	// Step 6: select provider.
	providers, crossNetwork, err := o.selector.Select(canonicalPhone, req.AmountMinor)
	if err != nil {
		_ = o.fsm.Apply(ctx, tx.ID, models.StatusInitiated, models.StatusFailed, "no_eligible_provider", nil,
			map[string]any{"reason": errs.KindOf(err).String()})
		return nil, err
	}

	// Step 7: initiated -> pending, store provider tag.
	primary := providers[0].ProviderTag()
	if err := o.fsm.Apply(ctx, tx.ID, models.StatusInitiated, models.StatusPending, "dispatched", func(t *models.Transaction) {
		t.PrimaryProvider = &primary
		t.CrossNetwork = crossNetwork
	}, map[string]any{"provider": primary, "cross_network": crossNetwork}); err != nil {
		return nil, err
	}
	tx.Status = models.StatusPending
	tx.PrimaryProvider = &primary
	tx.CrossNetwork = crossNetwork

	// Step 8: dispatch via C5(C2(C1)).
	outcome := o.retryEngine.Execute(ctx, provider.InitiateRequest{
		TransactionID:  tx.ID.String(),
		ExternalRef:    tx.ExternalReference,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		RecipientPhone: tx.RecipientPhone,
		RecipientName:  tx.RecipientName,
		Description:    tx.Description,
		Metadata:       req.Metadata,
	}, providers)

	attempts := toModelAttempts(outcome.Attempts)

	if !outcome.Success {
		o.metrics.IncDispatchFailed(outcome.Provider)
		kind := errs.KindOf(outcome.Err)
		if kind == errs.CircuitOpen {
			// All providers exhausted with their circuits open.
		}
		if ferr := o.fsm.Apply(ctx, tx.ID, models.StatusPending, models.StatusFailed, "dispatch_failed", func(t *models.Transaction) {
			t.Attempts = datatypes.NewJSONType(attempts)
			t.RetryCount = len(attempts)
			if outcome.Provider != "" {
				t.PrimaryProvider = &outcome.Provider
			}
		}, map[string]any{"error": kind.String()}); ferr != nil {
			log.Warn("failed to record dispatch failure", zap.Error(ferr))
		}
		resp := InitiateResponse{TransactionID: tx.ID.String(), ExternalReference: tx.ExternalReference, Status: string(models.StatusFailed), Reason: kind.String()}
		o.finalizeIdempotency(ctx, req.IdempotencyKey, resp, false)
		return nil, outcome.Err
	}

	o.metrics.IncDispatchSucceeded(outcome.Provider)

	// Step 9: synchronous outcome.
	finalStatus := models.StatusPending
	eventType := "provider_accepted"
	if outcome.Result.Status == provider.StatusConfirmed {
		finalStatus = models.StatusConfirmed
		eventType = "provider_confirmed_sync"
	}

	providerRef := outcome.Result.ProviderReference

	if finalStatus == models.StatusPending {
		if err := o.store.UpdateAttempts(ctx, tx.ID, models.StatusPending, attempts, outcome.Provider, providerRef); err != nil {
			log.Warn("failed to record attempts", zap.Error(err))
		}
	} else {
		if err := o.fsm.Apply(ctx, tx.ID, models.StatusPending, finalStatus, eventType, func(t *models.Transaction) {
			t.Attempts = datatypes.NewJSONType(attempts)
			t.ProviderReference = &providerRef
			t.PrimaryProvider = &outcome.Provider
			confirmedAt := time.Now()
			t.ConfirmedAt = &confirmedAt
		}, map[string]any{"provider_reference": providerRef}); err != nil {
			log.Warn("failed to record synchronous confirmation", zap.Error(err))
		}
		o.postTerminal.Run(ctx, tx.ID.String(), string(finalStatus))
	}

	resp := InitiateResponse{TransactionID: tx.ID.String(), ExternalReference: tx.ExternalReference, Status: string(finalStatus)}

	// Step 11: write idempotency response.
	o.finalizeIdempotency(ctx, req.IdempotencyKey, resp, true)

	return &resp, nil
}

func (o *Orchestrator) rejectForFraud(ctx context.Context, tx *models.Transaction, eventType string, kind errs.Kind, idemKey string) (*InitiateResponse, error) {
	if err := o.store.InsertTransaction(ctx, tx); err != nil {
		return nil, errs.New(errs.Unknown, err)
	}
	if err := o.fsm.Apply(ctx, tx.ID, models.StatusInitiated, models.StatusFailed, eventType, nil,
		map[string]any{"reason": eventType, "risk_score": tx.RiskScore}); err != nil {
		return nil, err
	}
	o.metrics.IncFraudRejected(eventType)
	resp := InitiateResponse{TransactionID: tx.ID.String(), ExternalReference: tx.ExternalReference, Status: string(models.StatusFailed), Reason: eventType}
	o.finalizeIdempotency(ctx, idemKey, resp, false)
	return &resp, errs.New(kind, nil)
}

func (o *Orchestrator) finalizeIdempotency(ctx context.Context, key string, resp InitiateResponse, success bool) {
	if key == "" || o.idempotency == nil {
		return
	}
	var err error
	if success {
		err = o.idempotency.Complete(ctx, key, resp.asMap())
	} else {
		err = o.idempotency.Fail(ctx, key, resp.asMap())
	}
	if err != nil {
		o.logger.Warn("failed to finalize idempotency record", zap.String("key", key), zap.Error(err))
	}
}

// GetTransaction implements `GET /payments/{id}`'s projection.
func (o *Orchestrator) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return o.store.GetTransaction(ctx, id)
}

// Cancel implements `POST /payments/{id}/cancel`: a user-initiated transition to the
// cancelled terminal state, refused if the transaction is already terminal or not
// owned by the requesting user.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID, userID string) error {
	tx, err := o.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if tx.UserID != userID {
		return errs.New(errs.ValidationError, fmt.Errorf("transaction does not belong to user"))
	}
	if tx.Status.Terminal() {
		return errs.New(errs.ConcurrentTransition, fmt.Errorf("transaction already terminal"))
	}
	now := time.Now()
	err = o.fsm.Apply(ctx, id, tx.Status, models.StatusCancelled, "user_cancelled", func(t *models.Transaction) {
		t.CancelledAt = &now
	}, map[string]any{"cancelled_by": userID})
	if err == nil {
		o.postTerminal.Run(ctx, id.String(), string(models.StatusCancelled))
	}
	return err
}

// Refund implements `POST /payments/{id}/refund`: confirms the original transaction is
// confirmed, calls the owning adapter's refund(), and on success creates a new
// transaction row of type refund and transitions the original confirmed -> refunded,
// per I2's "except via a refund that creates a new transaction."
func (o *Orchestrator) Refund(ctx context.Context, originalID uuid.UUID, reason string, amount int64) (*models.Transaction, error) {
	original, err := o.store.GetTransaction(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if original.Status != models.StatusConfirmed {
		return nil, errs.Newf(errs.ValidationError, "transaction %s is not confirmed", originalID)
	}
	if original.PrimaryProvider == nil || original.ProviderReference == nil {
		return nil, errs.Newf(errs.ValidationError, "transaction %s has no provider reference to refund", originalID)
	}
	adapter, ok := o.registry.Get(*original.PrimaryProvider)
	if !ok {
		return nil, errs.New(errs.NoEligibleProvider, nil)
	}
	if amount <= 0 {
		amount = original.Amount
	}

	refundTxID, err := adapter.Refund(ctx, *original.ProviderReference, amount, reason)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	refund := &models.Transaction{
		ID:                uuid.New(),
		ExternalReference: generateExternalRef(),
		UserID:            original.UserID,
		Amount:            amount,
		Currency:          original.Currency,
		RecipientPhone:    original.RecipientPhone,
		RecipientName:     original.RecipientName,
		Description:       reason,
		TransactionType:   models.TypeRefund,
		Status:            models.StatusConfirmed,
		PrimaryProvider:   original.PrimaryProvider,
		ProviderReference: &refundTxID,
		RefundOfID:        &original.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(o.limits.Timeout),
		ConfirmedAt:       &now,
	}
	if err := o.store.InsertTransaction(ctx, refund); err != nil {
		return nil, errs.New(errs.Unknown, err)
	}

	if err := o.fsm.Apply(ctx, originalID, models.StatusConfirmed, models.StatusRefunded, "refunded", nil,
		map[string]any{"refund_transaction_id": refund.ID.String()}); err != nil {
		return nil, err
	}

	return refund, nil
}

func toModelAttempts(recs []retry.AttemptRecord) []models.Attempt {
	out := make([]models.Attempt, 0, len(recs))
	for _, r := range recs {
		ended := r.EndedAt
		out = append(out, models.Attempt{
			ProviderTag:  r.ProviderTag,
			StartedAt:    r.StartedAt,
			EndedAt:      &ended,
			Outcome:      r.Outcome,
			ErrorCode:    r.ErrorCode,
			ProviderTxID: r.CallResult.ProviderTxID,
			ProviderRef:  r.CallResult.ProviderReference,
		})
	}
	return out
}

func generateExternalRef() string {
	return "TXN-" + uuid.New().String()[:8]
}
