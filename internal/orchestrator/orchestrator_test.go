package orchestrator_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/breaker"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/errs"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/fraud"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/fsm"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/idempotency"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/models"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/orchestrator"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/provider"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/ratelimit"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/retry"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/selector"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/store"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/validation"
)

func newTestStore(t *testing.T) *store.GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	s := store.New(db)
	require.NoError(t, s.AutoMigrate())
	return s
}

type fakeAdapter struct {
	tag        string
	initiateFn func(req provider.InitiateRequest) (provider.CallResult, error)
	refundFn   func(originalProviderTxID string, amount int64, reason string) (string, error)
}

func (f *fakeAdapter) ProviderTag() string                   { return f.tag }
func (f *fakeAdapter) SupportsPhone(e164 string) bool         { return true }
func (f *fakeAdapter) Limits() provider.Limits                { return provider.Limits{Min: 100, Max: 1000000} }
func (f *fakeAdapter) Authenticate(ctx context.Context) error { return nil }

func (f *fakeAdapter) Initiate(ctx context.Context, req provider.InitiateRequest) (provider.CallResult, error) {
	return f.initiateFn(req)
}

func (f *fakeAdapter) Status(ctx context.Context, providerTxID string) (provider.CallResult, error) {
	return provider.CallResult{}, nil
}

func (f *fakeAdapter) Refund(ctx context.Context, originalProviderTxID string, amount int64, reason string) (string, error) {
	if f.refundFn == nil {
		return "refund-tx", nil
	}
	return f.refundFn(originalProviderTxID, amount, reason)
}

func (f *fakeAdapter) VerifyWebhook(payload []byte, headers map[string]string) (provider.WebhookEvent, bool) {
	return provider.WebhookEvent{}, false
}

func (f *fakeAdapter) MapStatus(providerStatus string) provider.Status { return provider.StatusPending }

func buildOrchestrator(t *testing.T, s *store.GormStore, adapters ...*fakeAdapter) *orchestrator.Orchestrator {
	t.Helper()
	logger := zap.NewNop()

	registry := provider.NewRegistry()
	for _, a := range adapters {
		registry.Register(a)
	}

	breakers := breaker.NewManager(logger)
	sel := selector.New(registry, breakers, nil, logger)
	retryEngine := retry.New(breakers, map[string]retry.ProviderConfig{
		"mtn":      {MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, Jitter: 0},
		"vodafone": {MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, Jitter: 0},
	}, nil, logger)
	limiter := ratelimit.New(nil)
	idem := idempotency.New(s, idempotency.DefaultConfig())
	scorer := fraud.ThresholdScorer{HighRiskAmount: 500000, CriticalRiskAmount: 1000000}
	machine := fsm.New(s)
	// As in cmd/orchestrator, the critical-risk threshold equals the maximum amount.
	validator := validation.New(100, 1000000)

	limits := orchestrator.Limits{MinAmount: 100, MaxAmount: 1000000, Timeout: time.Hour, MaxRetries: 3}

	return orchestrator.New(s, limiter, idem, scorer, machine, sel, retryEngine, registry, validator, limits, logger)
}

func baseRequest() orchestrator.InitiateRequest {
	return orchestrator.InitiateRequest{
		UserID:         "user-1",
		AmountMinor:    1000,
		Currency:       "GHS",
		RecipientPhone: "+233241234567",
		RecipientName:  "Ama Mensah",
	}
}

func TestInitiatePaymentSucceedsSynchronously(t *testing.T) {
	s := newTestStore(t)
	mtn := &fakeAdapter{tag: "mtn", initiateFn: func(req provider.InitiateRequest) (provider.CallResult, error) {
		return provider.CallResult{ProviderTxID: "ptx-1", ProviderReference: "pref-1", Status: provider.StatusConfirmed}, nil
	}}
	o := buildOrchestrator(t, s, mtn)

	resp, err := o.InitiatePayment(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, string(models.StatusConfirmed), resp.Status)

	tx, err := o.GetTransaction(context.Background(), uuid.MustParse(resp.TransactionID))
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, tx.Status)
}

func TestInitiatePaymentFailsWhenNoProviderAcceptsLoad(t *testing.T) {
	s := newTestStore(t)
	mtn := &fakeAdapter{tag: "mtn", initiateFn: func(req provider.InitiateRequest) (provider.CallResult, error) {
		return provider.CallResult{}, errs.New(errs.ProviderPermanent, nil)
	}}
	o := buildOrchestrator(t, s, mtn)

	resp, err := o.InitiatePayment(context.Background(), baseRequest())
	require.Error(t, err)
	require.Nil(t, resp)
}

func TestInitiatePaymentRejectsCriticalFraudRisk(t *testing.T) {
	s := newTestStore(t)
	mtn := &fakeAdapter{tag: "mtn", initiateFn: func(req provider.InitiateRequest) (provider.CallResult, error) {
		t.Fatal("must not dispatch to a provider for a transaction rejected on fraud grounds")
		return provider.CallResult{}, nil
	}}
	o := buildOrchestrator(t, s, mtn)

	req := baseRequest()
	req.AmountMinor = 1000000

	resp, err := o.InitiatePayment(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, errs.FraudBlocked, errs.KindOf(err))
	require.NotNil(t, resp)
	require.Equal(t, string(models.StatusFailed), resp.Status)
}

func TestInitiatePaymentReplaysCachedResponseOnDuplicateIdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	mtn := &fakeAdapter{tag: "mtn", initiateFn: func(req provider.InitiateRequest) (provider.CallResult, error) {
		calls++
		return provider.CallResult{ProviderTxID: "ptx-1", ProviderReference: "pref-1", Status: provider.StatusConfirmed}, nil
	}}
	o := buildOrchestrator(t, s, mtn)

	req := baseRequest()
	req.IdempotencyKey = "idem-key-1"

	first, err := o.InitiatePayment(context.Background(), req)
	require.NoError(t, err)

	second, err := o.InitiatePayment(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, first.TransactionID, second.TransactionID)
	require.Equal(t, 1, calls)
}

func TestInitiatePaymentValidationErrorOnInvalidAmount(t *testing.T) {
	s := newTestStore(t)
	mtn := &fakeAdapter{tag: "mtn", initiateFn: func(req provider.InitiateRequest) (provider.CallResult, error) {
		t.Fatal("must not dispatch for a request that fails validation")
		return provider.CallResult{}, nil
	}}
	o := buildOrchestrator(t, s, mtn)

	req := baseRequest()
	req.AmountMinor = 1

	_, err := o.InitiatePayment(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, errs.ValidationError, errs.KindOf(err))
}

func TestCancelTransitionsPendingTransactionToCancelled(t *testing.T) {
	s := newTestStore(t)
	mtn := &fakeAdapter{tag: "mtn", initiateFn: func(req provider.InitiateRequest) (provider.CallResult, error) {
		return provider.CallResult{ProviderTxID: "ptx-1", Status: provider.StatusProcessing}, nil
	}}
	o := buildOrchestrator(t, s, mtn)

	resp, err := o.InitiatePayment(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, string(models.StatusPending), resp.Status)

	id := uuid.MustParse(resp.TransactionID)
	require.NoError(t, o.Cancel(context.Background(), id, "user-1"))

	tx, err := o.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, tx.Status)
}

func TestCancelRejectsTransactionOwnedByAnotherUser(t *testing.T) {
	s := newTestStore(t)
	mtn := &fakeAdapter{tag: "mtn", initiateFn: func(req provider.InitiateRequest) (provider.CallResult, error) {
		return provider.CallResult{ProviderTxID: "ptx-1", Status: provider.StatusProcessing}, nil
	}}
	o := buildOrchestrator(t, s, mtn)

	resp, err := o.InitiatePayment(context.Background(), baseRequest())
	require.NoError(t, err)

	id := uuid.MustParse(resp.TransactionID)
	err = o.Cancel(context.Background(), id, "someone-else")
	require.Error(t, err)
}

func TestRefundCreatesNewTransactionAndTransitionsOriginal(t *testing.T) {
	s := newTestStore(t)
	mtn := &fakeAdapter{
		tag: "mtn",
		initiateFn: func(req provider.InitiateRequest) (provider.CallResult, error) {
			return provider.CallResult{ProviderTxID: "ptx-1", ProviderReference: "pref-1", Status: provider.StatusConfirmed}, nil
		},
		refundFn: func(originalProviderTxID string, amount int64, reason string) (string, error) {
			return "refund-ptx-1", nil
		},
	}
	o := buildOrchestrator(t, s, mtn)

	resp, err := o.InitiatePayment(context.Background(), baseRequest())
	require.NoError(t, err)
	originalID := uuid.MustParse(resp.TransactionID)

	refund, err := o.Refund(context.Background(), originalID, "customer request", 0)
	require.NoError(t, err)
	require.Equal(t, models.TypeRefund, refund.TransactionType)
	require.Equal(t, originalID, *refund.RefundOfID)

	original, err := o.GetTransaction(context.Background(), originalID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRefunded, original.Status)
}
