package webhook_test

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

	"github.com/lexure-intelligence/momopay-orchestrator/internal/eventbus"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/fsm"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/models"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/provider"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/store"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/webhook"
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

// fakeAdapter scripts VerifyWebhook so the reconciler test can drive every branch
// without any real provider signature scheme.
type fakeAdapter struct {
	tag         string
	verifyEvent provider.WebhookEvent
	verifyOK    bool
}

func (f *fakeAdapter) ProviderTag() string                   { return f.tag }
func (f *fakeAdapter) SupportsPhone(e164 string) bool         { return true }
func (f *fakeAdapter) Limits() provider.Limits                { return provider.Limits{Max: 1000000} }
func (f *fakeAdapter) Authenticate(ctx context.Context) error { return nil }

func (f *fakeAdapter) Initiate(ctx context.Context, req provider.InitiateRequest) (provider.CallResult, error) {
	return provider.CallResult{}, nil
}

func (f *fakeAdapter) Status(ctx context.Context, providerTxID string) (provider.CallResult, error) {
	return provider.CallResult{}, nil
}

func (f *fakeAdapter) Refund(ctx context.Context, originalProviderTxID string, amount int64, reason string) (string, error) {
	return "", nil
}

func (f *fakeAdapter) VerifyWebhook(payload []byte, headers map[string]string) (provider.WebhookEvent, bool) {
	return f.verifyEvent, f.verifyOK
}

func (f *fakeAdapter) MapStatus(providerStatus string) provider.Status { return provider.StatusPending }

type fakeBus struct {
	published []map[string]any
}

func (b *fakeBus) Publish(ctx context.Context, topic string, event any) error {
	b.published = append(b.published, event.(map[string]any))
	return nil
}
func (b *fakeBus) Subscribe(ctx context.Context, topic string, handler eventbus.EventHandler) (eventbus.Subscription, error) {
	return nil, nil
}
func (b *fakeBus) Close() error { return nil }

func insertTx(t *testing.T, s *store.GormStore, status models.Status, providerTag string, providerRef string) *models.Transaction {
	t.Helper()
	now := time.Now()
	tx := &models.Transaction{
		ID:                uuid.New(),
		ExternalReference: uuid.New().String(),
		UserID:            "user-1",
		Amount:            1000,
		Currency:          "GHS",
		RecipientPhone:    "+233241234567",
		TransactionType:   models.TypePayment,
		Status:            status,
		PrimaryProvider:   &providerTag,
		ProviderReference: &providerRef,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(time.Hour),
	}
	require.NoError(t, s.InsertTransaction(context.Background(), tx))
	return tx
}

func TestHandleAppliesConfirmedWebhookAndPublishes(t *testing.T) {
	s := newTestStore(t)
	machine := fsm.New(s)
	tx := insertTx(t, s, models.StatusPending, "mtn", "ptx-1")

	registry := provider.NewRegistry()
	adapter := &fakeAdapter{tag: "mtn", verifyOK: true, verifyEvent: provider.WebhookEvent{ProviderTxID: "ptx-1", Status: provider.StatusConfirmed}}
	registry.Register(adapter)

	bus := &fakeBus{}
	r := webhook.New(registry, s, machine, zap.NewNop()).WithBus(bus)

	outcome, err := r.Handle(context.Background(), "mtn", []byte("{}"), nil)
	require.NoError(t, err)
	require.Equal(t, webhook.OutcomeApplied, outcome)

	fresh, err := s.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, fresh.Status)
	require.Len(t, bus.published, 1)
	require.Equal(t, tx.ID.String(), bus.published[0]["transaction_id"])
}

func TestHandleUnknownProviderRouteIsUnknownTx(t *testing.T) {
	s := newTestStore(t)
	machine := fsm.New(s)
	registry := provider.NewRegistry()
	r := webhook.New(registry, s, machine, zap.NewNop())

	outcome, err := r.Handle(context.Background(), "nonexistent", []byte("{}"), nil)
	require.NoError(t, err)
	require.Equal(t, webhook.OutcomeUnknownTx, outcome)
}

func TestHandleInvalidSignatureIsRejected(t *testing.T) {
	s := newTestStore(t)
	machine := fsm.New(s)
	registry := provider.NewRegistry()
	registry.Register(&fakeAdapter{tag: "mtn", verifyOK: false})
	r := webhook.New(registry, s, machine, zap.NewNop())

	outcome, err := r.Handle(context.Background(), "mtn", []byte("{}"), nil)
	require.NoError(t, err)
	require.Equal(t, webhook.OutcomeInvalidSig, outcome)
}

func TestHandleUnknownTransactionReferenceIsUnknownTx(t *testing.T) {
	s := newTestStore(t)
	machine := fsm.New(s)
	registry := provider.NewRegistry()
	registry.Register(&fakeAdapter{tag: "mtn", verifyOK: true, verifyEvent: provider.WebhookEvent{ProviderTxID: "missing", Status: provider.StatusConfirmed}})
	r := webhook.New(registry, s, machine, zap.NewNop())

	outcome, err := r.Handle(context.Background(), "mtn", []byte("{}"), nil)
	require.NoError(t, err)
	require.Equal(t, webhook.OutcomeUnknownTx, outcome)
}

func TestHandleSameStatusReplayIsNoOp(t *testing.T) {
	s := newTestStore(t)
	machine := fsm.New(s)
	tx := insertTx(t, s, models.StatusConfirmed, "mtn", "ptx-1")

	registry := provider.NewRegistry()
	registry.Register(&fakeAdapter{tag: "mtn", verifyOK: true, verifyEvent: provider.WebhookEvent{ProviderTxID: "ptx-1", Status: provider.StatusConfirmed}})
	r := webhook.New(registry, s, machine, zap.NewNop())

	before, err := s.CountAuditEvents(context.Background(), tx.ID)
	require.NoError(t, err)

	// Deliver the same callback three times (L1: "delivering the same webhook N times
	// leaves the transaction and its audit log identical to delivering it once").
	for i := 0; i < 3; i++ {
		outcome, err := r.Handle(context.Background(), "mtn", []byte("{}"), nil)
		require.NoError(t, err)
		require.Equal(t, webhook.OutcomeNoOpReplay, outcome)
	}

	fresh, err := s.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, fresh.Status)

	after, err := s.CountAuditEvents(context.Background(), tx.ID)
	require.NoError(t, err)
	require.Equal(t, before, after, "repeated same-status webhook deliveries must not create duplicate audit rows")
}

func TestHandlePostTerminalCallbackOnAlreadyFailedTransaction(t *testing.T) {
	s := newTestStore(t)
	machine := fsm.New(s)
	insertTx(t, s, models.StatusFailed, "mtn", "ptx-1")

	registry := provider.NewRegistry()
	registry.Register(&fakeAdapter{tag: "mtn", verifyOK: true, verifyEvent: provider.WebhookEvent{ProviderTxID: "ptx-1", Status: provider.StatusConfirmed}})
	r := webhook.New(registry, s, machine, zap.NewNop())

	outcome, err := r.Handle(context.Background(), "mtn", []byte("{}"), nil)
	require.NoError(t, err)
	require.Equal(t, webhook.OutcomePostTerminal, outcome)
}

func TestHandleUnrecognizedStatusIsDeadLettered(t *testing.T) {
	s := newTestStore(t)
	machine := fsm.New(s)
	insertTx(t, s, models.StatusPending, "mtn", "ptx-1")

	registry := provider.NewRegistry()
	registry.Register(&fakeAdapter{tag: "mtn", verifyOK: true, verifyEvent: provider.WebhookEvent{ProviderTxID: "ptx-1", Status: provider.StatusPending}})
	r := webhook.New(registry, s, machine, zap.NewNop())

	outcome, err := r.Handle(context.Background(), "mtn", []byte("{}"), nil)
	require.NoError(t, err)
	require.Equal(t, webhook.OutcomeDeadLettered, outcome)
}
