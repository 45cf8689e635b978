package idempotency_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/idempotency"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/store"
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

func TestBeginIsFreshOnFirstCall(t *testing.T) {
	s := newTestStore(t)
	g := idempotency.New(s, idempotency.DefaultConfig())

	outcome, cached, err := g.Begin(context.Background(), "key-1", "hash-1")
	require.NoError(t, err)
	require.Equal(t, idempotency.Fresh, outcome)
	require.Nil(t, cached)
}

func TestBeginIsInProgressWhileStillProcessing(t *testing.T) {
	s := newTestStore(t)
	g := idempotency.New(s, idempotency.DefaultConfig())

	_, _, err := g.Begin(context.Background(), "key-1", "hash-1")
	require.NoError(t, err)

	_, _, err = g.Begin(context.Background(), "key-1", "hash-1")
	require.Error(t, err)
}

func TestBeginReplaysCompletedResponse(t *testing.T) {
	s := newTestStore(t)
	g := idempotency.New(s, idempotency.DefaultConfig())

	_, _, err := g.Begin(context.Background(), "key-1", "hash-1")
	require.NoError(t, err)
	require.NoError(t, g.Complete(context.Background(), "key-1", map[string]any{"status": "confirmed"}))

	outcome, cached, err := g.Begin(context.Background(), "key-1", "hash-1")
	require.NoError(t, err)
	require.Equal(t, idempotency.Completed, outcome)
	require.Equal(t, "confirmed", cached["status"])
}

func TestBeginConflictsOnDifferentRequestHash(t *testing.T) {
	s := newTestStore(t)
	g := idempotency.New(s, idempotency.DefaultConfig())

	_, _, err := g.Begin(context.Background(), "key-1", "hash-1")
	require.NoError(t, err)

	_, _, err = g.Begin(context.Background(), "key-1", "hash-2")
	require.Error(t, err)
}

func TestBeginTimedOutRestartsAfterProcessingTimeout(t *testing.T) {
	s := newTestStore(t)
	g := idempotency.New(s, idempotency.Config{TTL: time.Hour, ProcessingTimeout: 10 * time.Millisecond})

	_, _, err := g.Begin(context.Background(), "key-1", "hash-1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	outcome, _, err := g.Begin(context.Background(), "key-1", "hash-1")
	require.NoError(t, err)
	require.Equal(t, idempotency.TimedOutRestarted, outcome)
}

func TestHashRequestIsStableForEqualBodies(t *testing.T) {
	h1, err := idempotency.HashRequest(map[string]any{"user_id": "u1", "amount": 100})
	require.NoError(t, err)
	h2, err := idempotency.HashRequest(map[string]any{"user_id": "u1", "amount": 100})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestSweepRemovesExpiredRecords(t *testing.T) {
	s := newTestStore(t)
	g := idempotency.New(s, idempotency.Config{TTL: 1 * time.Millisecond, ProcessingTimeout: time.Second})

	_, _, err := g.Begin(context.Background(), "key-1", "hash-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := g.Sweep(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
