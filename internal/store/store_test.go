package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/models"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/store"
)

// newMockStore mirrors the teacher's MockRecoveryOrchestrationService helper: a GormStore
// backed by a sqlmock connection so the exact guarded SQL each mutation issues can be
// asserted without a live database.
func newMockStore(t *testing.T) (*store.GormStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)

	return store.New(gormDB), mock
}

func TestConditionalTransitionAppliesWhenStatusMatches(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(id, "pending"))
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := s.ConditionalTransition(context.Background(), id, models.StatusPending, models.StatusConfirmed, nil,
		models.AuditEvent{EventType: "provider_confirmed_sync"})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConditionalTransitionRefusesWhenStatusAlreadyMoved(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(id, "pending"))
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	applied, err := s.ConditionalTransition(context.Background(), id, models.StatusPending, models.StatusConfirmed, nil,
		models.AuditEvent{EventType: "provider_confirmed_sync"})
	require.NoError(t, err)
	require.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTransactionIssuesSingleInsert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	now := time.Now()
	tx := &models.Transaction{
		ID:                uuid.New(),
		ExternalReference: uuid.New().String(),
		UserID:            "user-1",
		Amount:            1000,
		Currency:          "GHS",
		Status:            models.StatusInitiated,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(time.Hour),
	}

	err := s.InsertTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransactionByProviderRefReturnsNotFoundOnNoRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetTransactionByProviderRef(context.Background(), "mtn", "ptx-missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
