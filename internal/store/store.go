// Package store defines the transactional persistence contract of §6.4 and its GORM
// implementation. Every write to a transaction's status is a conditional update keyed on
// the current status, never a blind save, matching the teacher's RetryService/recovery
// services pattern of guarding every mutation with an explicit WHERE clause.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/models"
)

// ErrNotFound is returned when a lookup finds no row.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence contract the dispatch core depends on. Nothing above this
// package touches SQL directly.
type Store interface {
	// InsertTransaction atomically inserts a new transaction. The row's ID and
	// ExternalReference must be pre-assigned and unique.
	InsertTransaction(ctx context.Context, tx *models.Transaction) error

	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByReference(ctx context.Context, externalReference string) (*models.Transaction, error)
	GetTransactionByProviderRef(ctx context.Context, providerTag, providerTxID string) (*models.Transaction, error)

	// ConditionalTransition applies mutate only if the row's current status equals
	// from, appending an AuditEvent in the same commit. Returns (applied=false, nil)
	// if the precondition failed (no rows updated) rather than an error, since a
	// refused transition is an expected outcome (ConcurrentTransition), not a fault.
	ConditionalTransition(ctx context.Context, id uuid.UUID, from, to models.Status, mutate func(*models.Transaction), event models.AuditEvent) (applied bool, err error)

	// AppendAuditEvent records an event without a status change, used for
	// post-terminal/post-cancel callbacks (S6) where a provider inconsistency
	// genuinely needs a new audit row for human follow-up.
	AppendAuditEvent(ctx context.Context, event models.AuditEvent) error

	// CountAuditEvents returns how many audit rows a transaction has accumulated,
	// used by tests to assert that same-status webhook replays (L1) do not grow the
	// audit log.
	CountAuditEvents(ctx context.Context, transactionID uuid.UUID) (int64, error)

	// UpdateAttempts persists the retry engine's attempt log and provider assignment
	// onto a transaction without performing a lifecycle transition, guarded by the
	// transaction's current status so a racing transition is never clobbered. Used
	// after a dispatch whose synchronous result leaves the transaction pending.
	UpdateAttempts(ctx context.Context, id uuid.UUID, expectedStatus models.Status, attempts []models.Attempt, providerTag, providerRef string) error

	// ScanExpirable returns pending/processing transactions whose expires_at has
	// passed, bounded by limit, for the sweeper.
	ScanExpirable(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)

	// BeginIdempotency implements the C4 begin() contract.
	BeginIdempotency(ctx context.Context, key, requestHash string, ttl, processingTimeout time.Duration) (IdempotencyOutcome, *models.IdempotencyRecord, error)
	CompleteIdempotency(ctx context.Context, key string, response map[string]any) error
	FailIdempotency(ctx context.Context, key string, response map[string]any) error
	SweepExpiredIdempotency(ctx context.Context, now time.Time, limit int) (int64, error)

	InsertDeadLetter(ctx context.Context, entry models.DeadLetterEntry) error
}

// IdempotencyOutcome is the C4 begin() result variant.
type IdempotencyOutcome int

const (
	IdemFresh IdempotencyOutcome = iota
	IdemInProgress
	IdemAlreadyCompleted
	IdemConflict
	IdemTimedOutRestarted
)

// GormStore is the production Store backed by gorm.io/gorm (postgres in prod, sqlite in
// tests), following the teacher's pattern of a thin wrapper struct holding *gorm.DB.
type GormStore struct {
	db *gorm.DB
}

// New constructs a GormStore. Panics if db is nil, matching the teacher's
// RetryService constructor guard against misconfiguration.
func New(db *gorm.DB) *GormStore {
	if db == nil {
		panic("store: nil *gorm.DB")
	}
	return &GormStore{db: db}
}

// AutoMigrate creates/updates the schema for all store-owned models. Called once at
// process startup, mirroring the teacher's WebhookService auto-migrating DeadLetterEntry.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.Transaction{},
		&models.AuditEvent{},
		&models.IdempotencyRecord{},
		&models.DeadLetterEntry{},
	)
}

func (s *GormStore) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	return s.db.WithContext(ctx).Create(tx).Error
}

func (s *GormStore) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var tx models.Transaction
	if err := s.db.WithContext(ctx).First(&tx, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *GormStore) GetTransactionByReference(ctx context.Context, externalReference string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := s.db.WithContext(ctx).First(&tx, "external_reference = ?", externalReference).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *GormStore) GetTransactionByProviderRef(ctx context.Context, providerTag, providerTxID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).
		Where("primary_provider = ? AND provider_reference = ?", providerTag, providerTxID).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *GormStore) ConditionalTransition(ctx context.Context, id uuid.UUID, from, to models.Status, mutate func(*models.Transaction), event models.AuditEvent) (bool, error) {
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Transaction
		if err := tx.Clauses().First(&current, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if mutate != nil {
			mutate(&current)
		}
		current.Status = to
		current.UpdatedAt = time.Now()

		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]any{
				"status":             to,
				"updated_at":         current.UpdatedAt,
				"primary_provider":   current.PrimaryProvider,
				"provider_reference": current.ProviderReference,
				"cross_network":      current.CrossNetwork,
				"retry_count":        current.RetryCount,
				"attempts":           current.Attempts,
				"confirmed_at":       current.ConfirmedAt,
				"cancelled_at":       current.CancelledAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			applied = false
			return nil
		}
		applied = true

		event.ID = uuid.New()
		event.TransactionID = id
		event.FromStatus = from
		event.ToStatus = to
		event.CreatedAt = time.Now()
		return tx.Create(&event).Error
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *GormStore) UpdateAttempts(ctx context.Context, id uuid.UUID, expectedStatus models.Status, attempts []models.Attempt, providerTag, providerRef string) error {
	return s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(map[string]any{
			"attempts":           datatypes.NewJSONType(attempts),
			"primary_provider":   providerTag,
			"provider_reference": providerRef,
			"updated_at":         time.Now(),
		}).Error
}

func (s *GormStore) AppendAuditEvent(ctx context.Context, event models.AuditEvent) error {
	event.ID = uuid.New()
	event.CreatedAt = time.Now()
	return s.db.WithContext(ctx).Create(&event).Error
}

func (s *GormStore) CountAuditEvents(ctx context.Context, transactionID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.AuditEvent{}).
		Where("transaction_id = ?", transactionID).
		Count(&count).Error
	return count, err
}

func (s *GormStore) ScanExpirable(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", []models.Status{models.StatusPending, models.StatusProcessing}, now).
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (s *GormStore) BeginIdempotency(ctx context.Context, key, requestHash string, ttl, processingTimeout time.Duration) (IdempotencyOutcome, *models.IdempotencyRecord, error) {
	now := time.Now()
	rec := &models.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      models.IdemProcessing,
		AttemptCount: 1,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	var outcome IdempotencyOutcome
	var result *models.IdempotencyRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		createErr := tx.Create(rec).Error
		if createErr == nil {
			outcome = IdemFresh
			result = rec
			return nil
		}

		// Conditional insert lost the race (or the key already exists): read it back.
		var existing models.IdempotencyRecord
		if err := tx.First(&existing, "key = ?", key).Error; err != nil {
			return err
		}

		if existing.RequestHash != requestHash {
			outcome = IdemConflict
			result = &existing
			return nil
		}

		switch existing.Status {
		case models.IdemCompleted, models.IdemFailed:
			outcome = IdemAlreadyCompleted
			result = &existing
			return nil
		case models.IdemProcessing:
			if now.Sub(existing.CreatedAt) <= processingTimeout {
				outcome = IdemInProgress
				result = &existing
				return nil
			}
			res := tx.Model(&models.IdempotencyRecord{}).
				Where("key = ? AND status = ?", key, models.IdemProcessing).
				Updates(map[string]any{
					"attempt_count": gorm.Expr("attempt_count + 1"),
					"created_at":    now,
					"expires_at":    now.Add(ttl),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Lost the race to another restarter; treat as in-progress.
				outcome = IdemInProgress
				result = &existing
				return nil
			}
			existing.AttemptCount++
			outcome = IdemTimedOutRestarted
			result = &existing
			return nil
		default:
			outcome = IdemInProgress
			result = &existing
			return nil
		}
	})
	if err != nil {
		return 0, nil, err
	}
	return outcome, result, nil
}

func (s *GormStore) CompleteIdempotency(ctx context.Context, key string, response map[string]any) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("key = ?", key).
		Updates(map[string]any{
			"status":       models.IdemCompleted,
			"response":     datatypes.NewJSONType(response),
			"completed_at": now,
		}).Error
}

func (s *GormStore) FailIdempotency(ctx context.Context, key string, response map[string]any) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("key = ?", key).
		Updates(map[string]any{
			"status":       models.IdemFailed,
			"response":     datatypes.NewJSONType(response),
			"completed_at": now,
		}).Error
}

func (s *GormStore) SweepExpiredIdempotency(ctx context.Context, now time.Time, limit int) (int64, error) {
	sub := s.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("expires_at < ?", now).
		Limit(limit).
		Select("key")
	res := s.db.WithContext(ctx).Where("key IN (?)", sub).Delete(&models.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) InsertDeadLetter(ctx context.Context, entry models.DeadLetterEntry) error {
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	return s.db.WithContext(ctx).Create(&entry).Error
}
