// Package models holds the persisted entities of the dispatch core: the Transaction
// itself, its audit trail, idempotency records and per-attempt provider call logs.
// These are GORM models; the store package is the only thing that touches a *gorm.DB.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status is one of the eight canonical transaction lifecycle states.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether the status is one of the five terminal states of I2.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusExpired, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// TransactionType enumerates the kinds of money movement the core drives.
type TransactionType string

const (
	TypePayment  TransactionType = "payment"
	TypeRefund   TransactionType = "refund"
	TypeTransfer TransactionType = "transfer"
)

// RiskLevel mirrors the fraud scorer contract of §6.2.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Attempt is one entry in a transaction's ordered attempts sequence: a single provider
// call, successful or not. Mirrors the source's ProviderTransaction row, flattened onto
// the transaction's JSON column per §3.1's "attempts: ordered sequence" wording.
type Attempt struct {
	ProviderTag   string     `json:"provider_tag"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Outcome       string     `json:"outcome"`
	ErrorCode     string     `json:"error_code,omitempty"`
	ProviderTxID  string     `json:"provider_tx_id,omitempty"`
	ProviderRef   string     `json:"provider_reference,omitempty"`
}

// Transaction is the single authoritative entity of the dispatch core.
type Transaction struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalReference  string          `gorm:"uniqueIndex;size:64" json:"external_reference"`
	UserID             string          `gorm:"index;size:64" json:"user_id"`
	Amount             int64           `json:"amount"` // minor units (cents), fixed-point per §3.1
	Currency           string          `gorm:"size:3" json:"currency"`
	RecipientPhone     string          `gorm:"size:20" json:"recipient_phone"`
	RecipientName      string          `gorm:"size:255" json:"recipient_name"`
	Description        string          `json:"description,omitempty"`
	TransactionType    TransactionType `gorm:"size:20" json:"transaction_type"`
	Status             Status          `gorm:"size:20;index" json:"status"`
	PrimaryProvider    *string         `gorm:"size:32" json:"primary_provider,omitempty"`
	ProviderReference  *string         `gorm:"size:128" json:"provider_reference,omitempty"`
	CrossNetwork       bool            `json:"cross_network"`
	RiskScore          float64         `json:"risk_score"`
	RiskLevel          RiskLevel       `gorm:"size:16" json:"risk_level"`
	RiskReason         string          `gorm:"size:64" json:"risk_reason,omitempty"`
	RetryCount         int             `json:"retry_count"`
	MaxRetries         int             `json:"max_retries"`
	Attempts           datatypes.JSONType[[]Attempt] `json:"attempts"`
	Metadata           datatypes.JSONType[map[string]any] `json:"metadata"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	ExpiresAt          time.Time       `gorm:"index" json:"expires_at"`
	ConfirmedAt        *time.Time      `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	RefundOfID         *uuid.UUID      `gorm:"type:uuid" json:"refund_of_id,omitempty"`
}

func (Transaction) TableName() string { return "transactions" }

// IsFinal mirrors the source's Transaction.is_final_state convenience property.
func (t *Transaction) IsFinal() bool { return t.Status.Terminal() }

// AuditEvent is one row per state transition (or rejected/no-op transition attempt
// worth recording), modeled on the source's TransactionEvent table.
type AuditEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID uuid.UUID `gorm:"type:uuid;index" json:"transaction_id"`
	EventType     string    `gorm:"size:64" json:"event_type"`
	FromStatus    Status    `gorm:"size:20" json:"from_status"`
	ToStatus      Status    `gorm:"size:20" json:"to_status"`
	Provider      string    `gorm:"size:32" json:"provider,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	EventData     datatypes.JSONType[map[string]any] `json:"event_data"`
	CreatedAt     time.Time `json:"created_at"`
}

func (AuditEvent) TableName() string { return "transaction_events" }

// IdempotencyStatus is the lifecycle of a client-submitted idempotency record.
type IdempotencyStatus string

const (
	IdemProcessing IdempotencyStatus = "processing"
	IdemCompleted  IdempotencyStatus = "completed"
	IdemFailed     IdempotencyStatus = "failed"
)

// IdempotencyRecord caches the outcome of a client request by its idempotency key.
type IdempotencyRecord struct {
	Key          string            `gorm:"primaryKey;size:255" json:"key"`
	RequestHash  string            `gorm:"size:64" json:"request_hash"`
	Status       IdempotencyStatus `gorm:"size:16" json:"status"`
	Response     datatypes.JSONType[map[string]any] `json:"response"`
	AttemptCount int               `json:"attempt_count"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	ExpiresAt    time.Time         `gorm:"index" json:"expires_at"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_records" }

// DeadLetterEntry persists a webhook that verified successfully but failed to apply to
// a transaction, modeled on the teacher's WebhookService.logToDLQ.
type DeadLetterEntry struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProviderTag  string    `gorm:"size:32" json:"provider_tag"`
	Payload      []byte    `json:"payload"`
	Error        string    `json:"error"`
	CreatedAt    time.Time `json:"created_at"`
}

func (DeadLetterEntry) TableName() string { return "webhook_dead_letters" }
