package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DeadLetterEntry quarantines a transaction that failed processing. Account,
// amount and asset are denormalized so the audit record stands on its own.
// Requeue soft-deletes the entry, so at most one live entry exists per
// transaction while the full history stays queryable with Unscoped.
type DeadLetterEntry struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID     uuid.UUID       `gorm:"column:transaction_id;type:uuid;not null;index" json:"transaction_id"`
	Account           string          `gorm:"column:account;size:56;not null" json:"account"`
	Amount            decimal.Decimal `gorm:"column:amount;type:decimal(30,7);not null" json:"amount"`
	AssetCode         string          `gorm:"column:asset_code;size:12;not null" json:"asset_code"`
	AnchorTxID        *string         `gorm:"column:anchor_transaction_id;size:255" json:"anchor_transaction_id,omitempty"`
	ErrorReason       string          `gorm:"column:error_reason;type:text;not null" json:"error_reason"`
	StackTrace        *string         `gorm:"column:stack_trace;type:text" json:"stack_trace,omitempty"`
	RetryCount        int             `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	OriginalCreatedAt time.Time       `gorm:"column:original_created_at;not null" json:"original_created_at"`
	MovedAt           time.Time       `gorm:"column:moved_to_dlq_at;autoCreateTime;index" json:"moved_to_dlq_at"`
	LastRetryAt       *time.Time      `gorm:"column:last_retry_at" json:"last_retry_at,omitempty"`
	DeletedAt         gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (DeadLetterEntry) TableName() string {
	return "transaction_dead_letter"
}
