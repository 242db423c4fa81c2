package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Transaction statuses. A transaction is settled once SettlementID is set;
// that link is append-only and never cleared.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusDLQ       = "dlq"
)

type Transaction struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Account        string          `gorm:"column:account;size:56;not null;index" json:"account"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(30,7);not null" json:"amount"`
	AssetCode      string          `gorm:"column:asset_code;size:12;not null;index:idx_tx_asset_status" json:"asset_code"`
	Status         string          `gorm:"column:status;size:20;not null;default:pending;index:idx_tx_asset_status" json:"status"`
	AnchorTxID     *string         `gorm:"column:anchor_transaction_id;size:255;index" json:"anchor_transaction_id,omitempty"`
	CallbackType   *string         `gorm:"column:callback_type;size:20" json:"callback_type,omitempty"`
	CallbackStatus *string         `gorm:"column:callback_status;size:20" json:"callback_status,omitempty"`
	Memo           *string         `gorm:"column:memo;size:255" json:"memo,omitempty"`
	MemoType       *string         `gorm:"column:memo_type;size:10" json:"memo_type,omitempty"`
	Metadata       datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
	SettlementID   *uuid.UUID      `gorm:"column:settlement_id;type:uuid;index" json:"settlement_id,omitempty"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime;index:idx_tx_created_id,priority:1" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// NewTransaction builds a pending transaction for an accepted callback.
func NewTransaction(account string, amount decimal.Decimal, assetCode string) Transaction {
	return Transaction{
		ID:        uuid.New(),
		Account:   account,
		Amount:    amount,
		AssetCode: assetCode,
		Status:    StatusPending,
	}
}

// IsValidStatus reports whether s is one of the known lifecycle statuses.
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusDLQ:
		return true
	}
	return false
}

// ValidStatusTransition reports whether moving between two statuses follows
// the lifecycle graph: pending -> completed|failed|dlq, completed|failed -> dlq,
// dlq -> pending (requeue). Nothing skips dlq back to completed.
func ValidStatusTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusCompleted || to == StatusFailed || to == StatusDLQ
	case StatusCompleted, StatusFailed:
		return to == StatusDLQ
	case StatusDLQ:
		return to == StatusPending
	}
	return false
}
