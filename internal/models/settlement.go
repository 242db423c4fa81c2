package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const SettlementStatusCompleted = "completed"

// Settlement is an aggregated batch of completed, same-asset transactions.
// Its constituent set is fixed at creation; only Status may change afterwards.
type Settlement struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Reference   string          `gorm:"column:reference;size:12;not null" json:"reference"`
	AssetCode   string          `gorm:"column:asset_code;size:12;not null;index" json:"asset_code"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:decimal(30,7);not null" json:"total_amount"`
	TxCount     int             `gorm:"column:tx_count;not null" json:"tx_count"`
	PeriodStart time.Time       `gorm:"column:period_start;not null" json:"period_start"`
	PeriodEnd   time.Time       `gorm:"column:period_end;not null" json:"period_end"`
	Status      string          `gorm:"column:status;size:20;not null" json:"status"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Settlement) TableName() string {
	return "settlements"
}
