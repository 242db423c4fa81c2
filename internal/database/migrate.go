package database

import (
	"log"

	"gorm.io/gorm"

	"settlement-service/internal/models"
)

// createTransactionsTable declares the month-partitioned parent table.
// AutoMigrate cannot express declarative partitioning, so the parent is raw
// DDL; the partition maintenance job owns creating the monthly children.
// The partition key must be part of the primary key in Postgres.
const createTransactionsTable = `
CREATE TABLE IF NOT EXISTS transactions (
    id uuid NOT NULL,
    account varchar(56) NOT NULL,
    amount decimal(30,7) NOT NULL,
    asset_code varchar(12) NOT NULL,
    status varchar(20) NOT NULL DEFAULT 'pending',
    anchor_transaction_id varchar(255),
    callback_type varchar(20),
    callback_status varchar(20),
    memo varchar(255),
    memo_type varchar(10),
    metadata jsonb,
    settlement_id uuid,
    created_at timestamptz NOT NULL DEFAULT now(),
    updated_at timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (id, created_at)
) PARTITION BY RANGE (created_at)`

var transactionIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_tx_asset_status ON transactions (asset_code, status)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_created_id ON transactions (created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_account ON transactions (account)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_anchor ON transactions (anchor_transaction_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_settlement ON transactions (settlement_id)`,
}

func Migrate(db *gorm.DB) error {
	if err := db.Exec(createTransactionsTable).Error; err != nil {
		return err
	}
	for _, stmt := range transactionIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	if err := db.AutoMigrate(
		&models.Settlement{},
		&models.DeadLetterEntry{},
	); err != nil {
		return err
	}

	// AutoMigrate cannot express a partial index. Uniqueness over live rows
	// only: soft-deleted entries are retry history and may repeat.
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_dlq_live_tx
		ON transaction_dead_letter (transaction_id) WHERE deleted_at IS NULL`).Error; err != nil {
		return err
	}

	log.Println("Database migration completed")
	return nil
}
