package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"settlement-service/internal/database"
	"settlement-service/internal/models"
	"settlement-service/pkg/common"
)

// SearchFilters combines equality and range filters for transaction search.
// Zero values mean "not filtered".
type SearchFilters struct {
	Status     string
	AssetCode  string
	Account    string
	AnchorTxID string
	AmountMin  *decimal.Decimal
	AmountMax  *decimal.Decimal
	DateFrom   *time.Time
	DateTo     *time.Time
}

// TransactionRepository is the persistence boundary for transaction rows.
// Settlement and resilience logic depend only on this interface.
type TransactionRepository interface {
	Insert(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByAnchorTxID(ctx context.Context, anchorTxID string) (*models.Transaction, error)
	ListPage(ctx context.Context, limit int, cursor *common.Cursor, direction string) ([]models.Transaction, bool, error)
	Search(ctx context.Context, filters SearchFilters, limit int, cursor *common.Cursor) (int64, []models.Transaction, bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	DistinctUnsettledAssets(ctx context.Context) ([]string, error)
	LockUnsettled(dbtx *gorm.DB, assetCode string, asOf time.Time) ([]models.Transaction, error)
	LinkToSettlement(dbtx *gorm.DB, ids []uuid.UUID, settlementID uuid.UUID) error
	WithTransaction(ctx context.Context, fn func(dbtx *gorm.DB) error) error
}

// TransactionRepo is the gorm implementation over the connection router.
// Point lookups and listings ride replicas with primary fallback; every
// mutation goes to the primary.
type TransactionRepo struct {
	router *database.Router
}

func NewTransactionRepo(router *database.Router) *TransactionRepo {
	return &TransactionRepo{router: router}
}

func (r *TransactionRepo) Insert(ctx context.Context, tx *models.Transaction) error {
	return r.router.Write(ctx, func(db *gorm.DB) error {
		return db.Create(tx).Error
	})
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.router.Read(ctx, func(db *gorm.DB) error {
		return db.Where("id = ?", id).First(&tx).Error
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *TransactionRepo) GetByAnchorTxID(ctx context.Context, anchorTxID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.router.Read(ctx, func(db *gorm.DB) error {
		return db.Where("anchor_transaction_id = ?", anchorTxID).
			Order("created_at DESC").First(&tx).Error
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListPage pages over (created_at, id) keyset, newest first. DirectionOlder
// walks forward through history; DirectionNewer walks back toward the head,
// fetching ascending and reversing so the page stays newest-first. The
// composite cursor gives stable ordering under concurrent inserts: no gaps,
// no duplicates.
func (r *TransactionRepo) ListPage(ctx context.Context, limit int, cursor *common.Cursor, direction string) ([]models.Transaction, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	var items []models.Transaction
	err := r.router.Read(ctx, func(db *gorm.DB) error {
		items = items[:0]
		q := db.Model(&models.Transaction{})

		newer := direction == common.DirectionNewer
		if cursor != nil {
			if newer {
				q = q.Where("(created_at, id) > (?, ?)", cursor.CreatedAt, cursor.ID)
			} else {
				q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
			}
		}
		if newer {
			q = q.Order("created_at ASC, id ASC")
		} else {
			q = q.Order("created_at DESC, id DESC")
		}

		// Fetch one extra row to learn whether another page exists.
		return q.Limit(limit + 1).Find(&items).Error
	})
	if err != nil {
		return nil, false, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	if direction == common.DirectionNewer {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	return items, hasMore, nil
}

func (r *TransactionRepo) Search(ctx context.Context, filters SearchFilters, limit int, cursor *common.Cursor) (int64, []models.Transaction, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int64
	var items []models.Transaction
	err := r.router.Read(ctx, func(db *gorm.DB) error {
		items = items[:0]
		q := applyFilters(db.Model(&models.Transaction{}), filters)

		if err := q.Count(&total).Error; err != nil {
			return err
		}

		if cursor != nil {
			q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
		}
		// Fetch one extra row to learn whether another page exists.
		return q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&items).Error
	})
	if err != nil {
		return 0, nil, false, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	return total, items, hasMore, nil
}

func applyFilters(q *gorm.DB, f SearchFilters) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.AssetCode != "" {
		q = q.Where("asset_code = ?", f.AssetCode)
	}
	if f.Account != "" {
		q = q.Where("account = ?", f.Account)
	}
	if f.AnchorTxID != "" {
		q = q.Where("anchor_transaction_id = ?", f.AnchorTxID)
	}
	if f.AmountMin != nil {
		q = q.Where("amount >= ?", f.AmountMin)
	}
	if f.AmountMax != nil {
		q = q.Where("amount <= ?", f.AmountMax)
	}
	if f.DateFrom != nil {
		q = q.Where("created_at >= ?", f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("created_at <= ?", f.DateTo)
	}
	return q
}

// UpdateStatus enforces the lifecycle graph before mutating. The read and
// write share one primary transaction so a racing update cannot slip an
// illegal transition through.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	return r.WithTransaction(ctx, func(dbtx *gorm.DB) error {
		var tx models.Transaction
		if err := dbtx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&tx).Error; err != nil {
			return err
		}
		if !models.ValidStatusTransition(tx.Status, status) {
			return common.NewValidationError("status", "invalid transition from "+tx.Status+" to "+status)
		}
		return dbtx.Model(&models.Transaction{}).Where("id = ?", id).
			Update("status", status).Error
	})
}

func (r *TransactionRepo) DistinctUnsettledAssets(ctx context.Context) ([]string, error) {
	var assets []string
	err := r.router.Read(ctx, func(db *gorm.DB) error {
		assets = assets[:0]
		return db.Model(&models.Transaction{}).
			Where("status = ? AND settlement_id IS NULL", models.StatusCompleted).
			Distinct().Pluck("asset_code", &assets).Error
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// LockUnsettled is the scan at the heart of settlement. It selects every
// completed, unsettled row for the asset up to asOf and takes row-level
// exclusive locks for the duration of the enclosing transaction. SKIP LOCKED
// lets two concurrent settlement runs claim disjoint rows instead of
// blocking on each other.
func (r *TransactionRepo) LockUnsettled(dbtx *gorm.DB, assetCode string, asOf time.Time) ([]models.Transaction, error) {
	var items []models.Transaction
	err := dbtx.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND settlement_id IS NULL AND asset_code = ? AND updated_at <= ?",
			models.StatusCompleted, assetCode, asOf).
		Find(&items).Error
	if err != nil {
		return nil, database.TranslateError(err)
	}
	return items, nil
}

// LinkToSettlement stamps every given row inside the same locked transaction.
// Either all rows update or the enclosing transaction rolls back.
func (r *TransactionRepo) LinkToSettlement(dbtx *gorm.DB, ids []uuid.UUID, settlementID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return dbtx.Model(&models.Transaction{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"settlement_id": settlementID,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// WithTransaction runs fn inside one primary gorm transaction. An interrupted
// invocation relies on the transaction's own rollback, so no partial state is
// ever visible.
func (r *TransactionRepo) WithTransaction(ctx context.Context, fn func(dbtx *gorm.DB) error) error {
	err := r.router.Primary().WithContext(ctx).Transaction(fn)
	return database.TranslateError(err)
}
