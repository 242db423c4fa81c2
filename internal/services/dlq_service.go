package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"settlement-service/internal/database"
	"settlement-service/internal/models"
	"settlement-service/internal/repository"
	"settlement-service/pkg/common"
)

// DLQService moves transactions that failed processing out of the hot path
// and back again. Requeue soft-deletes the entry, so the retry history for a
// transaction survives across repeated move/requeue cycles.
type DLQService struct {
	Repo   repository.TransactionRepository
	Router *database.Router
}

func NewDLQService(repo repository.TransactionRepository, router *database.Router) *DLQService {
	return &DLQService{Repo: repo, Router: router}
}

// MoveToDeadLetter quarantines a transaction: one store transaction creates
// the dead-letter entry (denormalizing account/amount/asset for audit
// independence) and flips the transaction to dlq. The retry count reflects
// how many times this transaction has been through the dead-letter set
// before.
func (s *DLQService) MoveToDeadLetter(ctx context.Context, txID uuid.UUID, reason string, trace *string) (*models.DeadLetterEntry, error) {
	var entry models.DeadLetterEntry

	err := s.Repo.WithTransaction(ctx, func(dbtx *gorm.DB) error {
		// Locking the transaction row serializes concurrent moves for the
		// same id; the partial unique index on live entries backstops it.
		var tx models.Transaction
		if err := dbtx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", txID).First(&tx).Error; err != nil {
			return err
		}

		// At most one live entry per transaction.
		var live int64
		if err := dbtx.Model(&models.DeadLetterEntry{}).
			Where("transaction_id = ?", txID).Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return common.ErrConflict
		}

		// Historical entries (soft-deleted by earlier requeues) drive the
		// retry counter for a transaction failing again after a requeue.
		var history int64
		if err := dbtx.Unscoped().Model(&models.DeadLetterEntry{}).
			Where("transaction_id = ?", txID).Count(&history).Error; err != nil {
			return err
		}

		if !models.ValidStatusTransition(tx.Status, models.StatusDLQ) {
			return common.NewValidationError("status", "cannot dead-letter a transaction in status "+tx.Status)
		}

		entry = models.DeadLetterEntry{
			ID:                uuid.New(),
			TransactionID:     tx.ID,
			Account:           tx.Account,
			Amount:            tx.Amount,
			AssetCode:         tx.AssetCode,
			AnchorTxID:        tx.AnchorTxID,
			ErrorReason:       reason,
			StackTrace:        trace,
			RetryCount:        int(history),
			OriginalCreatedAt: tx.CreatedAt,
		}
		if err := dbtx.Create(&entry).Error; err != nil {
			return err
		}

		return dbtx.Model(&models.Transaction{}).Where("id = ?", tx.ID).
			Update("status", models.StatusDLQ).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Transaction %s moved to dead letter: %s", txID, reason)
	return &entry, nil
}

// Requeue reverses a dead-letter move: the linked transaction goes back to
// pending and the entry is retired, atomically. A crash mid-way rolls back
// both effects.
func (s *DLQService) Requeue(ctx context.Context, dlqID uuid.UUID) error {
	return s.Repo.WithTransaction(ctx, func(dbtx *gorm.DB) error {
		var entry models.DeadLetterEntry
		if err := dbtx.Where("id = ?", dlqID).First(&entry).Error; err != nil {
			return err
		}

		if err := dbtx.Model(&models.Transaction{}).
			Where("id = ?", entry.TransactionID).
			Update("status", models.StatusPending).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := dbtx.Model(&models.DeadLetterEntry{}).
			Where("id = ?", entry.ID).
			Update("last_retry_at", now).Error; err != nil {
			return err
		}
		return dbtx.Delete(&models.DeadLetterEntry{}, "id = ?", entry.ID).Error
	})
}

// RetryByTransactionID serves the admin retry endpoint: the given id is
// tried as a dead-letter id first, then resolved through the entry's
// transaction-id reference. NotFound only when neither path resolves.
func (s *DLQService) RetryByTransactionID(ctx context.Context, id uuid.UUID) error {
	err := s.Requeue(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	var entry models.DeadLetterEntry
	readErr := s.Router.Read(ctx, func(db *gorm.DB) error {
		return db.Where("transaction_id = ?", id).First(&entry).Error
	})
	if readErr != nil {
		return readErr
	}
	return s.Requeue(ctx, entry.ID)
}

// ListDeadLetter returns live entries, most recently quarantined first.
func (s *DLQService) ListDeadLetter(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var entries []models.DeadLetterEntry
	err := s.Router.Read(ctx, func(db *gorm.DB) error {
		entries = entries[:0]
		return db.Order("moved_to_dlq_at DESC").Limit(limit).Find(&entries).Error
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
