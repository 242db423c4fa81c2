package consumers

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"settlement-service/internal/models"
	"settlement-service/internal/repository"
	"settlement-service/internal/services"
	"settlement-service/pkg/common"
)

const claimBatchSize = 10

// TransactionProcessor drives pending transactions to completed, and hands
// transactions that fail terminally to the dead-letter service. It serves two
// paths: asynq tasks enqueued at ingestion, and a periodic claim sweep that
// catches rows whose enqueue was lost to a queue outage.
type TransactionProcessor struct {
	Repo repository.TransactionRepository
	DLQ  *services.DLQService
	cron *cron.Cron
}

func NewTransactionProcessor(repo repository.TransactionRepository, dlq *services.DLQService) *TransactionProcessor {
	return &TransactionProcessor{Repo: repo, DLQ: dlq}
}

// ProcessTransaction completes one pending transaction. A transaction no
// longer pending is treated as already handled.
func (p *TransactionProcessor) ProcessTransaction(ctx context.Context, txID uuid.UUID) error {
	tx, err := p.Repo.GetByID(ctx, txID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			log.Printf("Processing skipped: transaction %s not found", txID)
			return nil
		}
		return err
	}
	if tx.Status != models.StatusPending {
		log.Printf("Processing skipped: transaction %s is %s", txID, tx.Status)
		return nil
	}

	if err := p.Repo.UpdateStatus(ctx, txID, models.StatusCompleted); err != nil {
		if common.IsValidationError(err) {
			// Status moved under us; nothing left to do here.
			return nil
		}
		return err
	}
	return nil
}

// Quarantine moves a transaction that exhausted its retries to the dead
// letter set. Best effort: a failure here is logged, never propagated into
// the caller's processing loop.
func (p *TransactionProcessor) Quarantine(ctx context.Context, txID uuid.UUID, reason string) {
	if _, err := p.DLQ.MoveToDeadLetter(ctx, txID, reason, nil); err != nil {
		log.Printf("Failed to dead-letter transaction %s: %v", txID, err)
	}
}

// ProcessPendingBatch claims up to claimBatchSize pending rows with SKIP
// LOCKED and completes them. Concurrent sweep workers each claim disjoint
// rows and make forward progress instead of serializing.
func (p *TransactionProcessor) ProcessPendingBatch(ctx context.Context) (int, error) {
	processed := 0
	err := p.Repo.WithTransaction(ctx, func(dbtx *gorm.DB) error {
		var pending []models.Transaction
		if err := dbtx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", models.StatusPending).
			Order("created_at ASC").
			Limit(claimBatchSize).
			Find(&pending).Error; err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(pending))
		for _, tx := range pending {
			ids = append(ids, tx.ID)
		}
		if err := dbtx.Model(&models.Transaction{}).
			Where("id IN ?", ids).
			Update("status", models.StatusCompleted).Error; err != nil {
			return err
		}
		processed = len(pending)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return processed, nil
}

// StartScheduler runs the claim sweep on a fixed interval.
func (p *TransactionProcessor) StartScheduler(every string) {
	if every == "" {
		every = "1m"
	}
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", every), func() {
		n, err := p.ProcessPendingBatch(context.Background())
		if err != nil {
			log.Printf("Pending claim sweep error: %v", err)
			return
		}
		if n > 0 {
			log.Printf("Pending claim sweep processed %d transaction(s)", n)
		}
	})
	if err != nil {
		log.Printf("Error scheduling pending claim sweep: %v", err)
		return
	}
	c.Start()
	p.cron = c
	log.Printf("Pending claim sweep started (every %s)", every)
}
