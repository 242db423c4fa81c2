package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"settlement-service/internal/database"
	"settlement-service/internal/models"
	"settlement-service/internal/repository"
	"settlement-service/pkg/common"
)

// SettlementService aggregates completed, unsettled transactions into one
// settlement batch per asset. The row locks taken by LockUnsettled are what
// keep two concurrent runs from including the same transaction twice.
type SettlementService struct {
	Repo     repository.TransactionRepository
	Router   *database.Router
	Interval time.Duration

	sweepMu sync.Mutex
	cron    *cron.Cron
}

func NewSettlementService(repo repository.TransactionRepository, router *database.Router, interval time.Duration) *SettlementService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SettlementService{Repo: repo, Router: router, Interval: interval}
}

// RunSettlements settles every asset with at least one eligible transaction.
// Each asset is its own atomic unit of work; a failure settling one asset is
// logged and skipped, never aborting the rest of the sweep.
func (s *SettlementService) RunSettlements(ctx context.Context) ([]models.Settlement, error) {
	assets, err := s.Repo.DistinctUnsettledAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover assets to settle: %w", err)
	}

	var results []models.Settlement
	for _, asset := range assets {
		settlement, err := s.SettleAsset(ctx, asset)
		if err != nil {
			log.Printf("Failed to settle asset %s: %v", asset, err)
			continue
		}
		if settlement == nil {
			log.Printf("No transactions to settle for asset %s", asset)
			continue
		}
		results = append(results, *settlement)
	}
	return results, nil
}

// SettleAsset settles everything eligible for one asset up to "now" in a
// single store transaction. An empty candidate set rolls back and returns
// nil, nil: a safe no-op, which also makes an immediate re-run idempotent.
func (s *SettlementService) SettleAsset(ctx context.Context, assetCode string) (*models.Settlement, error) {
	var settlement *models.Settlement

	err := s.Repo.WithTransaction(ctx, func(dbtx *gorm.DB) error {
		asOf := time.Now().UTC()

		unsettled, err := s.Repo.LockUnsettled(dbtx, assetCode, asOf)
		if err != nil {
			return err
		}
		if len(unsettled) == 0 {
			settlement = nil
			return nil
		}

		total := decimal.Zero
		periodStart := unsettled[0].CreatedAt
		periodEnd := unsettled[0].UpdatedAt
		ids := make([]uuid.UUID, 0, len(unsettled))
		for _, tx := range unsettled {
			total = total.Add(tx.Amount)
			if tx.CreatedAt.Before(periodStart) {
				periodStart = tx.CreatedAt
			}
			if tx.UpdatedAt.After(periodEnd) {
				periodEnd = tx.UpdatedAt
			}
			ids = append(ids, tx.ID)
		}

		record := models.Settlement{
			ID:          uuid.New(),
			Reference:   common.GenerateReference(),
			AssetCode:   assetCode,
			TotalAmount: total,
			TxCount:     len(unsettled),
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			Status:      models.SettlementStatusCompleted,
		}
		if err := dbtx.Create(&record).Error; err != nil {
			return err
		}
		if err := s.Repo.LinkToSettlement(dbtx, ids, record.ID); err != nil {
			return err
		}

		settlement = &record
		return nil
	})
	if err != nil {
		return nil, err
	}

	if settlement != nil {
		log.Printf("Settled %d transactions for asset %s (settlement %s, total %s)",
			settlement.TxCount, assetCode, settlement.ID, settlement.TotalAmount)
	}
	return settlement, nil
}

// ListSettlements returns settlement records newest first.
func (s *SettlementService) ListSettlements(ctx context.Context, limit int) ([]models.Settlement, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var settlements []models.Settlement
	err := s.Router.Read(ctx, func(db *gorm.DB) error {
		settlements = settlements[:0]
		return db.Order("created_at DESC").Limit(limit).Find(&settlements).Error
	})
	if err != nil {
		return nil, err
	}
	return settlements, nil
}

// sweep is the scheduled entry point. A tick that fires while the previous
// sweep is still running is skipped with a warning, not queued.
func (s *SettlementService) sweep() {
	if !s.sweepMu.TryLock() {
		log.Println("Settlement sweep still running, skipping this tick")
		return
	}
	defer s.sweepMu.Unlock()

	log.Println("Running scheduled settlement sweep...")
	results, err := s.RunSettlements(context.Background())
	if err != nil {
		log.Printf("Settlement sweep error: %v", err)
		return
	}
	log.Printf("Settlement sweep finished: %d settlement(s) created", len(results))
}

// StartScheduler initializes the periodic settlement sweep.
func (s *SettlementService) StartScheduler() {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.Interval)
	_, err := c.AddFunc(spec, s.sweep)
	if err != nil {
		log.Printf("Error scheduling settlement sweep: %v", err)
		return
	}
	c.Start()
	s.cron = c
	log.Printf("Settlement scheduler started (every %s)", s.Interval)
}
