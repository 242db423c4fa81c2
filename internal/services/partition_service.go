package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"settlement-service/internal/database"
)

// PartitionService owns the monthly partitions of the transactions table.
// Its only contract with the rest of the core: a writable partition exists
// before a transaction with that created-at month is inserted.
type PartitionService struct {
	Router          *database.Router
	MonthsAhead     int
	RetentionMonths int
	cron            *cron.Cron
}

func NewPartitionService(router *database.Router, monthsAhead, retentionMonths int) *PartitionService {
	if monthsAhead <= 0 {
		monthsAhead = 2
	}
	if retentionMonths <= 0 {
		retentionMonths = 12
	}
	return &PartitionService{Router: router, MonthsAhead: monthsAhead, RetentionMonths: retentionMonths}
}

func partitionName(year int, month time.Month) string {
	return fmt.Sprintf("transactions_y%dm%02d", year, int(month))
}

// CreateMonthPartition creates the partition covering one month, with the
// per-partition indexes the settlement scan depends on.
func (s *PartitionService) CreateMonthPartition(ctx context.Context, year int, month time.Month) error {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	name := partitionName(year, month)

	return s.Router.Write(ctx, func(db *gorm.DB) error {
		createSQL := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %q PARTITION OF transactions FOR VALUES FROM ('%s') TO ('%s')`,
			name, start.Format(time.RFC3339), end.Format(time.RFC3339),
		)
		if err := db.Exec(createSQL).Error; err != nil {
			return err
		}
		idxStatus := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %q (status)`, name, name)
		if err := db.Exec(idxStatus).Error; err != nil {
			return err
		}
		idxAccount := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_account ON %q (account)`, name, name)
		return db.Exec(idxAccount).Error
	})
}

// EnsurePartitions creates partitions for the current month and the
// configured number of months ahead.
func (s *PartitionService) EnsurePartitions(ctx context.Context) error {
	now := time.Now().UTC()
	for i := 0; i <= s.MonthsAhead; i++ {
		target := now.AddDate(0, i, 0)
		if err := s.CreateMonthPartition(ctx, target.Year(), target.Month()); err != nil {
			return fmt.Errorf("create partition for %d-%02d: %w", target.Year(), int(target.Month()), err)
		}
	}
	return nil
}

// DetachOldPartitions detaches partitions past the retention window and
// parks them in the archive schema. Transactions are never physically
// deleted; archival is partition detachment.
func (s *PartitionService) DetachOldPartitions(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, -s.RetentionMonths, 0)

	return s.Router.Write(ctx, func(db *gorm.DB) error {
		if err := db.Exec(`CREATE SCHEMA IF NOT EXISTS archive`).Error; err != nil {
			return err
		}

		var children []string
		if err := db.Raw(
			`SELECT c.relname FROM pg_inherits i
			 JOIN pg_class c ON i.inhrelid = c.oid
			 JOIN pg_class p ON i.inhparent = p.oid
			 WHERE p.relname = 'transactions'`,
		).Scan(&children).Error; err != nil {
			return err
		}

		for _, child := range children {
			year, month, ok := parsePartitionName(child)
			if !ok {
				continue
			}
			partStart := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
			if !partStart.Before(cutoff) {
				continue
			}
			if err := db.Exec(fmt.Sprintf(`ALTER TABLE transactions DETACH PARTITION %q`, child)).Error; err != nil {
				return err
			}
			if err := db.Exec(fmt.Sprintf(`ALTER TABLE %q SET SCHEMA archive`, child)).Error; err != nil {
				return err
			}
			log.Printf("Detached partition %s to archive schema", child)
		}
		return nil
	})
}

// parsePartitionName extracts (year, month) from transactions_yYYYYmMM.
func parsePartitionName(name string) (int, time.Month, bool) {
	var year, month int
	if n, err := fmt.Sscanf(name, "transactions_y%dm%d", &year, &month); err != nil || n != 2 {
		return 0, 0, false
	}
	if month < 1 || month > 12 {
		return 0, 0, false
	}
	return year, time.Month(month), true
}

// StartScheduler runs partition maintenance daily at midnight.
func (s *PartitionService) StartScheduler() {
	c := cron.New()
	_, err := c.AddFunc("0 0 * * *", func() {
		log.Println("Running scheduled partition maintenance...")
		ctx := context.Background()
		if err := s.EnsurePartitions(ctx); err != nil {
			log.Printf("Partition creation failed: %v", err)
		}
		if err := s.DetachOldPartitions(ctx); err != nil {
			log.Printf("Partition detachment failed: %v", err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling partition maintenance: %v", err)
		return
	}
	c.Start()
	log.Println("Partition maintenance scheduler started (daily at 00:00)")
}
