package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"settlement-service/internal/database"
	"settlement-service/internal/models"
	"settlement-service/pkg/common"
)

// NOTE: These tests require a running PostgreSQL instance and skip when
// DATABASE_URL is not set.

var (
	testRouter *database.Router
	testRepo   *TransactionRepo
)

func setup() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Println("Skipping DB tests: DATABASE_URL not set")
		return
	}

	var err error
	testRouter, err = database.NewRouter(database.Config{PrimaryDSN: dsn})
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		return
	}

	if err := database.Migrate(testRouter.Primary()); err != nil {
		log.Printf("Failed to migrate: %v", err)
		testRouter = nil
		return
	}

	// The inserts below need a partition covering "now"
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS transactions_y%dm%02d PARTITION OF transactions FOR VALUES FROM ('%s') TO ('%s')`,
		start.Year(), int(start.Month()), start.Format(time.RFC3339), end.Format(time.RFC3339),
	)
	if err := testRouter.Primary().Exec(ddl).Error; err != nil {
		log.Printf("Failed to create partition: %v", err)
		testRouter = nil
		return
	}

	testRepo = NewTransactionRepo(testRouter)
}

func cleanup() {
	if testRouter != nil {
		db := testRouter.Primary()
		db.Exec("DELETE FROM transaction_dead_letter")
		db.Exec("DELETE FROM transactions")
		db.Exec("DELETE FROM settlements")
	}
}

func TestMain(m *testing.M) {
	setup()
	code := m.Run()
	cleanup()
	os.Exit(code)
}

const testAccount = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"

func seedN(t *testing.T, n int) []models.Transaction {
	t.Helper()
	txs := make([]models.Transaction, 0, n)
	for i := 0; i < n; i++ {
		tx := models.NewTransaction(testAccount, decimal.NewFromInt(int64(i+1)), "USDC")
		anchor := fmt.Sprintf("anchor-%s", tx.ID)
		tx.AnchorTxID = &anchor
		if err := testRepo.Insert(context.Background(), &tx); err != nil {
			t.Fatalf("seed transaction %d: %v", i, err)
		}
		txs = append(txs, tx)
		time.Sleep(time.Millisecond)
	}
	return txs
}

func TestInsertAndGet(t *testing.T) {
	if testRouter == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	tx := models.NewTransaction(testAccount, decimal.RequireFromString("10.5"), "USDC")
	anchor := "anchor-get-test"
	tx.AnchorTxID = &anchor
	if err := testRepo.Insert(context.Background(), &tx); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := testRepo.GetByID(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.Amount.Equal(tx.Amount) {
		t.Errorf("Expected amount %s, got %s", tx.Amount, got.Amount)
	}

	byAnchor, err := testRepo.GetByAnchorTxID(context.Background(), anchor)
	if err != nil {
		t.Fatalf("GetByAnchorTxID failed: %v", err)
	}
	if byAnchor.ID != tx.ID {
		t.Errorf("Expected id %s, got %s", tx.ID, byAnchor.ID)
	}

	_, err = testRepo.GetByID(context.Background(), uuid.New())
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// Paging through the whole set must visit every row exactly once.
func TestListPageNoGapsNoDuplicates(t *testing.T) {
	if testRouter == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	seedN(t, 25)

	seen := map[uuid.UUID]bool{}
	var cursor *common.Cursor
	pages := 0
	for {
		items, hasMore, err := testRepo.ListPage(context.Background(), 10, cursor, common.DirectionOlder)
		if err != nil {
			t.Fatalf("ListPage failed: %v", err)
		}
		for _, tx := range items {
			if seen[tx.ID] {
				t.Errorf("Duplicate transaction %s across pages", tx.ID)
			}
			seen[tx.ID] = true
		}
		pages++
		if !hasMore {
			break
		}
		last := items[len(items)-1]
		cursor = &common.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	if len(seen) != 25 {
		t.Errorf("Expected 25 distinct transactions, got %d", len(seen))
	}
	if pages != 3 {
		t.Errorf("Expected 3 pages, got %d", pages)
	}
}

func TestListPageNewerDirection(t *testing.T) {
	if testRouter == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	txs := seedN(t, 5)

	// Cursor at the oldest row; newer direction returns the rest, newest first
	oldest := txs[0]
	cursor := &common.Cursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID}

	items, _, err := testRepo.ListPage(context.Background(), 10, cursor, common.DirectionNewer)
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("Expected 4 newer transactions, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].CreatedAt.After(items[i-1].CreatedAt) {
			t.Errorf("Page not ordered newest first at index %d", i)
		}
	}
}

func TestSearchFilters(t *testing.T) {
	if testRouter == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	seedN(t, 5)
	other := models.NewTransaction(testAccount, decimal.RequireFromString("100"), "XLM")
	other.Status = models.StatusCompleted
	if err := testRepo.Insert(context.Background(), &other); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	total, items, _, err := testRepo.Search(context.Background(),
		SearchFilters{Status: models.StatusPending, AssetCode: "USDC"}, 50, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if total != 5 || len(items) != 5 {
		t.Errorf("Expected 5 pending USDC transactions, got total=%d len=%d", total, len(items))
	}

	min := decimal.RequireFromString("3")
	total, items, _, err = testRepo.Search(context.Background(),
		SearchFilters{AssetCode: "USDC", AmountMin: &min}, 50, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected 3 transactions with amount >= 3, got %d", total)
	}
	for _, tx := range items {
		if tx.Amount.LessThan(min) {
			t.Errorf("Transaction %s below amount floor: %s", tx.ID, tx.Amount)
		}
	}
}

func TestSearchHasMoreOnExactMultiple(t *testing.T) {
	if testRouter == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	seedN(t, 6)

	// A result set that fills the page exactly is the last page.
	_, items, hasMore, err := testRepo.Search(context.Background(),
		SearchFilters{AssetCode: "USDC"}, 6, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(items) != 6 {
		t.Fatalf("Expected 6 transactions, got %d", len(items))
	}
	if hasMore {
		t.Error("Expected hasMore=false when the result count equals the limit")
	}

	_, items, hasMore, err = testRepo.Search(context.Background(),
		SearchFilters{AssetCode: "USDC"}, 3, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(items) != 3 || !hasMore {
		t.Errorf("Expected a truncated page with hasMore=true, got len=%d hasMore=%v", len(items), hasMore)
	}
}

func TestUpdateStatusEnforcesLifecycle(t *testing.T) {
	if testRouter == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	tx := models.NewTransaction(testAccount, decimal.RequireFromString("1"), "USDC")
	if err := testRepo.Insert(context.Background(), &tx); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := testRepo.UpdateStatus(context.Background(), tx.ID, models.StatusCompleted); err != nil {
		t.Fatalf("pending -> completed should succeed: %v", err)
	}

	// completed -> pending is not in the lifecycle graph
	err := testRepo.UpdateStatus(context.Background(), tx.ID, models.StatusPending)
	if !common.IsValidationError(err) {
		t.Errorf("Expected validation error for completed -> pending, got %v", err)
	}

	if err := testRepo.UpdateStatus(context.Background(), uuid.New(), models.StatusCompleted); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestDistinctUnsettledAssets(t *testing.T) {
	if testRouter == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	for _, asset := range []string{"USDC", "USDC", "XLM"} {
		tx := models.NewTransaction(testAccount, decimal.RequireFromString("1"), asset)
		tx.Status = models.StatusCompleted
		if err := testRepo.Insert(context.Background(), &tx); err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
	}

	assets, err := testRepo.DistinctUnsettledAssets(context.Background())
	if err != nil {
		t.Fatalf("DistinctUnsettledAssets failed: %v", err)
	}
	if len(assets) != 2 {
		t.Errorf("Expected 2 distinct assets, got %v", assets)
	}
}
