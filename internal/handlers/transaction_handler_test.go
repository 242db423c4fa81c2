package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"settlement-service/internal/models"
	"settlement-service/internal/repository"
	"settlement-service/pkg/common"
)

// stubRepo serves canned transactions so handler behavior tests run without
// a database.
type stubRepo struct {
	transactions    []models.Transaction
	updateStatusErr error
}

func (s *stubRepo) Insert(ctx context.Context, tx *models.Transaction) error { return nil }

func (s *stubRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	for i := range s.transactions {
		if s.transactions[i].ID == id {
			return &s.transactions[i], nil
		}
	}
	return nil, common.ErrNotFound
}

func (s *stubRepo) GetByAnchorTxID(ctx context.Context, anchorTxID string) (*models.Transaction, error) {
	return nil, common.ErrNotFound
}

func (s *stubRepo) ListPage(ctx context.Context, limit int, cursor *common.Cursor, direction string) ([]models.Transaction, bool, error) {
	if limit >= len(s.transactions) {
		return s.transactions, false, nil
	}
	return s.transactions[:limit], true, nil
}

func (s *stubRepo) Search(ctx context.Context, filters repository.SearchFilters, limit int, cursor *common.Cursor) (int64, []models.Transaction, bool, error) {
	var out []models.Transaction
	for _, tx := range s.transactions {
		if filters.Status != "" && tx.Status != filters.Status {
			continue
		}
		out = append(out, tx)
	}
	total := int64(len(out))
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return total, out, hasMore, nil
}

func (s *stubRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	return s.updateStatusErr
}

func (s *stubRepo) DistinctUnsettledAssets(ctx context.Context) ([]string, error) { return nil, nil }

func (s *stubRepo) LockUnsettled(dbtx *gorm.DB, assetCode string, asOf time.Time) ([]models.Transaction, error) {
	return nil, nil
}

func (s *stubRepo) LinkToSettlement(dbtx *gorm.DB, ids []uuid.UUID, settlementID uuid.UUID) error {
	return nil
}

func (s *stubRepo) WithTransaction(ctx context.Context, fn func(dbtx *gorm.DB) error) error {
	return nil
}

func testRouter(repo repository.TransactionRepository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewTransactionHandler(repo)
	r := gin.New()
	r.GET("/transactions", h.ListTransactions)
	r.GET("/transactions/search", h.SearchTransactions)
	r.GET("/transactions/:id", h.GetTransaction)
	return r
}

func seedStub(n int) *stubRepo {
	repo := &stubRepo{}
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		tx := models.NewTransaction("GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ",
			decimal.NewFromInt(int64(i+1)), "USDC")
		tx.CreatedAt = base.Add(time.Duration(n-i) * time.Minute)
		repo.transactions = append(repo.transactions, tx)
	}
	return repo
}

func TestGetTransactionHandler(t *testing.T) {
	repo := seedStub(1)
	r := testRouter(repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/transactions/"+repo.transactions[0].ID.String(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var res common.SuccessResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
}

func TestGetTransactionHandlerNotFound(t *testing.T) {
	r := testRouter(&stubRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/transactions/"+uuid.NewString(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTransactionHandlerBadID(t *testing.T) {
	r := testRouter(&stubRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/transactions/not-a-uuid", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTransactionsHandler(t *testing.T) {
	r := testRouter(seedStub(5))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/transactions?limit=3", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var page common.CursorPage
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.NextCursor)

	// The returned cursor must be decodable
	_, err := common.DecodeCursor(page.NextCursor)
	assert.NoError(t, err)
}

func TestListTransactionsHandlerRejectsBadCursor(t *testing.T) {
	r := testRouter(seedStub(2))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/transactions?cursor=garbage", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTransactionsHandlerRejectsBadDirection(t *testing.T) {
	r := testRouter(seedStub(2))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/transactions?direction=sideways", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchTransactionsHandler(t *testing.T) {
	repo := seedStub(4)
	repo.transactions[0].Status = models.StatusCompleted
	r := testRouter(repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/transactions/search?status=completed", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var page common.CursorPage
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(1), page.Total)

	// A page filled exactly to the limit is still the last page
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/transactions/search?limit=4", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(4), page.Total)
	assert.False(t, page.HasMore)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/transactions/search?limit=2", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.True(t, page.HasMore)
}

func TestSearchTransactionsHandlerRejectsBadInput(t *testing.T) {
	r := testRouter(&stubRepo{})

	for _, path := range []string{
		"/transactions/search?status=bogus",
		"/transactions/search?amount_min=abc",
		"/transactions/search?date_from=yesterday",
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "path %s", path)
	}
}
