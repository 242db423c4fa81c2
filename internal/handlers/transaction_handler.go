package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"settlement-service/internal/models"
	"settlement-service/internal/repository"
	"settlement-service/pkg/common"
)

const maxPageSize = 200

type TransactionHandler struct {
	Repo repository.TransactionRepository
}

func NewTransactionHandler(repo repository.TransactionRepository) *TransactionHandler {
	return &TransactionHandler{Repo: repo}
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction id"})
		return
	}

	tx, err := h.Repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch transaction"})
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(tx, "Transaction fetched"))
}

// ListTransactions pages newest-first by keyset cursor. The cursor param is
// the opaque token from a previous page; direction selects older or newer.
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	limit := parseLimit(c.DefaultQuery("limit", "50"))

	direction := c.DefaultQuery("direction", common.DirectionOlder)
	if direction != common.DirectionOlder && direction != common.DirectionNewer {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be 'older' or 'newer'"})
		return
	}

	var cursor *common.Cursor
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := common.DecodeCursor(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
			return
		}
		cursor = &parsed
	}

	items, hasMore, err := h.Repo.ListPage(c.Request.Context(), limit, cursor, direction)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch transactions"})
		return
	}

	c.JSON(http.StatusOK, buildPage(items, hasMore))
}

// SearchTransactions combines filters over status, asset, account, anchor
// id, amount range and date range, with the same cursor paging as the list.
func (h *TransactionHandler) SearchTransactions(c *gin.Context) {
	filters := repository.SearchFilters{
		Status:     c.Query("status"),
		AssetCode:  c.Query("asset_code"),
		Account:    c.Query("account"),
		AnchorTxID: c.Query("anchor_transaction_id"),
	}

	if filters.Status != "" && !models.IsValidStatus(filters.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
		return
	}

	if raw := c.Query("amount_min"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount_min"})
			return
		}
		filters.AmountMin = &v
	}
	if raw := c.Query("amount_max"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount_max"})
			return
		}
		filters.AmountMax = &v
	}
	if raw := c.Query("date_from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date_from must be RFC3339"})
			return
		}
		filters.DateFrom = &t
	}
	if raw := c.Query("date_to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date_to must be RFC3339"})
			return
		}
		filters.DateTo = &t
	}

	limit := parseLimit(c.DefaultQuery("limit", "50"))

	var cursor *common.Cursor
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := common.DecodeCursor(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
			return
		}
		cursor = &parsed
	}

	total, items, hasMore, err := h.Repo.Search(c.Request.Context(), filters, limit, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search transactions"})
		return
	}

	page := buildPage(items, hasMore)
	page.Total = total
	c.JSON(http.StatusOK, page)
}

func parseLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 50
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func buildPage(items []models.Transaction, hasMore bool) common.CursorPage {
	var next, prev string
	if len(items) > 0 {
		first := items[0]
		last := items[len(items)-1]
		next = common.EncodeCursor(last.CreatedAt, last.ID)
		prev = common.EncodeCursor(first.CreatedAt, first.ID)
	}
	return common.NewCursorPage(items, hasMore, next, prev)
}
