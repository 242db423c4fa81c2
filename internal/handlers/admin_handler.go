package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"settlement-service/internal/database"
	"settlement-service/internal/services"
	"settlement-service/pkg/common"
)

type AdminHandler struct {
	DLQ        *services.DLQService
	Settlement *services.SettlementService
	Ingestion  *services.IngestionService
	Horizon    *services.HorizonClient
	Router     *database.Router
}

func NewAdminHandler(dlq *services.DLQService, settlement *services.SettlementService, ingestion *services.IngestionService, horizon *services.HorizonClient, router *database.Router) *AdminHandler {
	return &AdminHandler{
		DLQ:        dlq,
		Settlement: settlement,
		Ingestion:  ingestion,
		Horizon:    horizon,
		Router:     router,
	}
}

func (h *AdminHandler) ListDeadLetter(c *gin.Context) {
	limit := parseLimit(c.DefaultQuery("limit", "50"))

	entries, err := h.DLQ.ListDeadLetter(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch dead letter entries"})
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(entries, "Dead letter entries fetched"))
}

// RequeueDeadLetter puts a quarantined transaction back in the processing
// queue by dead letter entry id.
func (h *AdminHandler) RequeueDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid dead letter id"})
		return
	}

	if err := h.DLQ.Requeue(c.Request.Context(), id); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Dead letter entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to requeue transaction"})
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(gin.H{"requeued": id}, "Transaction requeued"))
}

// RetryTransaction accepts either a dead letter entry id or a transaction
// id, so operators can paste whichever identifier they have at hand.
func (h *AdminHandler) RetryTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return
	}

	if err := h.DLQ.RetryByTransactionID(c.Request.Context(), id); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No dead letter entry for this id"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retry transaction"})
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(gin.H{"retried": id}, "Transaction retried"))
}

// ForceComplete marks a pending transaction completed out of band.
func (h *AdminHandler) ForceComplete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction id"})
		return
	}

	if err := h.Ingestion.ForceComplete(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, common.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
		case errors.Is(err, common.ErrConflict), common.IsValidationError(err):
			c.JSON(http.StatusConflict, gin.H{"error": "Transaction cannot be completed from its current status"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to complete transaction"})
		}
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(gin.H{"completed": id}, "Transaction completed"))
}

// RunSettlements triggers a settlement sweep outside the schedule.
func (h *AdminHandler) RunSettlements(c *gin.Context) {
	settlements, err := h.Settlement.RunSettlements(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Settlement run failed"})
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(settlements, "Settlement run completed"))
}

func (h *AdminHandler) ListSettlements(c *gin.Context) {
	limit := parseLimit(c.DefaultQuery("limit", "50"))

	settlements, err := h.Settlement.ListSettlements(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch settlements"})
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(settlements, "Settlements fetched"))
}

// HealthCheck probes the connection pools and reports the upstream breaker
// state. Degraded (primary down) maps to 503 so load balancers drain us.
func (h *AdminHandler) HealthCheck(c *gin.Context) {
	dbStatus := h.Router.HealthCheck(c.Request.Context())

	body := gin.H{
		"database": dbStatus,
		"healthy":  dbStatus.Primary,
	}
	if h.Horizon != nil {
		body["horizon_circuit"] = h.Horizon.CircuitState()
	}

	status := http.StatusOK
	if !dbStatus.Primary {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}
