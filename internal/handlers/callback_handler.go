package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"settlement-service/internal/services"
	"settlement-service/pkg/common"
)

type CallbackHandler struct {
	Ingestion *services.IngestionService
}

func NewCallbackHandler(ingestion *services.IngestionService) *CallbackHandler {
	return &CallbackHandler{Ingestion: ingestion}
}

// HandleTransactionCallback receives anchor payment callbacks. The
// X-Idempotency-Key header makes retried deliveries safe to replay.
func (h *CallbackHandler) HandleTransactionCallback(c *gin.Context) {
	var payload services.CallbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	idempotencyKey := c.GetHeader("X-Idempotency-Key")

	result, err := h.Ingestion.ProcessCallback(c.Request.Context(), idempotencyKey, payload)
	if err != nil {
		switch {
		case common.IsValidationError(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, common.ErrInFlight):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "request with this idempotency key is still being processed"})
		case errors.Is(err, common.ErrPoolExhausted), errors.Is(err, common.ErrDependencyUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process callback"})
		}
		return
	}

	if result.CachedBody != "" {
		c.Data(result.CachedCode, "application/json", []byte(result.CachedBody))
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, common.NewSuccessResponse(result.Transaction, "Callback accepted"))
}
