package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"

	"settlement-service/internal/cache"
	"settlement-service/internal/models"
	"settlement-service/internal/repository"
	"settlement-service/internal/validation"
	"settlement-service/pkg/common"
)

// TaskTypeProcessTransaction names the asynq task that drives a pending
// transaction through processing.
const TaskTypeProcessTransaction = "transaction:process"

// ProcessTransactionPayload is the task body shared with the worker.
type ProcessTransactionPayload struct {
	TransactionID uuid.UUID `json:"transaction_id"`
}

// CallbackPayload is the validated, signature-verified gateway callback as
// it reaches the core. Signature verification happens in the transport layer.
type CallbackPayload struct {
	Account        string                 `json:"account"`
	Amount         string                 `json:"amount"`
	AssetCode      string                 `json:"asset_code"`
	AnchorTxID     string                 `json:"anchor_transaction_id,omitempty"`
	CallbackType   string                 `json:"callback_type,omitempty"`
	CallbackStatus string                 `json:"callback_status,omitempty"`
	Memo           string                 `json:"memo,omitempty"`
	MemoType       string                 `json:"memo_type,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// CallbackResult is what the transport layer renders back to the gateway.
type CallbackResult struct {
	Transaction *models.Transaction
	Duplicate   bool
	CachedBody  string
	CachedCode  int
}

// IngestionService accepts gateway callbacks and records them as pending
// transactions. Acceptance is all-or-nothing: either the row exists with
// status pending or nothing was written.
type IngestionService struct {
	Repo  repository.TransactionRepository
	Guard *cache.IdempotencyGuard
	Queue *asynq.Client
}

func NewIngestionService(repo repository.TransactionRepository, guard *cache.IdempotencyGuard, queue *asynq.Client) *IngestionService {
	return &IngestionService{Repo: repo, Guard: guard, Queue: queue}
}

func (s *IngestionService) validate(payload CallbackPayload) (*models.Transaction, error) {
	account, err := validation.ValidateAccountAddress(payload.Account)
	if err != nil {
		return nil, err
	}
	amount, err := validation.ValidateAmount(payload.Amount)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateAssetCode(payload.AssetCode); err != nil {
		return nil, err
	}
	if payload.MemoType != "" {
		if err := validation.ValidateMemoType(payload.MemoType); err != nil {
			return nil, err
		}
	}
	if err := validation.ValidateMaxLen("anchor_transaction_id", payload.AnchorTxID, validation.AnchorTxIDMaxLen); err != nil {
		return nil, err
	}
	if err := validation.ValidateMaxLen("callback_type", payload.CallbackType, validation.CallbackTypeMaxLen); err != nil {
		return nil, err
	}
	if err := validation.ValidateMaxLen("callback_status", payload.CallbackStatus, validation.CallbackStatusMaxLen); err != nil {
		return nil, err
	}
	if err := validation.ValidateMaxLen("memo", payload.Memo, validation.MemoMaxLen); err != nil {
		return nil, err
	}

	tx := models.NewTransaction(account, amount, payload.AssetCode)
	tx.AnchorTxID = optional(payload.AnchorTxID)
	tx.CallbackType = optional(payload.CallbackType)
	tx.CallbackStatus = optional(payload.CallbackStatus)
	tx.Memo = optional(payload.Memo)
	tx.MemoType = optional(payload.MemoType)

	if payload.Metadata != nil {
		raw, err := json.Marshal(payload.Metadata)
		if err != nil {
			return nil, common.NewValidationError("metadata", "must be a JSON object")
		}
		tx.Metadata = datatypes.JSON(raw)
	}
	return &tx, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// ProcessCallback validates, deduplicates and persists one callback.
// The idempotency key (when supplied) guarantees a replayed delivery within
// the result TTL returns the original outcome; dedupe on the anchor
// transaction id is the second, storage-backed layer.
func (s *IngestionService) ProcessCallback(ctx context.Context, idempotencyKey string, payload CallbackPayload) (*CallbackResult, error) {
	tx, err := s.validate(payload)
	if err != nil {
		return nil, err
	}

	guarded := idempotencyKey != "" && s.Guard != nil
	if guarded {
		state, cached := s.Guard.Begin(ctx, idempotencyKey)
		switch state {
		case cache.StateCompleted:
			return &CallbackResult{CachedBody: cached.Body, CachedCode: cached.Status}, nil
		case cache.StateInFlight:
			return nil, common.ErrInFlight
		}
	}

	result, err := s.ingest(ctx, tx, payload.AnchorTxID)
	if err != nil {
		if guarded {
			s.Guard.Release(ctx, idempotencyKey)
		}
		return nil, err
	}

	if guarded {
		status := http.StatusCreated
		if result.Duplicate {
			status = http.StatusOK
		}
		body, merr := json.Marshal(result.Transaction)
		if merr != nil {
			log.Printf("Failed to marshal callback result for caching: %v", merr)
			s.Guard.Release(ctx, idempotencyKey)
		} else {
			s.Guard.Complete(ctx, idempotencyKey, status, string(body))
		}
	}
	return result, nil
}

func (s *IngestionService) ingest(ctx context.Context, tx *models.Transaction, anchorTxID string) (*CallbackResult, error) {
	if anchorTxID != "" {
		existing, err := s.Repo.GetByAnchorTxID(ctx, anchorTxID)
		if err == nil {
			return &CallbackResult{Transaction: existing, Duplicate: true}, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
	}

	if err := s.Repo.Insert(ctx, tx); err != nil {
		return nil, err
	}

	s.enqueueProcessing(tx.ID)
	return &CallbackResult{Transaction: tx}, nil
}

// enqueueProcessing hands the pending transaction to the worker queue. A
// queue outage leaves the row pending; the worker's periodic claim sweep
// picks it up later, so enqueue failures are logged, not surfaced.
func (s *IngestionService) enqueueProcessing(txID uuid.UUID) {
	if s.Queue == nil {
		return
	}
	data, err := json.Marshal(ProcessTransactionPayload{TransactionID: txID})
	if err != nil {
		log.Printf("Failed to build processing task for %s: %v", txID, err)
		return
	}
	task := asynq.NewTask(TaskTypeProcessTransaction, data)
	_, err = s.Queue.Enqueue(task, asynq.TaskID(fmt.Sprintf("transaction:process:%s", txID)))
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Printf("Failed to enqueue processing for %s: %v", txID, err)
	}
}

// ForceComplete is the admin escape hatch that marks a pending transaction
// completed without going through the worker.
func (s *IngestionService) ForceComplete(ctx context.Context, txID uuid.UUID) error {
	return s.Repo.UpdateStatus(ctx, txID, models.StatusCompleted)
}
