package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"settlement-service/internal/consumers"
	"settlement-service/internal/services"
)

type Worker struct {
	Processor *consumers.TransactionProcessor
}

func NewWorker(processor *consumers.TransactionProcessor) *Worker {
	return &Worker{Processor: processor}
}

func (w *Worker) HandleProcessTransaction(ctx context.Context, t *asynq.Task) error {
	var p services.ProcessTransactionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessTransaction(ctx, p.TransactionID)
}

func StartWorker(redisOpt asynq.RedisClientOpt, processor *consumers.TransactionProcessor) {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			// A task that exhausts its retries is quarantined rather than
			// silently dropped.
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				if retried < maxRetry {
					return
				}
				var p services.ProcessTransactionPayload
				if uerr := json.Unmarshal(task.Payload(), &p); uerr != nil {
					log.Printf("Cannot dead-letter malformed task payload: %v", uerr)
					return
				}
				processor.Quarantine(context.Background(), p.TransactionID, err.Error())
			}),
		},
	)

	worker := NewWorker(processor)
	mux := asynq.NewServeMux()
	mux.HandleFunc(services.TaskTypeProcessTransaction, worker.HandleProcessTransaction)

	if err := srv.Run(mux); err != nil {
		log.Fatalf("could not run server: %v", err)
	}
}
