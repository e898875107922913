package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
)

// OperationRunner is the part of the usage coordinator the workers need.
type OperationRunner interface {
	Operation(ctx context.Context, id string) (*models.Operation, error)
	Execute(ctx context.Context, op *models.Operation) (*models.Operation, error)
	RecoverPending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// RegisterOperationHandlers wires the operation job types to runner.
func RegisterOperationHandlers(q *Queue, runner OperationRunner) {
	q.Register(JobTypeAIOperation, func(ctx context.Context, job *Job) error {
		return handleAIOperation(ctx, runner, job)
	})
	q.Register(JobTypeRecoverOperations, func(ctx context.Context, job *Job) error {
		return handleRecoverOperations(ctx, runner, job)
	})
}

// EnqueueOperation schedules a pending operation for asynchronous processing.
func (q *Queue) EnqueueOperation(ctx context.Context, op *models.Operation) (*Job, error) {
	if op == nil || op.ID == "" {
		return nil, fmt.Errorf("cannot enqueue invalid operation")
	}
	payload := AIOperationJobPayload{
		OperationID:   op.ID,
		AccountID:     op.AccountID,
		OperationType: op.OperationType,
	}
	return q.EnqueueJob(ctx, JobTypeAIOperation, payload.ToMap())
}

func handleAIOperation(ctx context.Context, runner OperationRunner, job *Job) error {
	payload, err := AIOperationJobPayloadFromMap(job.Payload)
	if err != nil || payload.OperationID == "" {
		return Permanent(fmt.Errorf("invalid ai operation payload: %v", err))
	}

	op, err := runner.Operation(ctx, payload.OperationID)
	if errors.Is(err, ledger.ErrNotFound) {
		return Permanent(err)
	}
	if err != nil {
		return err
	}
	if op.Status != models.OperationStatusPending {
		log.Debugf("[JobQueue] Operation %s already %s", op.ID, op.Status)
		return nil
	}

	settled, err := runner.Execute(ctx, op)
	if err == nil {
		return nil
	}
	// A terminal operation will not change on retry.
	if settled != nil && settled.Status != models.OperationStatusPending {
		log.Warnf("[JobQueue] Operation %s ended %s: %v", op.ID, settled.Status, err)
		return nil
	}
	return err
}

func handleRecoverOperations(ctx context.Context, runner OperationRunner, job *Job) error {
	payload, err := RecoverOperationsJobPayloadFromMap(job.Payload)
	if err != nil {
		return Permanent(fmt.Errorf("invalid recover payload: %w", err))
	}
	olderThan := time.Duration(payload.OlderThanSeconds) * time.Second
	if olderThan <= 0 {
		olderThan = DefaultRecoverAfter
	}
	n, err := runner.RecoverPending(ctx, olderThan, payload.Limit)
	if n > 0 {
		log.Infof("[JobQueue] Recovered %d stale operations", n)
	}
	return err
}
