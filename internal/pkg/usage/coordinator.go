package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/app/repository"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/entitlements"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/metrics"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/processor"
)

// errNotPending aborts a settlement whose operation already left pending.
var errNotPending = errors.New("usage: operation is no longer pending")

// Coordinator ties an operation's lifecycle to its ledger debit. Credits are
// only taken when the work succeeded: Complete settles the cost, Fail
// leaves the balance untouched.
type Coordinator struct {
	resolver *entitlements.Resolver
	catalog  entitlements.Catalog
	ledger   *ledger.Service
	ops      repository.OperationRepository
	executor processor.Executor
	metrics  *metrics.Metrics
}

// NewCoordinator creates a usage coordinator. m may be nil.
func NewCoordinator(
	resolver *entitlements.Resolver,
	catalog entitlements.Catalog,
	ledgerSvc *ledger.Service,
	ops repository.OperationRepository,
	executor processor.Executor,
	m *metrics.Metrics,
) *Coordinator {
	return &Coordinator{
		resolver: resolver,
		catalog:  catalog,
		ledger:   ledgerSvc,
		ops:      ops,
		executor: executor,
		metrics:  m,
	}
}

// Begin checks entitlement and records a pending operation priced at the
// current catalog cost. A denial is returned as its sentinel error.
func (c *Coordinator) Begin(ctx context.Context, accountID, operationType, inputRef string, options map[string]interface{}) (*models.Operation, error) {
	d, err := c.resolver.Resolve(ctx, accountID, operationType)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, d.Reason
	}

	op := &models.Operation{
		AccountID:     accountID,
		OperationType: operationType,
		CreditCost:    d.Cost,
		Status:        models.OperationStatusPending,
		InputRef:      inputRef,
	}
	if len(options) > 0 {
		raw, err := json.Marshal(options)
		if err != nil {
			return nil, fmt.Errorf("%w: options: %v", ledger.ErrInvalidInput, err)
		}
		op.Options = datatypes.JSON(raw)
	}
	if err := c.ops.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("create operation: %w", err)
	}
	log.Debugf("[Usage] Operation %s (%s, cost %d) pending for account %s", op.ID, operationType, d.Cost, accountID)
	return op, nil
}

// Complete debits the operation's cost and marks it completed. Calling it
// again for a completed operation returns it unchanged. When the balance no
// longer covers the cost the operation is failed and the result discarded.
func (c *Coordinator) Complete(ctx context.Context, operationID, resultRef string) (*models.Operation, error) {
	op, err := c.ops.GetByID(ctx, operationID)
	if err != nil {
		return nil, err
	}
	switch op.Status {
	case models.OperationStatusCompleted:
		return op, nil
	case models.OperationStatusFailed:
		return op, fmt.Errorf("%w: operation %s already failed", ledger.ErrInvalidInput, op.ID)
	}

	// The debit only commits together with the pending -> completed move,
	// so an operation failed meanwhile is never charged.
	entry, err := c.ledger.Mutate(ctx, ledger.MutateInput{
		AccountID:      op.AccountID,
		Amount:         -op.CreditCost,
		Kind:           models.LedgerKindUsage,
		Description:    c.describe(ctx, op),
		IdempotencyKey: op.IdempotencyKey(),
		InTx: func(tx *gorm.DB, entry *models.LedgerEntry) error {
			moved, err := c.ops.WithTx(tx).MarkCompleted(ctx, op.ID, entry.ID, resultRef)
			if err != nil {
				return err
			}
			if !moved {
				return errNotPending
			}
			return nil
		},
	})
	if errors.Is(err, errNotPending) {
		op = c.reload(ctx, op)
		if op.Status == models.OperationStatusCompleted {
			return op, nil
		}
		log.Warnf("[Usage] Operation %s became %s before settlement, not charged", op.ID, op.Status)
		return op, fmt.Errorf("%w: operation %s is %s", ledger.ErrConflict, op.ID, op.Status)
	}
	if errors.Is(err, ledger.ErrInsufficientCredits) {
		if _, markErr := c.ops.MarkFailed(ctx, op.ID, "insufficient credits at settlement"); markErr != nil {
			log.Errorf("[Usage] Could not mark operation %s failed: %v", op.ID, markErr)
		}
		c.metrics.Operation(op.OperationType, string(models.OperationStatusFailed))
		return c.reload(ctx, op), err
	}
	if err != nil {
		// The operation stays pending; Complete can be called again.
		return op, fmt.Errorf("settle operation %s: %w", op.ID, err)
	}

	op = c.reload(ctx, op)
	if op.Status == models.OperationStatusPending {
		// Replayed debit that was committed without its link.
		if _, err := c.ops.MarkCompleted(ctx, op.ID, entry.ID, resultRef); err != nil {
			return op, fmt.Errorf("link ledger entry %d to operation %s: %w", entry.ID, op.ID, err)
		}
		op = c.reload(ctx, op)
	}
	if op.Status != models.OperationStatusCompleted {
		log.Errorf("[Usage] Operation %s is %s but ledger entry %d was settled", op.ID, op.Status, entry.ID)
		return op, fmt.Errorf("%w: operation %s changed during settlement", ledger.ErrConflict, op.ID)
	}
	c.metrics.Operation(op.OperationType, string(models.OperationStatusCompleted))
	log.Infof("[Usage] Operation %s completed, charged %d (entry %d)", op.ID, op.CreditCost, entry.ID)
	return op, nil
}

// Fail marks a pending operation failed without touching the ledger.
func (c *Coordinator) Fail(ctx context.Context, operationID, reason string) (*models.Operation, error) {
	op, err := c.ops.GetByID(ctx, operationID)
	if err != nil {
		return nil, err
	}
	switch op.Status {
	case models.OperationStatusFailed:
		return op, nil
	case models.OperationStatusCompleted:
		return op, fmt.Errorf("%w: operation %s already completed", ledger.ErrInvalidInput, op.ID)
	}

	moved, err := c.ops.MarkFailed(ctx, op.ID, reason)
	if err != nil {
		return op, fmt.Errorf("fail operation %s: %w", op.ID, err)
	}
	if moved {
		c.metrics.Operation(op.OperationType, string(models.OperationStatusFailed))
		log.Infof("[Usage] Operation %s failed: %s", op.ID, reason)
	}
	return c.reload(ctx, op), nil
}

// Execute runs the processing step for a pending operation and settles it.
func (c *Coordinator) Execute(ctx context.Context, op *models.Operation) (*models.Operation, error) {
	var options map[string]interface{}
	if len(op.Options) > 0 {
		if err := json.Unmarshal(op.Options, &options); err != nil {
			log.Warnf("[Usage] Ignoring unreadable options of operation %s: %v", op.ID, err)
			options = nil
		}
	}
	res, err := c.executor.Execute(ctx, processor.Request{
		OperationID:   op.ID,
		OperationType: op.OperationType,
		InputRef:      op.InputRef,
		Options:       options,
	})
	if err != nil {
		// Use a fresh context so a cancelled request still records the failure.
		failed, failErr := c.Fail(context.WithoutCancel(ctx), op.ID, err.Error())
		if failErr != nil {
			log.Errorf("[Usage] Could not record failure of %s: %v", op.ID, failErr)
			return op, err
		}
		return failed, err
	}
	return c.Complete(ctx, op.ID, res.ResultRef)
}

// Run is the synchronous path: Begin, process, then Complete or Fail.
func (c *Coordinator) Run(ctx context.Context, accountID, operationType, inputRef string, options map[string]interface{}) (*models.Operation, error) {
	op, err := c.Begin(ctx, accountID, operationType, inputRef, options)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, op)
}

// RecoverPending settles operations left pending by a crash. If the debit
// was already committed the operation is completed, otherwise it is failed.
// It returns the number of operations resolved.
func (c *Coordinator) RecoverPending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	stale, err := c.ops.ListPendingBefore(ctx, time.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for i := range stale {
		op := &stale[i]
		entry, err := c.ledger.Store().FindByIdempotencyKey(ctx, op.AccountID, op.IdempotencyKey())
		switch {
		case err == nil:
			if _, err := c.ops.MarkCompleted(ctx, op.ID, entry.ID, op.ResultRef); err != nil {
				return resolved, err
			}
			log.Warnf("[Usage] Recovered operation %s: linked settled entry %d", op.ID, entry.ID)
		case errors.Is(err, ledger.ErrNotFound):
			if _, err := c.Fail(ctx, op.ID, "abandoned before settlement"); err != nil {
				return resolved, err
			}
			log.Warnf("[Usage] Recovered operation %s: marked failed", op.ID)
		default:
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

// Operation loads an operation by id.
func (c *Coordinator) Operation(ctx context.Context, id string) (*models.Operation, error) {
	return c.ops.GetByID(ctx, id)
}

func (c *Coordinator) describe(ctx context.Context, op *models.Operation) string {
	if c.catalog != nil {
		if m, err := c.catalog.GetEnabledOperation(ctx, op.OperationType); err == nil {
			return m.Name + " processing"
		}
	}
	return op.OperationType + " processing"
}

func (c *Coordinator) reload(ctx context.Context, op *models.Operation) *models.Operation {
	fresh, err := c.ops.GetByID(ctx, op.ID)
	if err != nil {
		return op
	}
	return fresh
}
