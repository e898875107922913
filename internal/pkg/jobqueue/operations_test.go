package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/app/repository"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/entitlements"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/processor"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/testutil"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/usage"
)

type fakeRunner struct {
	op         *models.Operation
	loadErr    error
	settled    *models.Operation
	execErr    error
	executed   int
	recoverArg time.Duration
	recovered  int
}

func (f *fakeRunner) Operation(ctx context.Context, id string) (*models.Operation, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.op, nil
}

func (f *fakeRunner) Execute(ctx context.Context, op *models.Operation) (*models.Operation, error) {
	f.executed++
	return f.settled, f.execErr
}

func (f *fakeRunner) RecoverPending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	f.recoverArg = olderThan
	return f.recovered, nil
}

func aiJob(opID string) *Job {
	return &Job{Type: JobTypeAIOperation, Payload: AIOperationJobPayload{OperationID: opID}.ToMap()}
}

func TestHandleAIOperation(t *testing.T) {
	ctx := context.Background()
	pending := &models.Operation{ID: "op-1", Status: models.OperationStatusPending}

	t.Run("executes pending operation", func(t *testing.T) {
		r := &fakeRunner{op: pending, settled: &models.Operation{ID: "op-1", Status: models.OperationStatusCompleted}}
		assert.NoError(t, handleAIOperation(ctx, r, aiJob("op-1")))
		assert.Equal(t, 1, r.executed)
	})

	t.Run("skips settled operation", func(t *testing.T) {
		r := &fakeRunner{op: &models.Operation{ID: "op-1", Status: models.OperationStatusCompleted}}
		assert.NoError(t, handleAIOperation(ctx, r, aiJob("op-1")))
		assert.Zero(t, r.executed)
	})

	t.Run("missing operation is permanent", func(t *testing.T) {
		r := &fakeRunner{loadErr: ledger.ErrNotFound}
		err := handleAIOperation(ctx, r, aiJob("op-1"))
		assert.True(t, isPermanent(err))
	})

	t.Run("empty payload is permanent", func(t *testing.T) {
		err := handleAIOperation(ctx, &fakeRunner{}, &Job{Type: JobTypeAIOperation})
		assert.True(t, isPermanent(err))
	})

	t.Run("terminal failure is not retried", func(t *testing.T) {
		r := &fakeRunner{
			op:      pending,
			settled: &models.Operation{ID: "op-1", Status: models.OperationStatusFailed},
			execErr: ledger.ErrInsufficientCredits,
		}
		assert.NoError(t, handleAIOperation(ctx, r, aiJob("op-1")))
	})

	t.Run("still pending is retried", func(t *testing.T) {
		r := &fakeRunner{op: pending, settled: pending, execErr: ledger.ErrStoreUnavailable}
		err := handleAIOperation(ctx, r, aiJob("op-1"))
		assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
		assert.False(t, isPermanent(err))
	})
}

func TestHandleRecoverOperations(t *testing.T) {
	r := &fakeRunner{recovered: 2}
	job := &Job{Type: JobTypeRecoverOperations, Payload: map[string]interface{}{}}
	require.NoError(t, handleRecoverOperations(context.Background(), r, job))
	assert.Equal(t, DefaultRecoverAfter, r.recoverArg)

	job.Payload = RecoverOperationsJobPayload{OlderThanSeconds: 60, Limit: 5}.ToMap()
	require.NoError(t, handleRecoverOperations(context.Background(), r, job))
	assert.Equal(t, time.Minute, r.recoverArg)
}

func TestEnqueueOperationRejectsInvalid(t *testing.T) {
	q := &Queue{}
	_, err := q.EnqueueOperation(context.Background(), nil)
	assert.Error(t, err)
	_, err = q.EnqueueOperation(context.Background(), &models.Operation{})
	assert.Error(t, err)
}

func TestAsyncOperationSettlesThroughQueue(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	db := testutil.OpenDB(t)
	repos := repository.NewRepositories(db)
	catalog := entitlements.NewDBCatalog(repos.Catalog)
	ledgerSvc := ledger.NewService(ledger.NewStore(db), nil)
	coord := usage.NewCoordinator(
		entitlements.NewResolver(catalog, repos.Account, nil),
		catalog, ledgerSvc, repos.Operation, processor.NewMockExecutor(0), nil,
	)
	RegisterOperationHandlers(q, coord)

	testutil.CreateAccount(t, db, "acct-1", 10)
	op, err := coord.Begin(ctx, "acct-1", "style_transfer", "https://example.com/in.png", nil)
	require.NoError(t, err)

	_, err = q.EnqueueOperation(ctx, op)
	require.NoError(t, err)
	processed, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	settled, err := coord.Operation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationStatusCompleted, settled.Status)
	assert.NotEmpty(t, settled.ResultRef)

	balance, err := ledgerSvc.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)

	// A duplicate delivery of the same job does not charge again.
	_, err = q.EnqueueOperation(ctx, op)
	require.NoError(t, err)
	_, err = q.ProcessNext(ctx)
	require.NoError(t, err)
	balance, err = ledgerSvc.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)
}

func TestManagerScheduleRecovery(t *testing.T) {
	q := newTestQueue(t, Config{})
	r := &fakeRunner{}
	RegisterOperationHandlers(q, r)
	m := NewManager(q, ManagerConfig{RecoverAfter: 90 * time.Second})

	require.NoError(t, m.ScheduleRecovery(context.Background()))
	processed, err := q.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, 90*time.Second, r.recoverArg)
	assert.False(t, m.IsRunning())
}

var _ OperationRunner = (*usage.Coordinator)(nil)
