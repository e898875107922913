package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PixelStudio/app/models"
)

func fixedClock() time.Time {
	return time.UnixMilli(1700000000000)
}

func TestMockExecutorProcessesImage(t *testing.T) {
	exec := &MockExecutor{Now: fixedClock}

	res, err := exec.Execute(context.Background(), Request{
		OperationType: models.OperationEnhance,
		InputRef:      "https://cdn.example.com/in.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/in.png?processed=1700000000000", res.ResultRef)
}

func TestMockExecutorKeepsExistingQuery(t *testing.T) {
	exec := &MockExecutor{Now: fixedClock}

	res, err := exec.Execute(context.Background(), Request{
		OperationType: models.OperationStyleTransfer,
		InputRef:      "https://cdn.example.com/in.png?v=2",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/in.png?processed=1700000000000&v=2", res.ResultRef)
}

func TestMockExecutorTextToImage(t *testing.T) {
	exec := &MockExecutor{Now: fixedClock}

	res, err := exec.Execute(context.Background(), Request{
		OperationType: models.OperationTextToImage,
		Options:       map[string]interface{}{"width": float64(1024), "height": "768"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://picsum.photos/1024/768?random=1700000000000", res.ResultRef)

	res, err = exec.Execute(context.Background(), Request{OperationType: models.OperationTextToImage})
	require.NoError(t, err)
	assert.Equal(t, "https://picsum.photos/512/512?random=1700000000000", res.ResultRef)
}

func TestMockExecutorRejectsRelativeInput(t *testing.T) {
	exec := NewMockExecutor(0)

	_, err := exec.Execute(context.Background(), Request{OperationType: models.OperationEnhance, InputRef: "in.png"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMockExecutorHonoursCancellation(t *testing.T) {
	exec := NewMockExecutor(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, Request{OperationType: models.OperationEnhance, InputRef: "https://x.example/a.png"})
	assert.ErrorIs(t, err, context.Canceled)
}
