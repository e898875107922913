package processor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/PixelStudio/app/models"
)

// ErrInvalidInput is returned when the input reference cannot be processed.
var ErrInvalidInput = errors.New("processor: invalid input")

// Request is one unit of AI work.
type Request struct {
	OperationID   string
	OperationType string
	InputRef      string
	Options       map[string]interface{}
}

// Result carries the reference to the produced artifact.
type Result struct {
	ResultRef string
}

// Executor runs the image computation for an operation.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// MockExecutor simulates the AI backend: it waits for Delay and returns a
// derived URL. Text-to-image requests get a placeholder image of the
// requested size.
type MockExecutor struct {
	Delay time.Duration
	Now   func() time.Time
}

// NewMockExecutor creates a mock executor with the given processing delay.
func NewMockExecutor(delay time.Duration) *MockExecutor {
	return &MockExecutor{Delay: delay, Now: time.Now}
}

func (m *MockExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	stamp := strconv.FormatInt(m.now().UnixMilli(), 10)

	if req.OperationType == models.OperationTextToImage {
		width := intOption(req.Options, "width", 512)
		height := intOption(req.Options, "height", 512)
		return Result{ResultRef: fmt.Sprintf("https://picsum.photos/%d/%d?random=%s", width, height, stamp)}, nil
	}

	u, err := url.Parse(strings.TrimSpace(req.InputRef))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Result{}, fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidInput, req.InputRef)
	}
	q := u.Query()
	q.Set("processed", stamp)
	u.RawQuery = q.Encode()
	return Result{ResultRef: u.String()}, nil
}

func (m *MockExecutor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// intOption reads a positive integer option that may arrive as a JSON
// number or a numeric string.
func intOption(opts map[string]interface{}, key string, def int) int {
	var n int
	switch v := opts[key].(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		n = parsed
	default:
		return def
	}
	if n <= 0 || n > 4096 {
		return def
	}
	return n
}
