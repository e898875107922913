package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/app/repository"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/processor"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/usage"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/usercontext"
)

// OperationQueue schedules pending operations for background processing.
type OperationQueue interface {
	EnqueueOperation(ctx context.Context, op *models.Operation) (*jobqueue.Job, error)
}

// ProcessRequest is the body of POST /ai/process.
type ProcessRequest struct {
	ImageURL      string                 `json:"image_url" validate:"required,url,max=2048"`
	OperationType string                 `json:"operation_type" validate:"required,max=50"`
	Options       map[string]interface{} `json:"options"`
	Async         bool                   `json:"async"`
}

// TextToImageRequest is the body of POST /ai/text-to-image.
type TextToImageRequest struct {
	Prompt  string                 `json:"prompt" validate:"required,max=2000"`
	Style   string                 `json:"style" validate:"max=50"`
	Options map[string]interface{} `json:"options"`
	Async   bool                   `json:"async"`
}

// AIController runs billable AI operations.
type AIController struct {
	coord *usage.Coordinator
	ops   repository.OperationRepository
	queue OperationQueue
}

// NewAIController creates the controller. queue may be nil, in which case
// async requests are processed inline.
func NewAIController(coord *usage.Coordinator, ops repository.OperationRepository, queue OperationQueue) *AIController {
	return &AIController{coord: coord, ops: ops, queue: queue}
}

// HandleProcess applies an image operation.
func (ac *AIController) HandleProcess(c *fiber.Ctx) error {
	var req ProcessRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.OperationType = strings.TrimSpace(req.OperationType)
	if err := validate.Struct(req); err != nil {
		return badRequest(c, "image_url and operation_type are required")
	}
	return ac.run(c, req.OperationType, req.ImageURL, req.Options, req.Async)
}

// HandleTextToImage generates an image from a prompt.
func (ac *AIController) HandleTextToImage(c *fiber.Ctx) error {
	var req TextToImageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := validate.Struct(req); err != nil {
		return badRequest(c, "prompt is required")
	}
	options := req.Options
	if options == nil {
		options = map[string]interface{}{}
	}
	if req.Style != "" {
		options["style"] = req.Style
	}
	return ac.run(c, models.OperationTextToImage, req.Prompt, options, req.Async)
}

// HandleGetOperation returns one of the caller's operations.
func (ac *AIController) HandleGetOperation(c *fiber.Ctx) error {
	op, err := ac.ops.GetForAccount(c.UserContext(), c.Params("id"), usercontext.AccountID(c))
	if err != nil {
		return respondError(c, err, "Operation not found")
	}
	return c.JSON(operationResponse(op))
}

func (ac *AIController) run(c *fiber.Ctx, operationType, inputRef string, options map[string]interface{}, async bool) error {
	ctx := c.UserContext()
	accountID := usercontext.AccountID(c)

	if async && ac.queue != nil {
		op, err := ac.coord.Begin(ctx, accountID, operationType, inputRef, options)
		if err != nil {
			return respondError(c, err, denialMessage(err))
		}
		if _, err := ac.queue.EnqueueOperation(ctx, op); err != nil {
			log.Errorf("[API] Failed to enqueue operation %s: %v", op.ID, err)
			if _, failErr := ac.coord.Fail(context.WithoutCancel(ctx), op.ID, "could not be scheduled"); failErr != nil {
				log.Errorf("[API] Failed to mark operation %s failed: %v", op.ID, failErr)
			}
			return respondError(c, ledger.ErrStoreUnavailable, "Processing queue unavailable")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success":      true,
			"operation_id": op.ID,
			"status":       op.Status,
			"credit_cost":  op.CreditCost,
		})
	}

	op, err := ac.coord.Run(ctx, accountID, operationType, inputRef, options)
	if err != nil {
		if op != nil {
			status, code := errorStatus(err)
			logError(c, status, err, "operation "+op.ID)
			return c.Status(status).JSON(fiber.Map{
				"error":        code,
				"message":      denialMessage(err),
				"operation_id": op.ID,
				"status":       op.Status,
			})
		}
		return respondError(c, err, denialMessage(err))
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"processed_url": op.ResultRef,
		"credits_used":  op.CreditCost,
		"operation_id":  op.ID,
	})
}

func denialMessage(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return "Insufficient credits"
	case errors.Is(err, ledger.ErrAccountSuspended):
		return "Account suspended"
	case errors.Is(err, ledger.ErrUnknownOperation):
		return "Invalid operation type"
	case errors.Is(err, ledger.ErrNotFound):
		return "Account not found"
	case errors.Is(err, processor.ErrInvalidInput):
		return "Invalid input"
	default:
		return "Processing failed"
	}
}

func operationResponse(op *models.Operation) fiber.Map {
	resp := fiber.Map{
		"operation_id":   op.ID,
		"operation_type": op.OperationType,
		"status":         op.Status,
		"credit_cost":    op.CreditCost,
		"created_at":     op.CreatedAt,
		"updated_at":     op.UpdatedAt,
	}
	switch op.Status {
	case models.OperationStatusCompleted:
		resp["processed_url"] = op.ResultRef
		resp["ledger_entry_id"] = op.LedgerEntryID
	case models.OperationStatusFailed:
		resp["failure_reason"] = op.FailureReason
	}
	return resp
}
