package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PixelStudio/internal/pkg/admin"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/usercontext"
)

// AdminUserRequest is the body of POST /admin/users.
type AdminUserRequest struct {
	Action       string `json:"action" validate:"required,oneof=adjust_credits ban unban update_role verify_balance"`
	TargetUserID string `json:"target_user_id" validate:"required,max=64"`
	Data         struct {
		Credits        int64  `json:"credits"`
		Role           string `json:"role"`
		Reason         string `json:"reason" validate:"max=500"`
		IdempotencyKey string `json:"idempotency_key" validate:"max=191"`
	} `json:"data"`
}

// AdminController exposes privileged account actions.
type AdminController struct {
	svc *admin.Service
}

func NewAdminController(svc *admin.Service) *AdminController {
	return &AdminController{svc: svc}
}

// HandleUserAction performs one administrative action on a user account.
func (ac *AdminController) HandleUserAction(c *fiber.Ctx) error {
	var req AdminUserRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Action = strings.TrimSpace(req.Action)
	if err := validate.Struct(req); err != nil {
		return badRequest(c, "Missing or invalid action or target_user_id")
	}

	action, ok := toAction(req)
	if !ok {
		return badRequest(c, "Invalid action")
	}

	res, err := ac.svc.Perform(c.UserContext(), usercontext.AccountID(c), action)
	if err != nil {
		return respondError(c, err, "Admin action failed")
	}
	return c.JSON(fiber.Map{"success": true, "result": res})
}

// HandleAuditTrail lists audit records for a target account.
func (ac *AdminController) HandleAuditTrail(c *fiber.Ctx) error {
	entries, err := ac.svc.AuditTrail(c.UserContext(), usercontext.AccountID(c), c.Params("id"), queryInt(c, "limit", 50))
	if err != nil {
		return respondError(c, err, "Failed to load audit trail")
	}
	return c.JSON(fiber.Map{"audit_log": entries})
}

func toAction(req AdminUserRequest) (admin.Action, bool) {
	switch req.Action {
	case "adjust_credits":
		return admin.AdjustCredits{
			TargetID:       req.TargetUserID,
			Delta:          req.Data.Credits,
			Reason:         req.Data.Reason,
			IdempotencyKey: req.Data.IdempotencyKey,
		}, true
	case "ban":
		return admin.Ban{TargetID: req.TargetUserID, Reason: req.Data.Reason}, true
	case "unban":
		return admin.Unban{TargetID: req.TargetUserID}, true
	case "update_role":
		return admin.UpdateRole{TargetID: req.TargetUserID, Role: req.Data.Role}, true
	case "verify_balance":
		return admin.VerifyBalance{TargetID: req.TargetUserID}, true
	}
	return nil, false
}
