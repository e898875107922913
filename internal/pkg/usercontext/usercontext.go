package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PixelStudio/app/models"
)

// AccountContext is the verified identity of the caller, built once per
// request by the auth middleware.
type AccountContext struct {
	AccountID     string `json:"account_id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	IsAdmin       bool   `json:"is_admin"`
	Suspended     bool   `json:"suspended"`
	Authenticated bool   `json:"authenticated"`
}

// FromAccount builds the context for a loaded account.
func FromAccount(a *models.Account) AccountContext {
	return AccountContext{
		AccountID:     a.ID,
		Email:         a.Email,
		Role:          a.Role,
		IsAdmin:       a.IsAdmin(),
		Suspended:     a.IsSuspended(),
		Authenticated: true,
	}
}

// Set stores ac on the request.
func Set(c *fiber.Ctx, ac AccountContext) {
	c.Locals(KeyAccountContext, ac)
	c.Locals(KeyAccountID, ac.AccountID)
	c.Locals(KeyIsAdmin, ac.IsAdmin)
}

// Get retrieves the account context from fiber context.
// Returns an unauthenticated context if none is set
func Get(c *fiber.Ctx) AccountContext {
	if ac, ok := c.Locals(KeyAccountContext).(AccountContext); ok {
		return ac
	}
	return AccountContext{}
}

// IsAuthenticated checks if the request carries a verified account
func IsAuthenticated(c *fiber.Ctx) bool {
	return Get(c).Authenticated
}

// IsAdmin checks if the current account is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return Get(c).IsAdmin
}

// AccountID returns the current account id, or "" if unauthenticated
func AccountID(c *fiber.Ctx) string {
	return Get(c).AccountID
}
