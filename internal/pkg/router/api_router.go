package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/PixelStudio/internal/pkg/middleware"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/usercontext"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.AccountContext(h.deps.Verifier, h.deps.Provisioner))
	if h.deps.RequestsPerMinute > 0 {
		v1.Use(h.limiter())
	}

	ai := v1.Group("/ai")
	ai.Post("/process", h.deps.AI.HandleProcess)
	ai.Post("/text-to-image", h.deps.AI.HandleTextToImage)
	v1.Get("/operations/:id", h.deps.AI.HandleGetOperation)

	account := v1.Group("/account")
	account.Get("/", h.deps.Account.HandleGetAccount)
	account.Get("/stats", h.deps.Account.HandleGetStats)
	account.Get("/transactions", h.deps.Account.HandleGetTransactions)

	admin := v1.Group("/admin", middleware.RequireAdmin)
	admin.Post("/users", h.deps.Admin.HandleUserAction)
	admin.Get("/users/:id/audit", h.deps.Admin.HandleAuditTrail)
}

// limiter keys on the verified account so clients behind one address do
// not share a budget.
func (h ApiRouter) limiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        h.deps.RequestsPerMinute,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := usercontext.AccountID(c); id != "" {
				return "account:" + id
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
		},
	})
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
