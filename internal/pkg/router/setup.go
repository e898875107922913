package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ManuelReschke/PixelStudio/app/controllers"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/middleware"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the wired controllers and middleware inputs.
type Dependencies struct {
	Verifier    *middleware.TokenVerifier
	Provisioner middleware.AccountProvisioner

	AI      *controllers.AIController
	Account *controllers.AccountController
	Admin   *controllers.AdminController
	Billing *controllers.BillingController
	Health  *controllers.HealthController

	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// LimiterStorage shares rate-limit counters; nil keeps them in memory.
	LimiterStorage fiber.Storage
	// RequestsPerMinute per account on /api/v1; 0 disables the limiter.
	RequestsPerMinute int
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
