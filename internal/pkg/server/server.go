// Package server wires repositories, services and controllers into a fiber
// application.
package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/controllers"
	"github.com/ManuelReschke/PixelStudio/app/repository"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/accounts"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/admin"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/billing"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/entitlements"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/env"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/metrics"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/middleware"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/processor"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/router"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/usage"
)

// Options are the runtime settings of the service.
type Options struct {
	JWTSecret         string
	WebhookSecret     string
	WebhookTolerance  time.Duration
	ProcessingDelay   time.Duration
	SignupCredits     int64
	Workers           int
	RequestsPerMinute int
	CatalogTTL        time.Duration
	// DisableRequestLog drops the access log middleware.
	DisableRequestLog bool
}

// OptionsFromEnv reads Options from the environment.
func OptionsFromEnv() Options {
	return Options{
		JWTSecret:         env.GetEnv("AUTH_JWT_SECRET", ""),
		WebhookSecret:     env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		WebhookTolerance:  env.GetEnvDuration("STRIPE_WEBHOOK_TOLERANCE", billing.DefaultSignatureTolerance),
		ProcessingDelay:   time.Duration(env.GetEnvInt("AI_PROCESSING_DELAY_MS", 0)) * time.Millisecond,
		SignupCredits:     int64(env.GetEnvInt("SIGNUP_CREDITS", accounts.DefaultSignupCredits)),
		Workers:           env.GetEnvInt("JOBQUEUE_WORKERS", 5),
		RequestsPerMinute: env.GetEnvInt("API_RATE_LIMIT_PER_MINUTE", 120),
		CatalogTTL:        env.GetEnvDuration("CATALOG_CACHE_TTL", entitlements.DefaultCatalogTTL),
	}
}

// Services holds the wired domain services.
type Services struct {
	Repos       *repository.Repositories
	Metrics     *metrics.Metrics
	Ledger      *ledger.Service
	Resolver    *entitlements.Resolver
	Coordinator *usage.Coordinator
	Billing     *billing.Service
	Admin       *admin.Service
	Provisioner *accounts.Provisioner
	Queue       *jobqueue.Queue
	Manager     *jobqueue.Manager
}

// NewServices builds the domain services on db. With a nil redisClient the
// catalog is read straight from the database and there is no job queue.
func NewServices(db *gorm.DB, redisClient *redis.Client, m *metrics.Metrics, opts Options) *Services {
	repos := repository.NewRepositories(db)
	ledgerSvc := ledger.NewService(ledger.NewStore(db), m)

	var catalog entitlements.Catalog = entitlements.NewDBCatalog(repos.Catalog)
	if redisClient != nil {
		catalog = entitlements.NewCachedCatalog(catalog, redisClient, opts.CatalogTTL)
	}
	resolver := entitlements.NewResolver(catalog, repos.Account, m)
	coord := usage.NewCoordinator(resolver, catalog, ledgerSvc, repos.Operation, processor.NewMockExecutor(opts.ProcessingDelay), m)

	s := &Services{
		Repos:       repos,
		Metrics:     m,
		Ledger:      ledgerSvc,
		Resolver:    resolver,
		Coordinator: coord,
		Billing:     billing.NewServiceFromDB(db, repos.Account, ledgerSvc, m),
		Admin:       admin.NewService(db, repos.Account, repos.Audit, ledgerSvc),
		Provisioner: accounts.NewProvisioner(db, repos.Account, ledgerSvc, opts.SignupCredits),
	}

	if redisClient != nil {
		s.Queue = jobqueue.NewQueue(redisClient, jobqueue.Config{Workers: opts.Workers}, m)
		jobqueue.RegisterOperationHandlers(s.Queue, coord)
		s.Manager = jobqueue.NewManager(s.Queue, jobqueue.ManagerConfig{})
	}
	return s
}

// NewApp builds the fiber application. limiterStorage and gatherer may be nil.
func NewApp(db *gorm.DB, redisClient *redis.Client, s *Services, opts Options, limiterStorage fiber.Storage, gatherer prometheus.Gatherer) *fiber.App {
	if opts.JWTSecret == "" {
		log.Warn("[Server] AUTH_JWT_SECRET is empty; every API request will be rejected")
	}

	app := fiber.New(fiber.Config{
		AppName:   "PixelStudio",
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New())
	if !opts.DisableRequestLog {
		app.Use(logger.New())
	}

	var queue controllers.OperationQueue
	if s.Queue != nil {
		queue = s.Queue
	}

	router.InstallRouter(app, router.Dependencies{
		Verifier:          middleware.NewTokenVerifier(opts.JWTSecret),
		Provisioner:       s.Provisioner,
		AI:                controllers.NewAIController(s.Coordinator, s.Repos.Operation, queue),
		Account:           controllers.NewAccountController(s.Repos.Account, s.Repos.Operation, s.Ledger, s.Billing),
		Admin:             controllers.NewAdminController(s.Admin),
		Billing:           controllers.NewBillingController(s.Billing, opts.WebhookSecret, opts.WebhookTolerance),
		Health:            controllers.NewHealthController(db, redisClient),
		Gatherer:          gatherer,
		LimiterStorage:    limiterStorage,
		RequestsPerMinute: opts.RequestsPerMinute,
	})
	return app
}
