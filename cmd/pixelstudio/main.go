package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PixelStudio/internal/pkg/cache"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/database"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/env"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/metrics"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/server"
)

func main() {
	app, services := NewApplication()

	if services.Manager != nil {
		services.Manager.Start()
	}

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("[Server] Listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("[Server] Shutting down")

	if services.Manager != nil {
		services.Manager.Stop()
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("[Server] Shutdown: %v", err)
	}
}

// NewApplication connects the database and cache and returns the wired app.
// Without a reachable cache the service runs with operations executed inline
// and no rate limiting.
func NewApplication() (*fiber.App, *server.Services) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	var (
		redisClient    *redis.Client
		limiterStorage fiber.Storage
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err == nil {
		redisClient = cache.GetClient()
		limiterStorage = cache.NewLimiterStorage()
	} else {
		log.Warnf("[Server] Cache unavailable, running without job queue and rate limiter: %v", err)
	}

	opts := server.OptionsFromEnv()
	services := server.NewServices(database.GetDB(), redisClient, metrics.Default(), opts)
	app := server.NewApp(database.GetDB(), redisClient, services, opts, limiterStorage, prometheus.DefaultGatherer)

	// SWAGGER / OPENAPI
	if specPath := findOpenAPISpec(); specPath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	} else {
		log.Warn("[Server] docs/openapi.yml not found, API docs disabled")
	}

	return app, services
}

func findOpenAPISpec() string {
	for _, base := range []string{"./", "../../", "../../../"} {
		path := base + "docs/openapi.yml"
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
