package cache

import (
	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis"
)

// LimiterDatabase keeps rate-limit counters apart from cached data.
const LimiterDatabase = 1

// NewLimiterStorage returns a fiber.Storage on the cache server so rate
// limits are shared across instances. It panics if Redis is unreachable;
// call it only after Ping succeeded.
func NewLimiterStorage() fiber.Storage {
	host, port, password := Config()
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: LimiterDatabase,
		Reset:    false,
	})
}
