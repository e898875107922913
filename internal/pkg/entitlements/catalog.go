package entitlements

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/app/repository"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
)

const (
	catalogKeyPrefix = "catalog:op:"
	// DefaultCatalogTTL keeps cost changes visible within half a minute.
	DefaultCatalogTTL = 30 * time.Second
)

// DBCatalog reads the catalog straight from the database.
type DBCatalog struct {
	repo repository.CatalogRepository
}

func NewDBCatalog(repo repository.CatalogRepository) *DBCatalog {
	return &DBCatalog{repo: repo}
}

func (c *DBCatalog) GetEnabledOperation(ctx context.Context, operationType string) (*models.AIModel, error) {
	m, err := c.repo.GetEnabledByType(ctx, operationType)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ledger.ErrUnknownOperation
	}
	return m, err
}

// CachedCatalog puts a short-lived Redis cache in front of another catalog.
// Redis errors are logged and the lookup falls through to the next catalog.
type CachedCatalog struct {
	next   Catalog
	client redis.Cmdable
	ttl    time.Duration
}

func NewCachedCatalog(next Catalog, client redis.Cmdable, ttl time.Duration) *CachedCatalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &CachedCatalog{next: next, client: client, ttl: ttl}
}

func (c *CachedCatalog) GetEnabledOperation(ctx context.Context, operationType string) (*models.AIModel, error) {
	key := catalogKeyPrefix + operationType

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var m models.AIModel
		if jsonErr := json.Unmarshal(raw, &m); jsonErr == nil {
			return &m, nil
		}
		log.Warnf("[Entitlements] Dropping malformed cache entry %s", key)
		_ = c.client.Del(ctx, key).Err()
	case !errors.Is(err, redis.Nil):
		log.Debugf("[Entitlements] Catalog cache unavailable: %v", err)
	}

	m, err := c.next.GetEnabledOperation(ctx, operationType)
	if err != nil {
		return nil, err
	}
	if data, jsonErr := json.Marshal(m); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, data, c.ttl).Err(); setErr != nil {
			log.Debugf("[Entitlements] Could not cache %s: %v", key, setErr)
		}
	}
	return m, nil
}

// Invalidate drops the cached entry for operationType.
func (c *CachedCatalog) Invalidate(ctx context.Context, operationType string) error {
	return c.client.Del(ctx, catalogKeyPrefix+operationType).Err()
}
