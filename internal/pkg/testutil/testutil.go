// Package testutil holds fixtures shared by package tests: an isolated
// SQLite database per test and a Redis client that skips the test when no
// server is reachable.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/database"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/env"
)

// OpenDB returns a migrated in-memory database private to t.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory(t.Name())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// CreateAccount inserts an account with the given balance and a matching
// purchase entry so the balance equals the entry sum.
func CreateAccount(t testing.TB, db *gorm.DB, id string, credits int64) *models.Account {
	t.Helper()
	acct, err := models.NewAccount(id, id+"@example.com")
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	acct.Credits = credits
	if err := db.Create(acct).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}
	if credits > 0 {
		key := "signup"
		entry := &models.LedgerEntry{
			AccountID:      id,
			Amount:         credits,
			Kind:           models.LedgerKindPurchase,
			Description:    "signup grant",
			IdempotencyKey: &key,
			BalanceAfter:   credits,
		}
		if err := db.Create(entry).Error; err != nil {
			t.Fatalf("create signup entry: %v", err)
		}
	}
	return acct
}

// CreateAdmin inserts an account with the admin role.
func CreateAdmin(t testing.TB, db *gorm.DB, id string) *models.Account {
	t.Helper()
	acct := CreateAccount(t, db, id, 0)
	if err := db.Model(acct).Update("role", models.ROLE_ADMIN).Error; err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	acct.Role = models.ROLE_ADMIN
	return acct
}

// Redis returns a client on an isolated logical database, flushed before
// and after the test. The test is skipped when Redis is unreachable.
func Redis(t testing.TB, db int) *redis.Client {
	t.Helper()

	hosts := unique(env.GetEnv("CACHE_HOST", ""), "cache", "localhost", "127.0.0.1")
	ports := unique(env.GetEnv("CACHE_PORT", "6379"), "6379")
	passwords := uniqueAllowEmpty(env.GetEnv("CACHE_PASSWORD", ""), "")

	var lastErr error
	for _, host := range hosts {
		for _, port := range ports {
			for _, password := range passwords {
				client := redis.NewClient(&redis.Options{
					Addr:     fmt.Sprintf("%s:%s", host, port),
					Password: password,
					DB:       db,
				})
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				err := client.Ping(ctx).Err()
				cancel()
				if err != nil {
					_ = client.Close()
					lastErr = err
					continue
				}
				if err := client.FlushDB(context.Background()).Err(); err != nil {
					_ = client.Close()
					t.Fatalf("flush redis db %d: %v", db, err)
				}
				t.Cleanup(func() {
					_ = client.FlushDB(context.Background()).Err()
					_ = client.Close()
				})
				return client
			}
		}
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}

func unique(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func uniqueAllowEmpty(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
