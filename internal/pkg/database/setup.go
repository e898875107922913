package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// GetDB returns the process-wide database handle set up by SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}

// SetupDatabase opens the configured database, migrates the schema and
// seeds the catalog. It panics when the database stays unreachable.
func SetupDatabase() {
	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = Open()
		if err == nil {
			if err = Migrate(DB); err != nil {
				panic(err)
			}
			return
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// Open connects to the database selected by DB_DRIVER (mysql or sqlite).
func Open() (*gorm.DB, error) {
	switch env.GetEnv("DB_DRIVER", "mysql") {
	case "sqlite":
		return OpenSQLite(env.GetEnv("DB_PATH", "pixelstudio.db"))
	default:
		return OpenMySQL()
	}
}

// OpenMySQL connects to MySQL with the DB_* settings.
func OpenMySQL() (*gorm.DB, error) {
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       dsn,
		DefaultStringSize:         256,
		DisableDatetimePrecision:  true,
		DontSupportRenameIndex:    true,
		DontSupportRenameColumn:   true,
		SkipInitializeWithVersion: false,
	}), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Migrate brings the schema up to date and seeds default rows.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Account{},
		&models.LedgerEntry{},
		&models.Operation{},
		&models.AIModel{},
		&models.AuditLog{},
		&models.BillingSubscription{},
		&models.BillingPlanMapping{},
		&models.BillingWebhookEvent{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := models.SeedAIModels(db); err != nil {
		return fmt.Errorf("seed ai models: %w", err)
	}
	if err := models.SeedBillingPlanMappings(db); err != nil {
		return fmt.Errorf("seed billing plan mappings: %w", err)
	}
	return nil
}
