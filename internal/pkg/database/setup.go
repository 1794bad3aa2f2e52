package database

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/internal/pkg/env"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DSN builds the MySQL data source name from DB_* variables.
func DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
}

// SetupDatabase connects with retries. Schema changes belong to cmd/migrate;
// AutoMigrate only runs when DB_AUTO_MIGRATE is set or in dev.
func SetupDatabase(log *zap.Logger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       DSN(),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), gormConfig)
		if err == nil {
			if env.GetEnvBool("DB_AUTO_MIGRATE", env.IsDev()) {
				if err := AutoMigrate(db); err != nil {
					return nil, fmt.Errorf("auto migrate: %w", err)
				}
			}
			return db, nil
		}

		log.Warn("failed to connect to database", zap.Int("attempt", i+1), zap.Int("max_attempts", maxRetries), zap.Error(err))
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("connect database: %w", err)
}

// AutoMigrate creates or updates the billing tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ProviderConfig{},
		&models.Subscription{},
		&models.SubscriptionEvent{},
		&models.OAuthStateToken{},
		&models.SubscriptionSettings{},
	)
}
