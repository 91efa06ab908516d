package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/csnsor/bs-webpanel-sub000/internal/config"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

var (
	// DB is the global database connection
	DB *gorm.DB
)

// Initialize sets up the database connection based on configuration
func Initialize(cfg *config.Config) error {
	// Skip if database is disabled
	if !cfg.Database.Enabled {
		logger.Info("Database support is disabled")
		return nil
	}

	dialector, err := dialectorFor(cfg.Database)
	if err != nil {
		return err
	}

	logger.Infof("Connecting to %s database: %s:%d/%s", cfg.Database.Driver, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)

	DB, err = gorm.Open(dialector, &gorm.Config{
		Logger:         NewCustomGormLogger(cfg.Logger.Level),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying SQL DB to configure connection pool
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.Info("Database connection established successfully")
	return nil
}

func dialectorFor(dc config.DatabaseConfig) (gorm.Dialector, error) {
	switch dc.Driver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC",
			dc.Username, dc.Password, dc.Host, dc.Port, dc.DBName, dc.Charset)
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			dc.Host, dc.Port, dc.Username, dc.Password, dc.DBName, dc.SSLMode)
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dc.Driver)
	}
}

// GetDB returns the database connection
func GetDB() *gorm.DB {
	return DB
}

// AllModels lists every table owned by the service.
func AllModels() []interface{} {
	return []interface{}{
		&models.DiscordAppeal{},
		&models.RobloxAppeal{},
		&models.AppellantState{},
		&models.AppealSession{},
		&models.BannedUserContext{},
		&models.AppellantIdentity{},
		&models.OAuthToken{},
		&models.PendingRemoval{},
	}
}

// Migrate creates or updates all tables.
func Migrate(db *gorm.DB) error {
	for _, m := range AllModels() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", m, err)
		}
	}
	return nil
}

// NewGormRepositories wires every repository to db.
func NewGormRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Appeals:    NewAppealRepository(db),
		Appellants: NewAppellantRepository(db),
		Sessions:   NewSessionRepository(db),
		Contexts:   NewContextRepository(db),
		Identities: NewIdentityRepository(db),
		Tokens:     NewTokenRepository(db),
		Removals:   NewRemovalRepository(db),
		Durable:    true,
		ping: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
}
