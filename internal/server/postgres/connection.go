// Package postgres implements the server repositories on PostgreSQL with gorm.
package postgres

import (
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/fieldops/preshift/internal/config"
	"github.com/fieldops/preshift/internal/server/store"
)

type DB struct {
	*gorm.DB
}

// NewDB connects, checks the connection, and migrates the schema.
func NewDB(cfg *config.DatabaseConfig, environment string, logger *zap.Logger) (*DB, error) {
	gormLogLevel := gormLogger.Info
	if environment == "production" {
		gormLogLevel = gormLogger.Warn
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := db.AutoMigrate(&EventModel{}, &FaultModel{}, &AssetModel{}, &ChecklistModel{}); err != nil {
		return nil, fmt.Errorf("error migrating schema: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName),
		zap.Int("max_open_connections", 25),
	)

	return &DB{DB: db}, nil
}

// Repositories returns the store repositories backed by this database.
func (d *DB) Repositories() store.Repositories {
	return store.Repositories{
		Events:     &EventRepository{db: d},
		Faults:     &FaultRepository{db: d},
		Assets:     &AssetRepository{db: d},
		Checklists: &ChecklistRepository{db: d},
	}
}

func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *DB) Health() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
