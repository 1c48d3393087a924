package database

import (
	"context"
	"fmt"

	"escrow_trade_service/pkg/logger"

	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDatabaseConnection create a new postgresSQL pgx pool
func NewDatabaseConnection(d Connection) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(d.ConnectStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	var pool *pgxpool.Pool
	attempt := 0
	err = withRetry(d.RetryCount, d.RetryInterval, func() error {
		attempt++
		var err error
		pool, err = pgxpool.ConnectConfig(context.Background(), dbConfig)
		if err != nil {
			logger.Log.Warn("Failed to connect to postgreSQL database, retrying...",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	return pool, err
}

// NewGormConnection create a gorm postgres connection
func NewGormConnection(d Connection) (*gorm.DB, error) {
	var db *gorm.DB
	attempt := 0
	err := withRetry(d.RetryCount, d.RetryInterval, func() error {
		attempt++
		var err error
		db, err = gorm.Open(postgres.Open(d.ConnectStr), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			logger.Log.Warn("Failed to open gorm postgres, retrying...", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	return db, err
}
