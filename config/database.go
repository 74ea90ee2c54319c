package config

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"

	// registered by lib/pq
	pqDriverName = "postgres"
)

// NewDatabase opens the artifact index. SQLite lives next to the recordings
// unless a DSN is given; postgres connections are retried with backoff.
func NewDatabase(ctx context.Context, cfg Database, recordingDir string, environment string) (*gorm.DB, error) {
	logLevel := logger.Warn
	if environment == "develop" {
		logLevel = logger.Info
	}
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}

	switch cfg.Driver {
	case DriverSqlite, "":
		return openSqlite(cfg.DSN, recordingDir, gormCfg)
	case DriverPostgres:
		return openPostgres(ctx, cfg.DSN, gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openSqlite(dsn string, recordingDir string, gormCfg *gorm.Config) (*gorm.DB, error) {
	if dsn == "" {
		if err := os.MkdirAll(recordingDir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create recording directory: %w", err)
		}
		dsn = filepath.Join(recordingDir, "index.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one writer keeps conditional transitions serialised
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func openPostgres(ctx context.Context, dsn string, gormCfg *gorm.Config) (*gorm.DB, error) {
	conn, err := sql.Open(pqDriverName, dsn)
	if err != nil {
		return nil, err
	}

	operation := func() (struct{}, error) {
		if err := conn.PingContext(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to connect to Postgres. Retrying...")
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	if _, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5)); err != nil {
		conn.Close()
		return nil, err
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), gormCfg)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Msg("Successfully connected to Postgres")
	return db, nil
}
