// Package database provides SQLite connectivity and schema management for
// the download manifest.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Database operational constants.
const (
	// HealthCheckTimeout is the maximum time to wait for a health check ping.
	HealthCheckTimeout = 5 * time.Second

	// busyTimeout is how long SQLite waits on a locked database before
	// returning SQLITE_BUSY. Concurrent download workers write through a
	// single connection pool, so short waits are expected.
	busyTimeout = 5 * time.Second
)

// HealthStatus contains database health information.
type HealthStatus struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Path       string `json:"path"`
	OpenConns  int    `json:"open_conns"`
	InUseConns int    `json:"in_use_conns"`
	IdleConns  int    `json:"idle_conns"`
}

// DB wraps the SQLite manifest database.
type DB struct {
	sql    *sql.DB
	path   string
	logger zerolog.Logger
}

// New opens (creating if necessary) the SQLite database at path. The parent
// directory is created if missing. WAL mode keeps readers unblocked while a
// download batch writes manifest rows.
func New(ctx context.Context, path string, logger zerolog.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", fmt.Sprintf("%d", busyTimeout.Milliseconds()))
	params.Set("_foreign_keys", "on")

	sqlDB, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn from the worker pool without limiting read throughput in WAL.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database %s: %w", path, err)
	}

	logger.Info().Str("path", path).Msg("manifest database opened")

	return &DB{
		sql:    sqlDB,
		path:   path,
		logger: logger,
	}, nil
}

// SQL returns the underlying database handle.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database.
func (db *DB) Close() {
	if db.sql != nil {
		if err := db.sql.Close(); err != nil {
			db.logger.Error().Err(err).Msg("failed to close manifest database")
			return
		}
		db.logger.Info().Msg("manifest database closed")
	}
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

// Health returns database health information as a typed struct.
func (db *DB) Health(ctx context.Context) HealthStatus {
	stats := db.sql.Stats()
	health := HealthStatus{
		Path:       db.path,
		OpenConns:  stats.OpenConnections,
		InUseConns: stats.InUse,
		IdleConns:  stats.Idle,
	}

	pingCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	if err := db.sql.PingContext(pingCtx); err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	} else {
		health.Status = "healthy"
	}

	return health
}

// WithTransaction executes a function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function completes successfully, the transaction is committed.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				db.logger.Error().
					Err(rbErr).
					Interface("panic", p).
					Msg("failed to rollback transaction after panic")
			}
			panic(p) // Re-throw panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().
				Err(rbErr).
				AnErr("original_error", err).
				Msg("failed to rollback transaction")
			return fmt.Errorf("transaction error: %w (rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
