package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// connectPingTimeout bounds the initial connectivity probe so a down database
// fails fast instead of hanging startup.
const connectPingTimeout = 5 * time.Second

// Connection wraps the pooled database handle together with the configuration
// it was opened with.
type Connection struct {
	DB     *sql.DB
	Config *Config
}

// NewConnection opens a pooled PostgreSQL connection and verifies it with a
// bounded ping. Pool sizing comes from the Config.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{DB: db, Config: cfg}, nil
}

// NewConnectionFromDB wraps an existing database handle. Used by tests that
// provision their own database (testcontainers).
func NewConnectionFromDB(db *sql.DB, cfg *Config) *Connection {
	return &Connection{DB: db, Config: cfg}
}

// Close closes the underlying pool.
func (c *Connection) Close() error {
	return c.DB.Close()
}
