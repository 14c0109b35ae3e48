// Package db opens the SQL pool behind the document store.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Config holds database configuration
type Config struct {
	Driver          string // postgres | sqlite3
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	Path            string // sqlite3 file, ":memory:" for an ephemeral store
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration // ignored for sqlite3; its connection is never recycled
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = "postgres"
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 25
	}
	if c.IdleConnections == 0 {
		c.IdleConnections = 5
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 5 * time.Minute
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.Driver == "sqlite3" {
		if c.Path == "" {
			c.Path = ":memory:"
		}
		// one writer; a shared in-memory database also needs a single connection
		c.MaxConnections = 1
		c.IdleConnections = 1
		// recycling the only connection of ":memory:" would open a new, empty database
		c.MaxLifetime = 0
	}
}

// DSN builds the driver connection string
func (c Config) DSN() string {
	if c.Driver == "sqlite3" {
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", c.Path)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Open opens and pings a connection pool
func Open(ctx context.Context, config Config, logger *zap.Logger) (*sqlx.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.applyDefaults()

	db, err := sqlx.Open(config.Driver, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.IdleConnections)
	db.SetConnMaxLifetime(config.MaxLifetime)
	if config.Driver == "sqlite3" {
		db.SetConnMaxIdleTime(0)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	fields := []zap.Field{
		zap.String("driver", config.Driver),
		zap.Int("max_connections", config.MaxConnections),
	}
	if config.Driver == "sqlite3" {
		fields = append(fields, zap.String("path", config.Path))
	} else {
		fields = append(fields, zap.String("host", config.Host), zap.String("database", config.Database))
	}
	logger.Info("Database client initialized", fields...)

	return db, nil
}
