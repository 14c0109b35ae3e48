package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper runs sqlx work through a breaker. sql.ErrNoRows does not count as a failure.
type DatabaseWrapper struct {
	db      *sqlx.DB
	cb      *CircuitBreaker
	name    string
	service string
	logger  *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper registered under service
func NewDatabaseWrapper(db *sqlx.DB, service string, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	config := GetDatabaseConfig().ToConfig()
	config.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, sql.ErrNoRows)
	}
	cb := NewCircuitBreaker("database", config, logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("database", service, cb)

	return &DatabaseWrapper{db: db, cb: cb, name: "database", service: service, logger: logger}
}

// Do runs fn against the pool
func (dw *DatabaseWrapper) Do(ctx context.Context, fn func(db *sqlx.DB) error) error {
	err := dw.cb.Execute(ctx, func() error { return fn(dw.db) })
	dw.record(err)
	return err
}

// InTx runs fn inside one transaction, committing on nil and rolling back otherwise
func (dw *DatabaseWrapper) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	err := dw.cb.Execute(ctx, func() error {
		tx, err := dw.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				dw.logger.Warn("Rollback failed", zap.Error(rbErr))
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	dw.record(err)
	return err
}

// PingContext wraps PingContext with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.Do(ctx, func(db *sqlx.DB) error { return db.PingContext(ctx) })
}

func (dw *DatabaseWrapper) record(err error) {
	success := err == nil || errors.Is(err, sql.ErrNoRows)
	GlobalMetricsCollector.RecordRequest(dw.name, dw.service, dw.cb.State(), success)
}

// DB returns the underlying pool
func (dw *DatabaseWrapper) DB() *sqlx.DB {
	return dw.db
}

// Close closes the pool
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
