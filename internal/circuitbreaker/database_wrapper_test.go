package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMockWrapper(t *testing.T) (*DatabaseWrapper, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDatabaseWrapper(sqlx.NewDb(db, "sqlmock"), "test-store", zaptest.NewLogger(t)), mock
}

func TestDatabaseWrapper_InTxCommitAndRollback(t *testing.T) {
	wrapper, mock := newMockWrapper(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM documents").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := wrapper.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", "a")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = wrapper.InTx(ctx, func(tx *sqlx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseWrapper_NoRowsDoesNotTrip(t *testing.T) {
	wrapper, mock := newMockWrapper(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		mock.ExpectQuery("SELECT data").WillReturnError(sql.ErrNoRows)
		err := wrapper.Do(ctx, func(db *sqlx.DB) error {
			var s string
			return db.GetContext(ctx, &s, "SELECT data FROM documents")
		})
		assert.ErrorIs(t, err, sql.ErrNoRows)
	}
	assert.False(t, wrapper.IsCircuitBreakerOpen())
}

func TestDatabaseWrapper_OpensAfterFailures(t *testing.T) {
	wrapper, mock := newMockWrapper(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		assert.Error(t, wrapper.PingContext(ctx))
	}
	assert.True(t, wrapper.IsCircuitBreakerOpen())
	assert.Equal(t, ErrCircuitBreakerOpen, wrapper.PingContext(ctx))
}
