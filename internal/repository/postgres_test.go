package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: pgerrcode.SerializationFailure}, want: true},
		{name: "deadlock", err: fmt.Errorf("lock account: %w", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, want: false},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "business error", err: errors.New("order 1 is cancelled"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestWithRetry(t *testing.T) {
	r := &PostgresRepository{}

	t.Run("retries deadlock until success", func(t *testing.T) {
		calls := 0
		err := r.withRetry(context.Background(), func() error {
			calls++
			if calls < 2 {
				return &pgconn.PgError{Code: pgerrcode.DeadlockDetected}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("does not retry business errors", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := r.withRetry(context.Background(), func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		err := r.withRetry(ctx, func() error {
			calls++
			return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
