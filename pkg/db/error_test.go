package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsTransientErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"serialization", errors.New("ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)"), true},
		{"closed pool", errors.New("sql: database is closed"), true},
		{"missing table", errors.New("no such table: credit_transactions"), false},
		{"check violation", errors.New(`ERROR: new row violates check constraint "credit_accounts_balance_check" (SQLSTATE 23514)`), false},
		{"append only", errors.New("ERROR: credit_transactions is append-only (SQLSTATE P0001)"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransientErr(tc.err))
		})
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: credit_transactions.idempotency_key")))
	assert.False(t, IsDuplicateKeyErr(errors.New("no such table: credit_transactions")))
	assert.False(t, IsDuplicateKeyErr(nil))
}
