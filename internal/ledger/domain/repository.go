package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Position is a keyset cursor into the newest-first transaction order.
type Position struct {
	CreatedAt time.Time
	ID        int64
}

// Repository is the ledger store. Every method runs on the handle it is
// given so the authority can compose several calls inside one transaction.
type Repository interface {
	InsertAccount(ctx context.Context, db *gorm.DB, account *Account) (bool, error)
	FindAccount(ctx context.Context, db *gorm.DB, id string) (*Account, error)
	LockAccount(ctx context.Context, db *gorm.DB, id string) (*Account, error)
	ApplyDelta(ctx context.Context, db *gorm.DB, id string, delta Credits, guardNonNegative bool, now time.Time) (Credits, bool, error)
	SetStatus(ctx context.Context, db *gorm.DB, id string, status AccountStatus, now time.Time) (int64, error)
	ListAccountIDs(ctx context.Context, db *gorm.DB, afterID string, limit int) ([]string, error)

	InsertTransaction(ctx context.Context, db *gorm.DB, tx *Transaction) (bool, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, accountID, key string) (*Transaction, error)
	ListTransactions(ctx context.Context, db *gorm.DB, accountID string, filter TransactionFilter, limit int, before *Position) ([]*Transaction, error)
	LastTransactionBefore(ctx context.Context, db *gorm.DB, accountID string, before time.Time) (*Transaction, error)
	SumTransactions(ctx context.Context, db *gorm.DB, accountID string) (Credits, int64, error)
	Summarize(ctx context.Context, db *gorm.DB, accountID string) ([]ActionTotal, error)
}
