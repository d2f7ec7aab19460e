package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	pkgdb "github.com/rafaelgcostaa/adslibrary/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertAccount(ctx context.Context, db *gorm.DB, account *domain.Account) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO credit_accounts (id, balance, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		account.ID,
		account.Balance,
		account.Status,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindAccount(ctx context.Context, db *gorm.DB, id string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// LockAccount reads the account row and, on postgres, holds a row lock until
// the surrounding transaction ends. SQLite transactions are opened with
// _txlock=immediate and already hold the database write lock.
func (r *repo) LockAccount(ctx context.Context, db *gorm.DB, id string) (*domain.Account, error) {
	query := `SELECT id, balance, status, created_at, updated_at
		 FROM credit_accounts
		 WHERE id = ?`
	if pkgdb.IsPostgres(db) {
		query += ` FOR UPDATE`
	}

	var rows []domain.Account
	if err := db.WithContext(ctx).Raw(query, id).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ApplyDelta adds delta to the balance in one statement and returns the
// resulting balance. With guardNonNegative the update only matches while the
// result stays >= 0; applied is false when no row matched.
func (r *repo) ApplyDelta(ctx context.Context, db *gorm.DB, id string, delta domain.Credits, guardNonNegative bool, now time.Time) (domain.Credits, bool, error) {
	query := `UPDATE credit_accounts
		 SET balance = balance + ?, updated_at = ?
		 WHERE id = ?`
	args := []any{delta, now, id}
	if guardNonNegative {
		query += ` AND balance + ? >= 0`
		args = append(args, delta)
	}
	query += ` RETURNING balance`

	var balances []int64
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&balances).Error; err != nil {
		return 0, false, err
	}
	if len(balances) == 0 {
		return 0, false, nil
	}
	return domain.Credits(balances[0]), true, nil
}

func (r *repo) SetStatus(ctx context.Context, db *gorm.DB, id string, status domain.AccountStatus, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_accounts SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		id,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ListAccountIDs(ctx context.Context, db *gorm.DB, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM credit_accounts
		 WHERE id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		afterID,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *domain.Transaction) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (
			id, account_id, amount, balance_after, kind, action_type,
			description, metadata, idempotency_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, idempotency_key) DO NOTHING`,
		tx.ID,
		tx.AccountID,
		tx.Amount,
		tx.BalanceAfter,
		tx.Kind,
		tx.ActionType,
		tx.Description,
		tx.Metadata,
		tx.IdempotencyKey,
		tx.CreatedAt,
	)
	if result.Error != nil {
		if pkgdb.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, accountID, key string) (*domain.Transaction, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var record domain.Transaction
	err := db.WithContext(ctx).
		Where("account_id = ? AND idempotency_key = ?", accountID, key).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListTransactions returns up to limit transactions newest first, starting
// strictly after the given position.
func (r *repo) ListTransactions(
	ctx context.Context,
	db *gorm.DB,
	accountID string,
	filter domain.TransactionFilter,
	limit int,
	before *domain.Position,
) ([]*domain.Transaction, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("account_id = ?", accountID)

	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", filter.Kind)
	}
	if filter.ActionType != "" {
		stmt = stmt.Where("action_type = ?", filter.ActionType)
	}
	if !filter.From.IsZero() {
		stmt = stmt.Where("created_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		stmt = stmt.Where("created_at < ?", filter.To.UTC())
	}
	if before != nil {
		stmt = stmt.Where(
			"(created_at < ? OR (created_at = ? AND id < ?))",
			before.CreatedAt.UTC(),
			before.CreatedAt.UTC(),
			before.ID,
		)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var items []*domain.Transaction
	if err := stmt.Order("created_at DESC").Order("id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// LastTransactionBefore returns the newest transaction created strictly
// before the given time, or nil when there is none.
func (r *repo) LastTransactionBefore(ctx context.Context, db *gorm.DB, accountID string, before time.Time) (*domain.Transaction, error) {
	var items []*domain.Transaction
	err := db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID, before.UTC()).
		Order("created_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (r *repo) SumTransactions(ctx context.Context, db *gorm.DB, accountID string) (domain.Credits, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS total, COUNT(1) AS count
		 FROM credit_transactions
		 WHERE account_id = ?`,
		accountID,
	).Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return domain.Credits(row.Total), row.Count, nil
}

func (r *repo) Summarize(ctx context.Context, db *gorm.DB, accountID string) ([]domain.ActionTotal, error) {
	var rows []struct {
		ActionType string
		Count      int64
		Spent      int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT action_type, COUNT(1) AS count, COALESCE(SUM(-amount), 0) AS spent
		 FROM credit_transactions
		 WHERE account_id = ? AND kind = ?
		 GROUP BY action_type
		 ORDER BY action_type ASC`,
		accountID,
		domain.KindConsumption,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make([]domain.ActionTotal, 0, len(rows))
	for _, row := range rows {
		totals = append(totals, domain.ActionTotal{
			ActionType: domain.ActionType(row.ActionType),
			Count:      row.Count,
			Spent:      domain.Credits(row.Spent),
		})
	}
	return totals, nil
}
