// Package ledgertest provides an in-memory ledger database for tests.
package ledgertest

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rafaelgcostaa/adslibrary/internal/clock"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/migration"
	pkgdb "github.com/rafaelgcostaa/adslibrary/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Epoch is the start time of clocks returned by Clock.
var Epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// OpenDB returns a private in-memory SQLite database with the ledger schema.
// A single connection serializes all access, like a row lock would.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// OpenFileDB returns a WAL-mode SQLite database in a temp dir, opened through
// the production connector with maxOpen pooled connections, so concurrent
// callers hold overlapping transactions.
func OpenFileDB(t testing.TB, maxOpen int) *gorm.DB {
	t.Helper()

	db, err := pkgdb.Connect(nil, pkgdb.Config{
		Type:        pkgdb.TypeSQLite,
		Path:        filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConn: maxOpen,
		MaxIdleConn: maxOpen,
	}, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("open file db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func MustNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

// Clock returns a fake clock that moves forward one millisecond per reading,
// so transactions written back to back get distinct timestamps.
func Clock() *clock.FakeClock {
	return clock.NewTickingClock(Epoch, time.Millisecond)
}

func NewAccountID() string {
	return uuid.NewString()
}

// SeedAccount inserts an account row with the given balance directly,
// bypassing the authority. Use it only to set up drift or fixtures.
func SeedAccount(t testing.TB, db *gorm.DB, id string, balance ledgerdomain.Credits) {
	t.Helper()
	now := Epoch
	if err := db.Exec(
		`INSERT INTO credit_accounts (id, balance, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, balance, ledgerdomain.AccountStatusActive, now, now,
	).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func CountTransactions(t testing.TB, db *gorm.DB, accountID string) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(`SELECT COUNT(1) FROM credit_transactions WHERE account_id = ?`, accountID).Scan(&count).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return count
}

// Credits parses a decimal literal or fails the test.
func Credits(t testing.TB, raw string) ledgerdomain.Credits {
	t.Helper()
	c, err := ledgerdomain.ParseCredits(raw)
	if err != nil {
		t.Fatalf("parse credits %q: %v", raw, err)
	}
	return c
}
