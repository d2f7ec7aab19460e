package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"UPDATE credit_accounts SET balance = balance + ?": "UPDATE",
		"WITH x AS (SELECT 1) SELECT * FROM x":             "SELECT",
		"  insert into credit_transactions (id) values (1)": "INSERT",
		"":        "UNKNOWN",
		"PRAGMA x": "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}

func TestTraceSkipsRecordNotFound(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(DefaultGormLoggerConfig())
	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT * FROM credit_accounts WHERE id = ?", 0
	}, gormlogger.ErrRecordNotFound)

	if logs.Len() != 0 {
		t.Fatalf("expected no log entries, got %d", logs.Len())
	}

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "UPDATE credit_accounts SET balance = balance + ?", 0
	}, errors.New("database is locked"))

	if logs.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logs.Len())
	}
}

func TestParseGormLevel(t *testing.T) {
	if ParseGormLevel("silent") != gormlogger.Silent {
		t.Fatalf("expected silent")
	}
	if ParseGormLevel("bogus") != gormlogger.Warn {
		t.Fatalf("expected warn default")
	}
}
