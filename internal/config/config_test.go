package config

import (
	"testing"
	"time"

	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRIAL_CREDITS", "")
	t.Setenv("DATABASE_TYPE", "")
	t.Setenv("RECONCILE_INTERVAL", "")

	cfg := Load()
	if cfg.TrialCredits != ledgerdomain.Credits(1000) {
		t.Fatalf("expected 10.00 trial credits, got %s", cfg.TrialCredits)
	}
	if cfg.DB.Type != "postgres" {
		t.Fatalf("expected postgres default, got %q", cfg.DB.Type)
	}
	if cfg.Reconcile.Interval != 15*time.Minute {
		t.Fatalf("expected 15m reconcile interval, got %v", cfg.Reconcile.Interval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRIAL_CREDITS", "25.50")
	t.Setenv("DATABASE_TYPE", "SQLite")
	t.Setenv("CHARGE_MAX_ATTEMPTS", "2")

	cfg := Load()
	if cfg.TrialCredits.String() != "25.50" {
		t.Fatalf("expected 25.50, got %s", cfg.TrialCredits)
	}
	if cfg.DB.Type != "sqlite" {
		t.Fatalf("expected sqlite, got %q", cfg.DB.Type)
	}
	if cfg.Charge.MaxAttempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", cfg.Charge.MaxAttempts)
	}
}

func TestLoadIgnoresInvalidTrialCredits(t *testing.T) {
	t.Setenv("TRIAL_CREDITS", "1.234")
	cfg := Load()
	if cfg.TrialCredits != DefaultTrialCredits {
		t.Fatalf("expected default trial credits, got %s", cfg.TrialCredits)
	}
}

func TestLoadTelemetryDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_LOG_LEVEL", "")
	t.Setenv("DATABASE_SLOW_QUERY", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTLP_ENDPOINT", "collector:4317")

	cfg := Load()
	if cfg.Telemetry.LogLevel != "info" || cfg.Telemetry.SQLLogLevel != "warn" {
		t.Fatalf("unexpected log levels %+v", cfg.Telemetry)
	}
	if cfg.Telemetry.SlowQuery != 200*time.Millisecond {
		t.Fatalf("expected 200ms slow query threshold, got %s", cfg.Telemetry.SlowQuery)
	}
	if cfg.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Fatalf("expected fallback endpoint, got %q", cfg.Telemetry.OTLPEndpoint)
	}
}
