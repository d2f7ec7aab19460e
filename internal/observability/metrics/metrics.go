package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes ledger-level instruments.
type Metrics struct {
	transactions      metric.Int64Counter
	creditsMoved      metric.Int64Counter
	replays           metric.Int64Counter
	insufficientFunds metric.Int64Counter
	chargeRetries     metric.Int64Counter
	refunds           metric.Int64Counter
	drift             metric.Int64Counter
	rateLimitAllowed  metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the ledger metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "adslibrary"
	}
	meter := provider.Meter(name)

	transactions, err := meter.Int64Counter("credit_ledger_transactions_total")
	if err != nil {
		return nil, err
	}
	creditsMoved, err := meter.Int64Counter("credit_ledger_minor_units_total",
		metric.WithDescription("Absolute credit minor units moved, by kind."))
	if err != nil {
		return nil, err
	}
	replays, err := meter.Int64Counter("credit_ledger_idempotent_replays_total")
	if err != nil {
		return nil, err
	}
	insufficientFunds, err := meter.Int64Counter("credit_ledger_insufficient_funds_total")
	if err != nil {
		return nil, err
	}
	chargeRetries, err := meter.Int64Counter("credit_ledger_charge_retries_total")
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("credit_ledger_refunds_total")
	if err != nil {
		return nil, err
	}
	drift, err := meter.Int64Counter("credit_ledger_balance_drift_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("credit_ledger_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("credit_ledger_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		transactions:      transactions,
		creditsMoved:      creditsMoved,
		replays:           replays,
		insufficientFunds: insufficientFunds,
		chargeRetries:     chargeRetries,
		refunds:           refunds,
		drift:             drift,
		rateLimitAllowed:  rateLimitAllowed,
		rateLimitDenied:   rateLimitDenied,
	}, nil
}

// RecordTransaction counts a committed ledger transaction and the units it moved.
func (m *Metrics) RecordTransaction(ctx context.Context, kind, actionType string, minorUnits int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("action_type", strings.TrimSpace(actionType)),
	)
	m.transactions.Add(ctx, 1, metric.WithAttributes(attrs...))
	if minorUnits < 0 {
		minorUnits = -minorUnits
	}
	m.creditsMoved.Add(ctx, minorUnits, metric.WithAttributes(attrs...))
}

// RecordReplay counts a request answered from an earlier transaction.
func (m *Metrics) RecordReplay(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.replays.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInsufficientFunds counts debits rejected for lack of credits.
func (m *Metrics) RecordInsufficientFunds(ctx context.Context, actionType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("action_type", strings.TrimSpace(actionType)))
	m.insufficientFunds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordChargeRetry counts a retried charge attempt after a transient failure.
func (m *Metrics) RecordChargeRetry(ctx context.Context, actionType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("action_type", strings.TrimSpace(actionType)))
	m.chargeRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRefund counts compensating refunds by reason.
func (m *Metrics) RecordRefund(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.refunds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDrift counts accounts whose balance disagrees with their transactions.
func (m *Metrics) RecordDrift(ctx context.Context) {
	if m == nil {
		return
	}
	m.drift.Add(ctx, 1)
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, actionType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("action_type", strings.TrimSpace(actionType)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, actionType, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("action_type", strings.TrimSpace(actionType)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// account_id is deliberately absent: one series per user is unbounded.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"kind":        {},
	"action_type": {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
	"outcome":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
