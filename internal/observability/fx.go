package observability

import (
	"github.com/rafaelgcostaa/adslibrary/internal/observability/logger"
	"github.com/rafaelgcostaa/adslibrary/internal/observability/metrics"
	"github.com/rafaelgcostaa/adslibrary/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideGormLogger,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.JobsWithConfig,
	),
	fx.Invoke(ensureTracingProvider),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.Service,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.Log.Level,
		Format:              cfg.Log.Format,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideGormLogger(cfg Config) gormlogger.Interface {
	gormCfg := logger.DefaultGormLoggerConfig()
	gormCfg.Level = logger.ParseGormLevel(cfg.SQL.Level)
	if cfg.SQL.SlowQuery > 0 {
		gormCfg.SlowThreshold = cfg.SQL.SlowQuery
	}
	return logger.NewGormInterface(gormCfg)
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OTLP.Enabled,
		ServiceName:      cfg.Service,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OTLP.Endpoint,
		ExporterProtocol: cfg.OTLP.Protocol,
		SamplingRatio:    cfg.OTLP.SamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OTLP.Enabled,
		ExporterEndpoint: cfg.OTLP.Endpoint,
		ExporterProtocol: cfg.OTLP.Protocol,
		ServiceName:      cfg.Service,
		Environment:      cfg.Environment,
	}
}
