package observability

import (
	"testing"
	"time"

	"github.com/rafaelgcostaa/adslibrary/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigMapsTelemetry(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:     " ",
		AppVersion:  "1.2.3",
		Environment: "production",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "info",
			LogFormat:     "console",
			SQLLogLevel:   "error",
			SlowQuery:     time.Second,
			OTLPEnabled:   true,
			OTLPEndpoint:  "collector:4317",
			OTLPProtocol:  "grpc",
			SamplingRatio: 7,
		},
	})

	assert.Equal(t, "adslibrary", cfg.Service)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "collector:4317", cfg.OTLP.Endpoint)
	assert.Equal(t, 1.0, cfg.OTLP.SamplingRatio)
	assert.False(t, cfg.Debug())

	assert.NotNil(t, provideGormLogger(cfg))
	assert.Equal(t, "adslibrary", provideTracingConfig(cfg).ServiceName)
}

func TestDebugInDevelopment(t *testing.T) {
	assert.True(t, LoadConfig(config.Config{Environment: "development"}).Debug())

	cfg := LoadConfig(config.Config{Environment: "production", Telemetry: config.TelemetryConfig{LogLevel: "DEBUG"}})
	assert.True(t, cfg.Debug())
}

func TestLoadConfigSQLSettings(t *testing.T) {
	cfg := LoadConfig(config.Config{Telemetry: config.TelemetryConfig{SQLLogLevel: " silent ", SlowQuery: 50 * time.Millisecond}})
	assert.Equal(t, "silent", cfg.SQL.Level)
	assert.Equal(t, 50*time.Millisecond, cfg.SQL.SlowQuery)
}
