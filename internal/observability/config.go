package observability

import (
	"strings"
	"time"

	"github.com/rafaelgcostaa/adslibrary/internal/config"
)

// Config is the telemetry view of the application config.
type Config struct {
	Service     string
	Environment string
	Version     string

	Log struct {
		Level  string
		Format string
	}
	SQL struct {
		Level     string
		SlowQuery time.Duration
	}
	OTLP struct {
		Enabled       bool
		Endpoint      string
		Protocol      string
		SamplingRatio float64
	}
}

func LoadConfig(cfg config.Config) Config {
	tc := cfg.Telemetry

	var out Config
	out.Service = strings.TrimSpace(cfg.AppName)
	if out.Service == "" {
		out.Service = "adslibrary"
	}
	out.Environment = strings.TrimSpace(cfg.Environment)
	out.Version = strings.TrimSpace(cfg.AppVersion)

	out.Log.Level = strings.TrimSpace(tc.LogLevel)
	out.Log.Format = strings.TrimSpace(tc.LogFormat)
	out.SQL.Level = strings.TrimSpace(tc.SQLLogLevel)
	out.SQL.SlowQuery = tc.SlowQuery

	out.OTLP.Enabled = tc.OTLPEnabled
	out.OTLP.Endpoint = strings.TrimSpace(tc.OTLPEndpoint)
	out.OTLP.Protocol = strings.TrimSpace(tc.OTLPProtocol)
	out.OTLP.SamplingRatio = tc.SamplingRatio
	if out.OTLP.SamplingRatio < 0 || out.OTLP.SamplingRatio > 1 {
		out.OTLP.SamplingRatio = 1
	}
	return out
}

// Debug turns on verbose logs and gin debug mode outside production.
func (c Config) Debug() bool {
	if strings.EqualFold(c.Log.Level, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
