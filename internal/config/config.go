package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	"github.com/rafaelgcostaa/adslibrary/pkg/db"
)

// DefaultTrialCredits is granted to every account when it is opened.
var DefaultTrialCredits = ledgerdomain.MustParseCredits("10.00")

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	SnowflakeNode int64
	TrialCredits  ledgerdomain.Credits

	Telemetry TelemetryConfig
	DB        db.Config
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Charge    ChargeConfig
	Reconcile ReconcileConfig
}

// TelemetryConfig covers logs, SQL logs and OTLP export. The standard
// OTEL_EXPORTER_OTLP_* variables win over the service specific ones.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	SQLLogLevel   string
	SlowQuery     time.Duration
	OTLPEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig sizes the per-account charge token bucket.
type RateLimitConfig struct {
	Enabled         bool
	Capacity        int
	RefillPerSecond float64
}

// ChargeConfig bounds retries of charges that failed on transient storage errors.
type ChargeConfig struct {
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxElapsed     time.Duration
}

type ReconcileConfig struct {
	Enabled    bool
	Interval   time.Duration
	BatchSize  int
	JobTimeout time.Duration
	LockTTL    time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	trial := DefaultTrialCredits
	if raw := strings.TrimSpace(os.Getenv("TRIAL_CREDITS")); raw != "" {
		parsed, err := ledgerdomain.ParseCredits(raw)
		if err != nil || parsed < 0 {
			log.Printf("invalid TRIAL_CREDITS %q, using %s", raw, DefaultTrialCredits)
		} else {
			trial = parsed
		}
	}

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "adslibrary"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   environment,
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),
		TrialCredits:  trial,
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(getenv("LOG_LEVEL", "info")),
			LogFormat:     strings.ToLower(getenv("LOG_FORMAT", "json")),
			SQLLogLevel:   strings.ToLower(getenv("DATABASE_LOG_LEVEL", "warn")),
			SlowQuery:     getenvDuration("DATABASE_SLOW_QUERY", 200*time.Millisecond),
			OTLPEnabled:   getenvBool("OTEL_ENABLED", true),
			OTLPEndpoint:  getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol:  strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		DB: db.Config{
			Type:            strings.ToLower(getenv("DATABASE_TYPE", db.TypePostgres)),
			Host:            getenv("DATABASE_HOST", "localhost"),
			Port:            getenv("DATABASE_PORT", "5432"),
			Name:            getenv("DATABASE_NAME", "adslibrary"),
			User:            getenv("DATABASE_USER", "postgres"),
			Password:        getenv("DATABASE_PASSWORD", ""),
			SSLMode:         getenv("DATABASE_SSLMODE", "disable"),
			Path:            getenv("DATABASE_PATH", "ledger.db"),
			MaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
			MaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
			ConnMaxLifetime: getenvDuration("DATABASE_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: getenvDuration("DATABASE_CONN_MAX_IDLE_TIME", 10*time.Minute),
			Instrument:      getenvBool("DATABASE_INSTRUMENT", true),
		},
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getenvBool("CHARGE_RATE_LIMIT_ENABLED", true),
			Capacity:        getenvInt("CHARGE_RATE_LIMIT_CAPACITY", 30),
			RefillPerSecond: getenvFloat("CHARGE_RATE_LIMIT_REFILL_PER_SECOND", 0.5),
		},
		Charge: ChargeConfig{
			MaxAttempts:    uint(getenvInt("CHARGE_MAX_ATTEMPTS", 4)),
			InitialBackoff: getenvDuration("CHARGE_INITIAL_BACKOFF", 50*time.Millisecond),
			MaxBackoff:     getenvDuration("CHARGE_MAX_BACKOFF", time.Second),
			MaxElapsed:     getenvDuration("CHARGE_MAX_ELAPSED", 5*time.Second),
		},
		Reconcile: ReconcileConfig{
			Enabled:    getenvBool("RECONCILE_ENABLED", true),
			Interval:   getenvDuration("RECONCILE_INTERVAL", 15*time.Minute),
			BatchSize:  getenvInt("RECONCILE_BATCH_SIZE", 200),
			JobTimeout: getenvDuration("RECONCILE_JOB_TIMEOUT", 5*time.Minute),
			LockTTL:    getenvDuration("RECONCILE_LOCK_TTL", 10*time.Minute),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}
