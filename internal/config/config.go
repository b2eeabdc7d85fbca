package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Payment   PaymentConfig
	RateLimit RateLimitConfig
	Sweeper   SweeperConfig
	Push      PushMetricsConfig
	Bootstrap BootstrapConfig
}

// PaymentConfig carries the local validation knobs for payment operations.
// MinAmounts maps lowercase currency codes to their minimum chargeable amount
// in minor units; currencies not listed fall back to MinAmountDefault.
type PaymentConfig struct {
	MinAmountDefault int64
	MinAmounts       map[string]int64
	WebhookTolerance time.Duration
}

// MinAmount returns the minimum chargeable amount for a currency.
func (c PaymentConfig) MinAmount(currency string) int64 {
	if min, ok := c.MinAmounts[strings.ToLower(strings.TrimSpace(currency))]; ok {
		return min
	}
	return c.MinAmountDefault
}

// RateLimitConfig controls the webhook ingestion limiter and the sync lock.
type RateLimitConfig struct {
	Enabled          bool
	WebhookRate      float64
	WebhookBurst     int
	SyncLockTTL      time.Duration
	SyncLockDisabled bool
}

// SweeperConfig controls the background reconcile sweep.
type SweeperConfig struct {
	Enabled           bool
	RunInterval       time.Duration
	BatchSize         int
	StaleAfter        time.Duration
	AutoSyncEnabled   bool
	AutoSyncInterval  time.Duration
	AutoSyncDaysBack  int
	AutoSyncPageLimit int
}

// PushMetricsConfig controls pushing mirror counters to a central Prometheus.
type PushMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

// BootstrapConfig controls first-start provisioning.
type BootstrapConfig struct {
	EnsureOperatorKey bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "paymirror"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "paymirror"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 25)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 30)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 5)),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		Payment: PaymentConfig{
			MinAmountDefault: getenvInt64("PAYMENT_MIN_AMOUNT", 50),
			MinAmounts:       getenvAmountMap("PAYMENT_MIN_AMOUNTS"),
			WebhookTolerance: getenvDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATELIMIT_ENABLED", false),
			WebhookRate:      getenvFloat("RATELIMIT_WEBHOOK_RATE", 50),
			WebhookBurst:     int(getenvInt64("RATELIMIT_WEBHOOK_BURST", 100)),
			SyncLockTTL:      getenvDuration("SYNC_LOCK_TTL", 10*time.Minute),
			SyncLockDisabled: getenvBool("SYNC_LOCK_DISABLED", false),
		},
		Sweeper: SweeperConfig{
			Enabled:           getenvBool("SWEEPER_ENABLED", true),
			RunInterval:       getenvDuration("SWEEPER_RUN_INTERVAL", time.Minute),
			BatchSize:         int(getenvInt64("SWEEPER_BATCH_SIZE", 25)),
			StaleAfter:        getenvDuration("SWEEPER_STALE_AFTER", 15*time.Minute),
			AutoSyncEnabled:   getenvBool("SWEEPER_AUTO_SYNC_ENABLED", false),
			AutoSyncInterval:  getenvDuration("SWEEPER_AUTO_SYNC_INTERVAL", 6*time.Hour),
			AutoSyncDaysBack:  int(getenvInt64("SWEEPER_AUTO_SYNC_DAYS_BACK", 30)),
			AutoSyncPageLimit: int(getenvInt64("SWEEPER_AUTO_SYNC_PAGE_LIMIT", 100)),
		},
		Push: PushMetricsConfig{
			Enabled:   getenvBool("PUSH_METRICS_ENABLED", false),
			Exporter:  strings.ToLower(getenv("PUSH_METRICS_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("PUSH_METRICS_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("PUSH_METRICS_AUTH_TOKEN", "")),
			Interval:  getenvDuration("PUSH_METRICS_INTERVAL", 5*time.Minute),
		},
		Bootstrap: BootstrapConfig{
			EnsureOperatorKey: getenvBool("BOOTSTRAP_OPERATOR_KEY", true),
		},
	}

	return cfg
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

// getenvAmountMap parses "usd:50,gbp:30" style pairs.
func getenvAmountMap(key string) map[string]int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	amounts := make(map[string]int64)
	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || amount < 0 {
			continue
		}
		amounts[strings.ToLower(strings.TrimSpace(parts[0]))] = amount
	}
	if len(amounts) == 0 {
		return nil
	}
	return amounts
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
