package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures the process-level settings for the API, sweeper and
// consumer binaries. Values come from the environment with defaults that run
// locally against an on-disk SQLite file. Business rules live in Policy.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	DBDriver       string
	DBDSN          string
	DBMaxOpenConns int

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	JWTSecret    string
	GeocoderURL  string
	PushEndpoint string
	PushKey      string
	PolicyFile   string

	HourlySweepEvery time.Duration
	DailySweepEvery  time.Duration

	MetricsAddr   string
	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		DBDriver:         "sqlite",
		DBDSN:            "file:clean-matching.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		DBMaxOpenConns:   10,
		RedisGeoKey:      "providers_geo",
		KafkaTopic:       "marketplace-notifications",
		KafkaGroup:       "clean-matching-notifier",
		HourlySweepEvery: time.Hour,
		DailySweepEvery:  24 * time.Hour,
		MetricsAddr:      ":2112",
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.DBDriver, "DB_DRIVER")
	setStringFromEnv(&cfg.DBDSN, "DB_DSN")
	setIntFromEnv(&cfg.DBMaxOpenConns, "DB_MAX_OPEN_CONNS", &errs)
	// PG_DSN is kept as a shortcut for the postgres driver.
	if dsn := strings.TrimSpace(os.Getenv("PG_DSN")); dsn != "" && os.Getenv("DB_DSN") == "" {
		cfg.DBDriver = "postgres"
		cfg.DBDSN = dsn
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.GeocoderURL = strings.TrimSpace(os.Getenv("GEOCODER_URL"))
	cfg.PushEndpoint = strings.TrimSpace(os.Getenv("PUSH_ENDPOINT"))
	cfg.PushKey = os.Getenv("PUSH_KEY")
	cfg.PolicyFile = strings.TrimSpace(os.Getenv("POLICY_FILE"))

	setDurationFromEnv(&cfg.HourlySweepEvery, "SWEEP_HOURLY_EVERY", &errs)
	setDurationFromEnv(&cfg.DailySweepEvery, "SWEEP_DAILY_EVERY", &errs)

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = !strings.EqualFold(os.Getenv("MIGRATE"), "false")

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver))
	}
	if cfg.DBMaxOpenConns <= 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_OPEN_CONNS must be > 0"))
	}
	if cfg.HourlySweepEvery <= 0 || cfg.DailySweepEvery <= 0 {
		errs = append(errs, fmt.Errorf("sweep intervals must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
