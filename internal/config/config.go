package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	PGDSN         string
	RunMigrations bool
	MigrationPath string

	RedisAddr          string
	RedisPassword      string
	RedisEventsChannel string
	GeocodeCacheTTL    time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	NSQDAddr string
	NSQTopic string

	PushEndpoint string
	PushKey      string

	GoogleMapsAPIKey string
	NominatimURL     string
	GeocodeTimeout   time.Duration

	TrackInterval     time.Duration
	DispatchDelay     time.Duration
	DriverStartOffset float64
	ETASpeedMps       float64
	NotifyQueue       int

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		MigrationPath:      "migrations/001_create_rides.sql",
		RedisEventsChannel: "rides:events",
		GeocodeCacheTTL:    24 * time.Hour,
		KafkaTopic:         "ride-events",
		NSQTopic:           "ride-events",
		NominatimURL:       "https://nominatim.openstreetmap.org",
		GeocodeTimeout:     5 * time.Second,
		TrackInterval:      2 * time.Second,
		DispatchDelay:      2 * time.Second,
		DriverStartOffset:  0.05,
		ETASpeedMps:        10,
		NotifyQueue:        256,
		LogLevel:           "info",
	}
}

// LoadDotEnv reads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Variables already set win. Missing files are
// not an error.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")
	setStringFromEnv(&cfg.MigrationPath, "MIGRATION_PATH")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisEventsChannel, "REDIS_EVENTS_CHANNEL")
	setDurationFromEnv(&cfg.GeocodeCacheTTL, "GEOCODE_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.NSQDAddr = strings.TrimSpace(os.Getenv("NSQD_ADDR"))
	setStringFromEnv(&cfg.NSQTopic, "NSQ_TOPIC")

	cfg.PushEndpoint = strings.TrimSpace(os.Getenv("PUSH_ENDPOINT"))
	cfg.PushKey = os.Getenv("PUSH_KEY")

	cfg.GoogleMapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	setStringFromEnv(&cfg.NominatimURL, "NOMINATIM_URL")
	setDurationFromEnv(&cfg.GeocodeTimeout, "GEOCODE_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.TrackInterval, "TRACK_INTERVAL", &errs)
	setDurationFromEnv(&cfg.DispatchDelay, "DISPATCH_DELAY", &errs)
	setFloatFromEnv(&cfg.DriverStartOffset, "DRIVER_START_OFFSET", &errs)
	setFloatFromEnv(&cfg.ETASpeedMps, "ETA_SPEED_MPS", &errs)
	setIntFromEnv(&cfg.NotifyQueue, "NOTIFY_QUEUE", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.TrackInterval <= 0 {
		errs = append(errs, fmt.Errorf("TRACK_INTERVAL must be > 0"))
	}
	if cfg.GeocodeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GEOCODE_TIMEOUT must be > 0"))
	}
	if cfg.DispatchDelay < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_DELAY must be >= 0"))
	}
	if cfg.NotifyQueue <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFY_QUEUE must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig drives the ride event consumer.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	LogLevel      string
}

// LoadConsumerConfig reads the consumer settings. Every field has a usable
// default, so there is nothing to reject.
func LoadConsumerConfig() ConsumerConfig {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "ride-events",
		KafkaGroup:   "ride-tracking-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "rides_geo",
		LogLevel:     "info",
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := splitAndTrim(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.KafkaBrokers = brokers
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	return cfg
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

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
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
