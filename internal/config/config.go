package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Reservation ReservationConfig
	Reclaimer   ReclaimerConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	ReservationEvents string
	OrderEvents       string
}

// ReservationConfig tunes the hold/commit path.
type ReservationConfig struct {
	DefaultTTL time.Duration
	MinTTL     time.Duration
	MaxTTL     time.Duration
	// LedgerMaxRetries bounds optimistic-version retries before the caller
	// sees ErrConcurrentModification.
	LedgerMaxRetries int
	// IdempotencyWait bounds how long a duplicate request polls for an
	// in-flight key before being told to retry later.
	IdempotencyWait time.Duration
	IdempotencyPoll time.Duration
	// ResultRetention is how long completed idempotency results stay
	// cached in Redis.
	ResultRetention time.Duration
}

// ReclaimerConfig tunes the background expiry sweep.
type ReclaimerConfig struct {
	Port      string
	Interval  time.Duration
	BatchSize int
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "reservation_user"),
			Password:     getEnv("DB_PASSWORD", "reservation_pass"),
			Database:     getEnv("DB_NAME", "reservationdb"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				ReservationEvents: getEnv("KAFKA_TOPIC_RESERVATIONS", "reservation-events"),
				OrderEvents:       getEnv("KAFKA_TOPIC_ORDERS", "order-events"),
			},
		},
		Reservation: ReservationConfig{
			DefaultTTL:       getEnvDuration("RESERVATION_DEFAULT_TTL_SECONDS", 300*time.Second),
			MinTTL:           getEnvDuration("RESERVATION_MIN_TTL_SECONDS", 5*time.Second),
			MaxTTL:           getEnvDuration("RESERVATION_MAX_TTL_SECONDS", 3600*time.Second),
			LedgerMaxRetries: getEnvInt("LEDGER_MAX_RETRIES", 8),
			IdempotencyWait:  getEnvDuration("IDEMPOTENCY_WAIT_SECONDS", 3*time.Second),
			IdempotencyPoll:  100 * time.Millisecond,
			ResultRetention:  getEnvDuration("IDEMPOTENCY_RETENTION_SECONDS", 24*3600*time.Second),
		},
		Reclaimer: ReclaimerConfig{
			Port:      getEnv("RECLAIMER_PORT", ":8081"),
			Interval:  getEnvDuration("RECLAIM_INTERVAL_SECONDS", 10*time.Second),
			BatchSize: getEnvInt("RECLAIM_BATCH_SIZE", 200),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return time.Duration(parsed) * time.Second
		}
	}
	return defaultValue
}
