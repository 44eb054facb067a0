package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Catalog     CatalogConfig
	Reservation ReservationConfig
	Queue       QueueConfig
	Auth        AuthConfig
	LogLevel    string
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	DSN           string
	MaxOpenConns  int
	MaxIdleConns  int
	MaxLifetime   time.Duration
	MigrationsDir string
	AutoMigrate   bool
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers       []string
	Enabled       bool
	ConsumerGroup string
	Topics        TopicConfig
}

type TopicConfig struct {
	OrderCreated       string
	OrderStatusChanged string
	OrderCancelled     string
	// StockAdjustments is consumed, not produced.
	StockAdjustments   string
}

// Produced lists the topics this service writes to.
func (t TopicConfig) Produced() []string {
	return []string{t.OrderCreated, t.OrderStatusChanged, t.OrderCancelled}
}

type CatalogConfig struct {
	BaseURL  string
	Timeout  time.Duration
	// SeedFile feeds the in-memory catalog when BaseURL is empty.
	SeedFile string
}

type ReservationConfig struct {
	// LockTimeout bounds how long a request waits for per-SKU locks.
	LockTimeout   time.Duration
	TTL           time.Duration
	SweepInterval time.Duration
}

type QueueConfig struct {
	// Backend is one of memory, db or redis.
	Backend  string
	Timezone string
	QRSecret string
}

type AuthConfig struct {
	OIDCIssuer string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8084"),
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			DSN:           getEnv("POSTGRES_DSN", ""),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			MigrationsDir: getEnv("MIGRATIONS_DIR", "./migrations"),
			AutoMigrate:   getEnvBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_ADDR", "localhost:9092")),
			Enabled:       getEnvBool("KAFKA_ENABLED", true),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "ms-ordering"),
			Topics: TopicConfig{
				OrderCreated:       getEnv("KAFKA_TOPIC_ORDER_CREATED", "orders.created"),
				OrderStatusChanged: getEnv("KAFKA_TOPIC_ORDER_STATUS", "orders.status_changed"),
				OrderCancelled:     getEnv("KAFKA_TOPIC_ORDER_CANCELLED", "orders.cancelled"),
				StockAdjustments:   getEnv("KAFKA_TOPIC_STOCK_ADJUSTMENTS", "inventory.adjustments"),
			},
		},
		Catalog: CatalogConfig{
			BaseURL:  getEnv("CATALOG_SERVICE_URL", ""),
			Timeout:  getEnvDuration("CATALOG_TIMEOUT", 2*time.Second),
			SeedFile: getEnv("CATALOG_SEED_FILE", "./catalog.json"),
		},
		Reservation: ReservationConfig{
			LockTimeout:   getEnvDuration("RESERVATION_LOCK_TIMEOUT", 3*time.Second),
			TTL:           getEnvDuration("RESERVATION_TTL", 15*time.Minute),
			SweepInterval: getEnvDuration("RESERVATION_SWEEP_INTERVAL", time.Minute),
		},
		Queue: QueueConfig{
			Backend:  getEnv("QUEUE_BACKEND", "db"),
			Timezone: getEnv("STORE_TIMEZONE", "Local"),
			QRSecret: getEnv("QR_SECRET_KEY", ""),
		},
		Auth: AuthConfig{
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}
}

// Location resolves the store timezone, falling back to the host zone.
func (q QueueConfig) Location() *time.Location {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
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
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
