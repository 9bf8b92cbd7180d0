package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Event transports selectable with EVENT_TRANSPORT.
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportKafka  = "kafka"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	LogLevel      string

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Events   EventsConfig
}

// DatabaseConfig selects the Postgres store. An empty URL keeps everything in memory.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	Channel      string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	Partitions    int32
}

// EventsConfig controls how emitted events leave the service.
type EventsConfig struct {
	Transport          string
	MaxWait            time.Duration
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present.
func FromEnv() (Server, error) {
	_ = godotenv.Load()

	cfg := Server{
		Addr:          getEnv("OFFICE_ADDR", ":8080"),
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		JWTIssuer:     getEnv("JWT_ISSUER", "officehub"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			Channel:      getEnv("REDIS_CHANNEL", "officehub:events"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:         getEnv("KAFKA_TOPIC", "officehub.events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "officehub"),
			Partitions:    int32(getInt("KAFKA_PARTITIONS", 3)),
		},
		Events: EventsConfig{
			Transport:          strings.ToLower(getEnv("EVENT_TRANSPORT", TransportMemory)),
			MaxWait:            getDuration("EVENT_MAX_WAIT", 5*time.Second),
			OutboxPollInterval: getDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
			OutboxBatchSize:    getInt("OUTBOX_BATCH_SIZE", 100),
		},
	}
	return cfg, cfg.Validate()
}

// Validate rejects transport selections whose backing services are not configured.
func (c Server) Validate() error {
	switch c.Events.Transport {
	case TransportMemory:
	case TransportRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("EVENT_TRANSPORT=redis requires REDIS_URL")
		}
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("EVENT_TRANSPORT=kafka requires KAFKA_BROKERS")
		}
		if c.Database.URL == "" {
			return fmt.Errorf("EVENT_TRANSPORT=kafka requires DATABASE_URL for the outbox")
		}
	default:
		return fmt.Errorf("unknown EVENT_TRANSPORT %q", c.Events.Transport)
	}
	if c.Events.MaxWait <= 0 {
		return fmt.Errorf("EVENT_MAX_WAIT must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
