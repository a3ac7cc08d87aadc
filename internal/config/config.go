package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server     ServerConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	Elastic    ElasticConfig
	KMS        KMSConfig
	License    LicenseConfig
	Session    SessionConfig
	RateLimit  RateLimitConfig
	Cache      CacheConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Database string
	Username string
	Password string
}

type ElasticConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type KMSConfig struct {
	Enabled      bool
	Region       string
	SecretCipher string
}

// LicenseConfig controls key generation and checksum signing.
type LicenseConfig struct {
	SigningSecret string
	MaxKeyRetries int
}

type SessionConfig struct {
	TTL time.Duration
}

// RateLimitConfig carries the fixed-window policies. Each policy is an
// independent limiter instance differing only in limit and window.
type RateLimitConfig struct {
	GlobalLimit   int
	GlobalWindow  time.Duration
	AuthLimit     int
	AuthWindow    time.Duration
	LicenseLimit  int
	LicenseWindow time.Duration
}

type CacheConfig struct {
	DefaultTTL time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

var (
	instance *Config
	loadOnce sync.Once
)

// LoadConfig reads configuration from the environment, loading .env first
// when present. Safe to call multiple times; the first load wins.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()

		instance = &Config{
			Environment: getEnv("APP_ENV", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    splitList(getEnv("SCYLLA_NODES", "localhost:9042")),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "licensing"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Enabled: getEnvBool("KAFKA_ENABLED", false),
				Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
				Topic:   getEnv("KAFKA_EVENTS_TOPIC", "license-events"),
			},
			Clickhouse: ClickhouseConfig{
				Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Database: getEnv("CLICKHOUSE_DATABASE", "licensing"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Elastic: ElasticConfig{
				Enabled:  getEnvBool("ELASTIC_ENABLED", false),
				URL:      getEnv("ELASTIC_URL", "http://localhost:9200"),
				Username: getEnv("ELASTIC_USERNAME", ""),
				Password: getEnv("ELASTIC_PASSWORD", ""),
				Index:    getEnv("ELASTIC_LICENSE_INDEX", "licenses"),
			},
			KMS: KMSConfig{
				Enabled:      getEnvBool("KMS_ENABLED", false),
				Region:       getEnv("AWS_REGION", "us-east-1"),
				SecretCipher: getEnv("KMS_SIGNING_SECRET_CIPHERTEXT", ""),
			},
			License: LicenseConfig{
				SigningSecret: getEnv("LICENSE_SIGNING_SECRET", ""),
				MaxKeyRetries: getEnvInt("LICENSE_KEYGEN_MAX_RETRIES", 10),
			},
			Session: SessionConfig{
				TTL: getEnvDuration("SESSION_TTL", time.Hour),
			},
			RateLimit: RateLimitConfig{
				GlobalLimit:   getEnvInt("RATE_LIMIT_GLOBAL", 100),
				GlobalWindow:  getEnvDuration("RATE_LIMIT_GLOBAL_WINDOW", time.Minute),
				AuthLimit:     getEnvInt("RATE_LIMIT_AUTH", 5),
				AuthWindow:    getEnvDuration("RATE_LIMIT_AUTH_WINDOW", time.Minute),
				LicenseLimit:  getEnvInt("RATE_LIMIT_LICENSE", 30),
				LicenseWindow: getEnvDuration("RATE_LIMIT_LICENSE_WINDOW", time.Minute),
			},
			Cache: CacheConfig{
				DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 5*time.Minute),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		}
	})

	return instance
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	return LoadConfig()
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
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
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
