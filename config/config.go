// Package config loads the service configuration from environment variables.
// A .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the whole service configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Events    EventsConfig
	Redis     RedisConfig
	Delivery  DeliveryConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	LogLevel  string
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Path string // SQLite file, e.g. ./data/gradehub.db
}

// JWTConfig holds the key shared with the external auth service.
type JWTConfig struct {
	Secret string
	Issuer string
}

// EventsConfig guards POST /api/events. An empty APIKey disables the endpoint.
type EventsConfig struct {
	APIKey string
}

// RedisConfig enables the cross-instance relay when URL is set.
type RedisConfig struct {
	URL string
}

type DeliveryConfig struct {
	Workers    int
	QueueSize  int
	MaxRetries int
}

type RateLimitConfig struct {
	MessagesPerWindow int
	Window            time.Duration
	Cooldown          time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load reads the configuration. JWT_SECRET is required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	workers, err := getEnvInt("DELIVERY_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	queueSize, err := getEnvInt("DELIVERY_QUEUE_SIZE", 1024)
	if err != nil {
		return nil, err
	}
	maxRetries, err := getEnvInt("DELIVERY_MAX_RETRIES", 4)
	if err != nil {
		return nil, err
	}
	messageLimit, err := getEnvInt("MESSAGE_RATE_LIMIT", 5)
	if err != nil {
		return nil, err
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if workers < 1 || queueSize < 1 || maxRetries < 1 {
		return nil, fmt.Errorf("DELIVERY_WORKERS, DELIVERY_QUEUE_SIZE and DELIVERY_MAX_RETRIES must be positive")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/gradehub.db"),
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
			Issuer: getEnv("JWT_ISSUER", "gradehub-auth"),
		},
		Events: EventsConfig{
			APIKey: getEnv("EVENTS_API_KEY", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Delivery: DeliveryConfig{
			Workers:    workers,
			QueueSize:  queueSize,
			MaxRetries: maxRetries,
		},
		RateLimit: RateLimitConfig{
			MessagesPerWindow: messageLimit,
			Window:            5 * time.Second,
			Cooldown:          15 * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Addr is the listen address, e.g. "0.0.0.0:8080".
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
