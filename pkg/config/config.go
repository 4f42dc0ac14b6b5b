package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Backend  BackendConfig
	Realtime RealtimeConfig
	Redis    RedisConfig
	Log      LogConfig
}

type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

type RealtimeConfig struct {
	URL              string
	ReconnectWait    time.Duration
	HandshakeTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Backend: BackendConfig{
			BaseURL:        getEnv("BACKEND_URL", "http://localhost:8000"),
			RequestTimeout: getEnvAsDuration("BACKEND_REQUEST_TIMEOUT", 10*time.Second),
		},
		Realtime: RealtimeConfig{
			URL:              getEnv("REALTIME_URL", "ws://localhost:8000/ws"),
			ReconnectWait:    getEnvAsDuration("REALTIME_RECONNECT_WAIT", 3*time.Second),
			HandshakeTimeout: getEnvAsDuration("REALTIME_HANDSHAKE_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
