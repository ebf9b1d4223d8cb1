// Package config loads server settings from the environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"syncboard/internal/middleware"
	"syncboard/internal/store"
)

// Config: full server configuration
type Config struct {
	Server  ServerConfig
	Store   store.Options
	Persist PersistConfig
	Limits  middleware.Limits
	Socket  SocketConfig
	Log     LogConfig
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	Addr            string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// PersistConfig debounced write settings
type PersistConfig struct {
	Debounce time.Duration
	Timeout  time.Duration
}

// SocketConfig per-connection settings
type SocketConfig struct {
	SendBuffer       int
	MessageTimeout   time.Duration
	ViewportInterval time.Duration
	ConnectEvery     time.Duration
	ConnectBurst     int
}

// LogConfig logger settings
type LogConfig struct {
	Level  string
	Format string
	Source bool
}

// Load reads envFile (when it exists) into the environment, then builds the
// Config. Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	limits := middleware.DefaultLimits()

	return &Config{
		Server: ServerConfig{
			Addr:            getEnv("ADDR", ":8080"),
			AllowedOrigins:  getCSV("ALLOWED_ORIGINS", nil),
			ReadTimeout:     getDuration("READ_TIMEOUT", 10*time.Second),
			IdleTimeout:     getDuration("IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Store: store.Options{
			Driver:        getEnv("STORE_DRIVER", "memory"),
			DatabaseURL:   getEnv("DATABASE_URL", ""),
			SQLitePath:    getEnv("SQLITE_PATH", "syncboard.db"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getInt("REDIS_DB", 0),
		},
		Persist: PersistConfig{
			Debounce: getDuration("PERSIST_DEBOUNCE", time.Second),
			Timeout:  getDuration("PERSIST_TIMEOUT", 10*time.Second),
		},
		Limits: middleware.Limits{
			MaxRoomSize:        getInt("MAX_ROOM_SIZE", limits.MaxRoomSize),
			MaxRooms:           getInt("MAX_ROOMS", limits.MaxRooms),
			MaxMessageSize:     getInt("MAX_MESSAGE_SIZE", limits.MaxMessageSize),
			MaxStrokesPerBatch: getInt("MAX_STROKES_PER_BATCH", limits.MaxStrokesPerBatch),
			MaxDataDepth:       getInt("MAX_DATA_DEPTH", limits.MaxDataDepth),
			MaxDataKeys:        getInt("MAX_DATA_KEYS", limits.MaxDataKeys),
			MessagesPerSecond:  getFloat("MESSAGES_PER_SECOND", limits.MessagesPerSecond),
			BurstSize:          getInt("MESSAGE_BURST", limits.BurstSize),
		},
		Socket: SocketConfig{
			SendBuffer:       getInt("SEND_BUFFER", 256),
			MessageTimeout:   getDuration("MESSAGE_TIMEOUT", 5*time.Second),
			ViewportInterval: getDuration("VIEWPORT_INTERVAL", 33*time.Millisecond),
			ConnectEvery:     getDuration("CONNECT_EVERY", 6*time.Second),
			ConnectBurst:     getInt("CONNECT_BURST", 5),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Source: getBool("LOG_SOURCE", false),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration: a bare number is seconds
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getCSV(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
