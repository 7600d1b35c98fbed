// Package config provides application configuration management.
// It loads configuration from environment variables (and an optional
// .env file) with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Settlement SettlementConfig
	Log        LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds SQLite configuration.
type DatabaseConfig struct {
	Path string
}

// SettlementConfig holds scheduling configuration.
type SettlementConfig struct {
	Enabled         bool
	Schedule        string // cron spec, e.g. "@every 1h" or "5 * * * *"
	Timezone        string
	MiddayHour      int
	LookaheadMonths int
	MaxAttempts     int
}

// Location resolves Timezone. Unknown or empty names fall back to Local.
func (s SettlementConfig) Location() *time.Location {
	name := strings.TrimSpace(s.Timezone)
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Format string // "human" or "json"
	Level  string
}

// Load reads .env (when present) and then the environment.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from environment variables only.
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            getEnv("HOST", "0.0.0.0"),
			Port:            getEnvAsInt("PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOW_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "budget.db"),
		},
		Settlement: SettlementConfig{
			Enabled:         getEnvAsBool("SETTLEMENT_ENABLED", true),
			Schedule:        getEnv("SETTLEMENT_SCHEDULE", "@every 1h"),
			Timezone:        getEnv("APP_TIMEZONE", ""),
			MiddayHour:      clamp(getEnvAsInt("MIDDAY_HOUR", 12), 0, 23),
			LookaheadMonths: max(getEnvAsInt("LOOKAHEAD_MONTHS", 36), 1),
			MaxAttempts:     max(getEnvAsInt("SETTLEMENT_MAX_ATTEMPTS", 3), 1),
		},
		Log: LogConfig{
			Format: strings.ToLower(getEnv("LOG_FORMAT", "human")),
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
