// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds all tunables of the server.
type Config struct {
	Port string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RoomExpiry   time.Duration
	SaveDebounce time.Duration
	HistorySize  int

	LogLevel string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first if present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded .env file")
	}

	return &Config{
		Port:         getEnv("PORT", "3000"),
		DBHost:       getEnv("DB_HOST", "localhost"),
		DBPort:       getEnv("DB_PORT", "5432"),
		DBUser:       getEnv("DB_USER", "postgres"),
		DBPassword:   getEnv("DB_PASSWORD", "postgres"),
		DBName:       getEnv("DB_NAME", "collab"),
		DBSSLMode:    getEnv("DB_SSLMODE", "disable"),
		RoomExpiry:   getDuration("ROOM_EXPIRY", 30*time.Minute),
		SaveDebounce: getDuration("SAVE_DEBOUNCE", 2*time.Second),
		HistorySize:  getInt("HISTORY_SIZE", 100),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

// GetDatabaseConnectionString assembles the lib/pq DSN.
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// GetServerAddr returns the listen address.
func (c *Config) GetServerAddr() string {
	return ":" + c.Port
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithField(key, v).Warn("invalid integer, using default")
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.WithField(key, v).Warn("invalid duration, using default")
		return fallback
	}
	return d
}
