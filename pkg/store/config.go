package store

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds database connection settings for the outcome store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv loads outcome-store connection settings from the
// environment, with production-ready defaults.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("MEDIC_DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid MEDIC_DB_PORT: %w", err)
	}

	maxOpen, _ := strconv.Atoi(getEnvOrDefault("MEDIC_DB_MAX_OPEN_CONNS", "10"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("MEDIC_DB_MAX_IDLE_CONNS", "5"))

	maxLifetime, err := time.ParseDuration(getEnvOrDefault("MEDIC_DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid MEDIC_DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("MEDIC_DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid MEDIC_DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := Config{
		Host:            getEnvOrDefault("MEDIC_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("MEDIC_DB_USER", "medic"),
		Password:        os.Getenv("MEDIC_DB_PASSWORD"),
		Database:        getEnvOrDefault("MEDIC_DB_NAME", "medic"),
		SSLMode:         getEnvOrDefault("MEDIC_DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks whether the configuration is internally consistent.
func (c Config) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("MEDIC_DB_MAX_IDLE_CONNS (%d) cannot exceed MEDIC_DB_MAX_OPEN_CONNS (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("MEDIC_DB_MAX_OPEN_CONNS must be at least 1")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("MEDIC_DB_MAX_IDLE_CONNS cannot be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
