package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string

	LogLevel  string
	LogFormat string

	// Correlation tuning. Rows within MatchWindow of a pending annotation are
	// stamped with it; an unmatched annotation older than StaleAfter relative
	// to the last row of a batch is dropped.
	MatchWindow time.Duration
	StaleAfter  time.Duration
	DeviceTZ    *time.Location

	DeviceLockTTL  time.Duration
	PresenceTTL    time.Duration
	ExportRowLimit int

	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string
}

func LoadConfig() (*Config, error) {
	matchWindow, err := getDuration("MATCH_WINDOW", "3500ms")
	if err != nil {
		return nil, err
	}
	staleAfter, err := getDuration("STALE_AFTER", "10s")
	if err != nil {
		return nil, err
	}
	lockTTL, err := getDuration("DEVICE_LOCK_TTL", "30s")
	if err != nil {
		return nil, err
	}
	presenceTTL, err := getDuration("PRESENCE_TTL", "90s")
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(getEnv("DEVICE_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEVICE_TIMEZONE: %w", err)
	}

	exportLimit, err := strconv.Atoi(getEnv("EXPORT_ROW_LIMIT", "5000"))
	if err != nil || exportLimit <= 0 {
		return nil, errors.New("invalid EXPORT_ROW_LIMIT: must be a positive integer")
	}

	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		MatchWindow:     matchWindow,
		StaleAfter:      staleAfter,
		DeviceTZ:        loc,
		DeviceLockTTL:   lockTTL,
		PresenceTTL:     presenceTTL,
		ExportRowLimit:  exportLimit,
		MQTTBroker:      os.Getenv("MQTT_BROKER"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "wearsync-server"),
		MQTTUsername:    os.Getenv("MQTT_USERNAME"),
		MQTTPassword:    os.Getenv("MQTT_PASSWORD"),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "wearsync"),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.MatchWindow <= 0 {
		return nil, errors.New("MATCH_WINDOW must be positive")
	}
	if cfg.StaleAfter <= 0 {
		return nil, errors.New("STALE_AFTER must be positive")
	}

	return cfg, nil
}

// MQTTEnabled reports whether the MQTT subscriber should be started.
func (c *Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return d, nil
}
