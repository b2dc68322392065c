package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	// Default time control applied when a game is created without an
	// explicit clock config. TimeControl names a catalog preset; the
	// numeric fields override it when both are set.
	TimeControl           string
	ClockInitialSeconds   int
	ClockIncrementSeconds int

	// Optional directory of YAML files overriding the embedded time
	// control catalog.
	TimeControlDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:  ":8080",
		TimeControl: "rapid",
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("TIME_CONTROL")); v != "" {
		cfg.TimeControl = v
	}
	if v := strings.TrimSpace(os.Getenv("CLOCK_INITIAL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClockInitialSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CLOCK_INCREMENT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ClockIncrementSeconds = n
		}
	}
	cfg.TimeControlDir = strings.TrimSpace(os.Getenv("TIME_CONTROL_DIR"))

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
