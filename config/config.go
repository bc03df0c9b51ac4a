// Package config loads and validates process configuration from the
// environment at startup. Values are typed here once; no other package reads
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for the Fuji summit reference point (Kengamine, crater rim) and
// the refraction model. Overridable for calibration work.
const (
	DefaultFujiLat     = 35.3606
	DefaultFujiLon     = 138.7274
	DefaultFujiElev    = 3776.0
	DefaultRefractionK = 0.13

	DefaultConcurrency   = 3
	MinConcurrency       = 1
	MaxConcurrency       = 10
	DefaultStallTimeout  = 20 * time.Minute
	DefaultHighWaterMark = 10000
)

// Config is the validated process configuration.
type Config struct {
	DatabaseURL string

	WorkerConcurrency int
	StallTimeout      time.Duration
	HighWaterMark     int

	LogLevel string

	FujiLat     float64
	FujiLon     float64
	FujiElev    float64
	RefractionK float64
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		WorkerConcurrency: DefaultConcurrency,
		StallTimeout:      DefaultStallTimeout,
		HighWaterMark:     DefaultHighWaterMark,
		LogLevel:          "info",
		FujiLat:           DefaultFujiLat,
		FujiLon:           DefaultFujiLon,
		FujiElev:          DefaultFujiElev,
		RefractionK:       DefaultRefractionK,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("WORKER_CONCURRENCY: %w", err)
		}
		if n < MinConcurrency || n > MaxConcurrency {
			return nil, fmt.Errorf("WORKER_CONCURRENCY must be in [%d, %d], got %d",
				MinConcurrency, MaxConcurrency, n)
		}
		cfg.WorkerConcurrency = n
	}

	if v := os.Getenv("QUEUE_STALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("QUEUE_STALL_TIMEOUT: %w", err)
		}
		if d < time.Minute {
			return nil, fmt.Errorf("QUEUE_STALL_TIMEOUT must be at least 1m, got %s", d)
		}
		cfg.StallTimeout = d
	}

	if v := os.Getenv("QUEUE_HIGH_WATER_MARK"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("QUEUE_HIGH_WATER_MARK must be a positive integer, got %q", v)
		}
		cfg.HighWaterMark = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		switch v {
		case "trace", "debug", "info", "warn", "error", "fatal":
			cfg.LogLevel = v
		default:
			return nil, fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal; got %q", v)
		}
	}

	var err error
	if cfg.FujiLat, err = floatEnv("FUJI_SUMMIT_LAT", cfg.FujiLat); err != nil {
		return nil, err
	}
	if cfg.FujiLon, err = floatEnv("FUJI_SUMMIT_LON", cfg.FujiLon); err != nil {
		return nil, err
	}
	if cfg.FujiElev, err = floatEnv("FUJI_SUMMIT_ELEV", cfg.FujiElev); err != nil {
		return nil, err
	}
	if cfg.RefractionK, err = floatEnv("REFRACTION_K", cfg.RefractionK); err != nil {
		return nil, err
	}

	if cfg.FujiLat < -90 || cfg.FujiLat > 90 {
		return nil, fmt.Errorf("FUJI_SUMMIT_LAT must be in [-90, 90], got %v", cfg.FujiLat)
	}
	if cfg.FujiLon < -180 || cfg.FujiLon > 180 {
		return nil, fmt.Errorf("FUJI_SUMMIT_LON must be in [-180, 180], got %v", cfg.FujiLon)
	}
	if cfg.RefractionK < 0 || cfg.RefractionK >= 1 {
		return nil, fmt.Errorf("REFRACTION_K must be in [0, 1), got %v", cfg.RefractionK)
	}

	return cfg, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
