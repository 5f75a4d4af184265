package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	API       APIConfig
	Realtime  RealtimeConfig
	Geo       GeoConfig
	Tracking  TrackingConfig
	Detection DetectionConfig
	DB        DatabaseConfig
	Logging   LoggingConfig
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type RealtimeConfig struct {
	URL            string
	DialTimeout    time.Duration
	MaxReconnects  int
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
}

type GeoConfig struct {
	HighAccuracy   bool
	OneShotTimeout time.Duration
	MaximumAge     time.Duration
}

type TrackingConfig struct {
	Interval     time.Duration
	WorkerCount  int
	UploadBuffer int
}

// DetectionConfig holds the crash-scoring thresholds. The values are
// placeholder heuristics pending calibration against real telemetry.
type DetectionConfig struct {
	SpeedDropKmh       float64
	ImpactGForce       float64
	DecelerationMs2    float64
	ConfidenceCutoff   float64
	SpeedDropWeight    float64
	ImpactWeight       float64
	AirbagWeight       float64
	DecelerationWeight float64
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			BaseURL: getEnv("API_BASE_URL", "http://localhost:8080/api"),
			Timeout: getEnvDuration("API_TIMEOUT", 30*time.Second),
		},
		Realtime: RealtimeConfig{
			URL:            getEnv("REALTIME_URL", "ws://localhost:8080/ws"),
			DialTimeout:    getEnvDuration("REALTIME_DIAL_TIMEOUT", 10*time.Second),
			MaxReconnects:  getEnvInt("REALTIME_MAX_RECONNECTS", 5),
			BackoffFloor:   getEnvDuration("REALTIME_BACKOFF_FLOOR", time.Second),
			BackoffCeiling: getEnvDuration("REALTIME_BACKOFF_CEILING", 5*time.Second),
		},
		Geo: GeoConfig{
			HighAccuracy:   getEnvBool("GEO_HIGH_ACCURACY", true),
			OneShotTimeout: getEnvDuration("GEO_ONESHOT_TIMEOUT", 10*time.Second),
			MaximumAge:     getEnvDuration("GEO_MAXIMUM_AGE", 30*time.Second),
		},
		Tracking: TrackingConfig{
			Interval:     getEnvDuration("TRACKING_INTERVAL", 5*time.Second),
			WorkerCount:  getEnvInt("TRACKING_WORKER_COUNT", 2),
			UploadBuffer: getEnvInt("TRACKING_UPLOAD_BUFFER", 20),
		},
		Detection: DetectionConfig{
			SpeedDropKmh:       getEnvFloat("DETECT_SPEED_DROP_KMH", 40),
			ImpactGForce:       getEnvFloat("DETECT_IMPACT_G", 4),
			DecelerationMs2:    getEnvFloat("DETECT_DECELERATION_MS2", 12),
			ConfidenceCutoff:   getEnvFloat("DETECT_CONFIDENCE_CUTOFF", 0.5),
			SpeedDropWeight:    getEnvFloat("DETECT_SPEED_DROP_WEIGHT", 0.3),
			ImpactWeight:       getEnvFloat("DETECT_IMPACT_WEIGHT", 0.4),
			AirbagWeight:       getEnvFloat("DETECT_AIRBAG_WEIGHT", 0.5),
			DecelerationWeight: getEnvFloat("DETECT_DECELERATION_WEIGHT", 0.3),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/dispatch-client.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}
	if c.Realtime.MaxReconnects < 0 {
		return fmt.Errorf("max reconnects must not be negative")
	}
	if c.Realtime.BackoffFloor > c.Realtime.BackoffCeiling {
		return fmt.Errorf("backoff floor %v exceeds ceiling %v", c.Realtime.BackoffFloor, c.Realtime.BackoffCeiling)
	}
	if c.Tracking.Interval < time.Second {
		return fmt.Errorf("tracking interval must be at least 1 second")
	}
	if c.Detection.ConfidenceCutoff <= 0 || c.Detection.ConfidenceCutoff >= 1 {
		return fmt.Errorf("confidence cutoff must be in (0, 1): %v", c.Detection.ConfidenceCutoff)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
