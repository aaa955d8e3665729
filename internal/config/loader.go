package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "voiceforge.yaml"

// Validation modes accepted by engine.validation_mode.
var validModes = map[string]bool{
	"rules_only": true,
	"llm_only":   true,
	"hybrid":     true,
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("VOICEFORGE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "VOICEFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "VOICEFORGE_CORS_ORIGIN")
	setFloat64(&cfg.Server.RateLimitRPS, "VOICEFORGE_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "VOICEFORGE_RATE_LIMIT_BURST")
	setDuration(&cfg.Server.IdempotencyTTL, "VOICEFORGE_IDEMPOTENCY_TTL")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "VOICEFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "VOICEFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "VOICEFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "VOICEFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "VOICEFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "VOICEFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "VOICEFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "VOICEFORGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "VOICEFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "VOICEFORGE_BREAKER_TIMEOUT")

	// Collaborators
	setString(&cfg.Speech.URL, "VOICEFORGE_SPEECH_URL")
	setString(&cfg.Speech.APIKey, "VOICEFORGE_SPEECH_API_KEY")
	setString(&cfg.Speech.UserID, "VOICEFORGE_SPEECH_USER_ID")
	setDuration(&cfg.Speech.Timeout, "VOICEFORGE_SPEECH_TIMEOUT")
	setString(&cfg.Ensemble.URL, "VOICEFORGE_ENSEMBLE_URL")
	setString(&cfg.Ensemble.APIKey, "VOICEFORGE_ENSEMBLE_API_KEY")
	setDuration(&cfg.Ensemble.Timeout, "VOICEFORGE_ENSEMBLE_TIMEOUT")

	// Engine
	setString(&cfg.Engine.DefaultLanguage, "VOICEFORGE_DEFAULT_LANGUAGE")
	setString(&cfg.Engine.ValidationMode, "VOICEFORGE_VALIDATION_MODE")
	setInt(&cfg.Engine.HistoryTurns, "VOICEFORGE_HISTORY_TURNS")
	setDuration(&cfg.Engine.LeaseTTL, "VOICEFORGE_EXECUTION_LEASE_TTL")

	// Review queue and defects
	setFloat64(&cfg.Review.CalibrationRate, "VOICEFORGE_REVIEW_CALIBRATION_RATE")
	setDuration(&cfg.Review.ClaimTimeout, "VOICEFORGE_REVIEW_CLAIM_TIMEOUT")
	setDuration(&cfg.Review.SweepInterval, "VOICEFORGE_REVIEW_SWEEP_INTERVAL")
	setInt(&cfg.Defects.StreakThreshold, "VOICEFORGE_DEFECT_STREAK_THRESHOLD")
	setInt(&cfg.Worker.MaxConcurrent, "VOICEFORGE_WORKER_MAX_CONCURRENT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "VOICEFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "VOICEFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "VOICEFORGE_CACHE_L2_TTL")
	setDuration(&cfg.Cache.L1TTL, "VOICEFORGE_CACHE_L1_TTL")

	// Telemetry
	setBool(&cfg.OTEL.Enabled, "VOICEFORGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "VOICEFORGE_OTEL_INSECURE")

	// MCP
	setBool(&cfg.MCP.Enabled, "VOICEFORGE_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "VOICEFORGE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "VOICEFORGE_MCP_API_KEY")
}

// validate checks that required fields are set and values are in range.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.RateLimitRPS < 0 {
		return errors.New("server.rate_limit_rps must be >= 0")
	}
	if cfg.Server.RateLimitRPS > 0 && cfg.Server.RateLimitBurst < 1 {
		return errors.New("server.rate_limit_burst must be >= 1 when rate limiting is on")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Engine.DefaultLanguage == "" {
		return errors.New("engine.default_language is required")
	}
	if !validModes[cfg.Engine.ValidationMode] {
		return fmt.Errorf("engine.validation_mode %q is invalid", cfg.Engine.ValidationMode)
	}
	if cfg.Engine.LeaseTTL <= 0 {
		return errors.New("engine.lease_ttl must be > 0")
	}
	if cfg.Review.CalibrationRate < 0 || cfg.Review.CalibrationRate > 1 {
		return errors.New("review.calibration_rate must be within [0, 1]")
	}
	if cfg.Review.ClaimTimeout <= 0 {
		return errors.New("review.claim_timeout must be > 0")
	}
	if cfg.Defects.StreakThreshold < 1 {
		return errors.New("defects.streak_threshold must be >= 1")
	}
	if cfg.Worker.MaxConcurrent < 1 {
		return errors.New("worker.max_concurrent must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
