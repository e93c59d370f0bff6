package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/congo-pay/moneyledger/internal/transactions"
)

const (
	defaultAppName        = "MoneyLedger"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultShutdownDelay  = "10s"
	defaultIdempotencyTTL = "24h"
	defaultLockTTL        = "10s"
	defaultSweepBatchSize = 500
	defaultRecalcPerMin   = 6
)

// Config captures application runtime configuration. Values come from the
// environment, optionally seeded by a .env style file.
type Config struct {
	AppName         string
	AppEnv          string
	Port            string
	LogLevel        string
	LogFormat       string
	DatabaseURL     string
	RedisURL        string
	JWTSecret       string
	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	LockTTL         time.Duration
	BalanceMode     transactions.BalanceMode
	SweepBatchSize  int
	SweepInterval   time.Duration
	RecalcRateLimit int
	AutoMigrate     bool
}

// Load reads configuration values from the environment.
func Load() (Config, error) {
	return load(viper.New(), "")
}

// LoadFile behaves like Load but first reads defaults from the given file.
// Environment variables still take precedence.
func LoadFile(path string) (Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, file string) (Config, error) {
	v.SetDefault("APP_NAME", defaultAppName)
	v.SetDefault("APP_ENV", defaultAppEnv)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("LOG_FORMAT", defaultLogFormat)
	v.SetDefault("SHUTDOWN_TIMEOUT", defaultShutdownDelay)
	v.SetDefault("IDEMPOTENCY_TTL", defaultIdempotencyTTL)
	v.SetDefault("LOCK_TTL", defaultLockTTL)
	v.SetDefault("BALANCE_MODE", string(transactions.Lazy))
	v.SetDefault("SWEEP_BATCH_SIZE", defaultSweepBatchSize)
	v.SetDefault("SWEEP_INTERVAL", "0s")
	v.SetDefault("RECALC_RATE_LIMIT", defaultRecalcPerMin)
	v.SetDefault("AUTO_MIGRATE", false)
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "JWT_SECRET"} {
		v.SetDefault(key, "")
	}
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	mode, err := transactions.ParseBalanceMode(v.GetString("BALANCE_MODE"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid BALANCE_MODE: %w", err)
	}

	cfg := Config{
		AppName:         v.GetString("APP_NAME"),
		AppEnv:          strings.ToLower(v.GetString("APP_ENV")),
		Port:            v.GetString("PORT"),
		LogLevel:        strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:       strings.ToLower(v.GetString("LOG_FORMAT")),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		RedisURL:        v.GetString("REDIS_URL"),
		JWTSecret:       v.GetString("JWT_SECRET"),
		BalanceMode:     mode,
		SweepBatchSize:  v.GetInt("SWEEP_BATCH_SIZE"),
		RecalcRateLimit: v.GetInt("RECALC_RATE_LIMIT"),
		AutoMigrate:     v.GetBool("AUTO_MIGRATE"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownPeriod},
		{"IDEMPOTENCY_TTL", &cfg.IdempotencyTTL},
		{"LOCK_TTL", &cfg.LockTTL},
		{"SWEEP_INTERVAL", &cfg.SweepInterval},
	}
	for _, d := range durations {
		parsed, err := parseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if cfg.SweepBatchSize <= 0 {
		return Config{}, fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or text")
	}

	if cfg.IsProduction() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET must be set")
		}
	}

	return cfg, nil
}

// parseDuration accepts Go durations ("90s") and bare seconds ("90").
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%q is not a duration", v)
	}
	return time.Duration(seconds) * time.Second, nil
}

// IsProduction reports whether the service runs with production guarantees:
// a database, a cache and signed tokens are mandatory.
func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
