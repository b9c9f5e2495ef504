// Package config loads service configuration from the environment. A .env
// file in the working directory is applied first (development convenience);
// real environment variables always win.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable for the server process. Collaborator addresses
// (NATS, Redis, Postgres) are optional; the feature they back is disabled
// when the value is empty.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":3000"`
	AdminToken string `envconfig:"ADMIN_TOKEN"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"256"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"100000"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`

	// Engine tunables.
	RateLimitMax    int           `envconfig:"RATE_LIMIT_MAX" default:"9"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"5s"`
	JoinCooldown    time.Duration `envconfig:"JOIN_COOLDOWN" default:"1200ms"`
	TypingThrottle  time.Duration `envconfig:"TYPING_THROTTLE" default:"250ms"`
	HistoryLimit    int           `envconfig:"HISTORY_LIMIT" default:"80"`
	ReportsToMute   int           `envconfig:"REPORTS_TO_MUTE" default:"3"`
	AutoMute        time.Duration `envconfig:"AUTO_MUTE" default:"5m"`

	// External collaborators (all optional).
	NATSURL   string `envconfig:"NATS_URL"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	ReportDSN string `envconfig:"REPORT_DSN"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RateLimitMax < 1 {
		return fmt.Errorf("config: RATE_LIMIT_MAX must be >= 1")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_WINDOW must be positive")
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("config: HISTORY_LIMIT must be >= 1")
	}
	if c.ReportsToMute < 1 {
		return fmt.Errorf("config: REPORTS_TO_MUTE must be >= 1")
	}
	return nil
}
