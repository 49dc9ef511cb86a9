// Package config loads the coordinator's runtime configuration from a .env
// file and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	Port           int           `env:"PORT" envDefault:"3001"`
	APIURL         string        `env:"API_URL"`
	InternalAPIKey string        `env:"INTERNAL_API_KEY"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"1h"`
	SaveTimeout    time.Duration `env:"SAVE_TIMEOUT" envDefault:"10s"`
	AdminToken     string        `env:"ADMIN_TOKEN"`

	DatabaseURL     string `env:"DATABASE_URL"`
	LedgerQueueSize int    `env:"LEDGER_QUEUE_SIZE" envDefault:"64"`
	R2              R2Config

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// R2Config holds Cloudflare R2 credentials for the match archive.
type R2Config struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
}

// Enabled reports whether every credential needed for uploads is present.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

// Load reads .env (if present) and parses the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return Parse()
}

// Parse parses the process environment into a Config and validates it.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.SaveTimeout <= 0 {
		return fmt.Errorf("SAVE_TIMEOUT must be positive, got %s", c.SaveTimeout)
	}
	if c.LedgerQueueSize <= 0 {
		return fmt.Errorf("LEDGER_QUEUE_SIZE must be positive, got %d", c.LedgerQueueSize)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// CORSOrigins joins the allowed origins the way fiber's cors middleware expects.
func (c Config) CORSOrigins() string {
	return strings.Join(c.AllowedOrigins, ",")
}
