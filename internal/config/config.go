// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	DatabaseURL string
	DBMigrate   bool
	RedisURL    string

	Optimizer OptimizerConfig
	Session   SessionConfig
	Webhooks  WebhookConfig
	RateLimit RateLimitConfig

	// AllowedOrigins gates websocket upgrades. Empty allows any origin.
	AllowedOrigins []string

	SandboxPort int
}

type OptimizerConfig struct {
	URL            string
	Timeout        time.Duration
	HealthInterval time.Duration
	// UseMockData only gates synthetic locations; it never bypasses the optimizer call.
	UseMockData bool
}

type SessionConfig struct {
	TTL time.Duration
}

type WebhookConfig struct {
	MaxAttempts int
	PollEvery   time.Duration
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Production reports whether the service runs in the production environment.
func (c *Config) Production() bool { return strings.EqualFold(c.Env, "production") }

// Addr returns the HTTP listen address.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// Load reads configuration from environment variables and a .env file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MIGRATE", true)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("OPTIMIZER_URL", "http://localhost:8090")
	v.SetDefault("OPTIMIZER_TIMEOUT", "60s")
	v.SetDefault("OPTIMIZER_HEALTH_INTERVAL", "30s")
	v.SetDefault("USE_MOCK_DATA", false)
	v.SetDefault("SESSION_TTL", "2h")
	v.SetDefault("WEBHOOK_MAX_ATTEMPTS", 10)
	v.SetDefault("WEBHOOK_POLL_INTERVAL", "1s")
	v.SetDefault("RATE_RPS", 1.0)
	v.SetDefault("RATE_BURST", 5)
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("SANDBOX_PORT", 8090)

	// A missing .env is normal outside local development.
	_ = v.ReadInConfig()

	cfg := &Config{
		Env:         v.GetString("APP_ENV"),
		Port:        v.GetInt("PORT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		DatabaseURL: strings.TrimSpace(v.GetString("DATABASE_URL")),
		DBMigrate:   v.GetBool("DB_MIGRATE"),
		RedisURL:    strings.TrimSpace(v.GetString("REDIS_URL")),
		Optimizer: OptimizerConfig{
			URL:            strings.TrimRight(v.GetString("OPTIMIZER_URL"), "/"),
			Timeout:        v.GetDuration("OPTIMIZER_TIMEOUT"),
			HealthInterval: v.GetDuration("OPTIMIZER_HEALTH_INTERVAL"),
			UseMockData:    v.GetBool("USE_MOCK_DATA"),
		},
		Session:        SessionConfig{TTL: v.GetDuration("SESSION_TTL")},
		Webhooks:       WebhookConfig{MaxAttempts: v.GetInt("WEBHOOK_MAX_ATTEMPTS"), PollEvery: v.GetDuration("WEBHOOK_POLL_INTERVAL")},
		RateLimit:      RateLimitConfig{RPS: v.GetFloat64("RATE_RPS"), Burst: v.GetInt("RATE_BURST")},
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		SandboxPort:    v.GetInt("SANDBOX_PORT"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AllowsOrigin reports whether a browser at origin may open a stream. Requests without an Origin
// header are not cross-site and always pass.
func (c *Config) AllowsOrigin(origin string) bool {
	if origin == "" || len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Optimizer.URL == "" {
		return fmt.Errorf("config: OPTIMIZER_URL must be set")
	}
	if c.Optimizer.HealthInterval <= 0 {
		return fmt.Errorf("config: OPTIMIZER_HEALTH_INTERVAL must be > 0")
	}
	if c.Webhooks.MaxAttempts <= 0 {
		c.Webhooks.MaxAttempts = 10
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = 2 * time.Hour
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}
	return nil
}
