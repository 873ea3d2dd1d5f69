package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/alecthomas/kong"
)

type Config struct {
	Server    ServerConfig    `embed:"" prefix:""`
	RateLimit RateLimitConfig `embed:"" prefix:"rate-limit-"`
	Quota     QuotaConfig     `embed:"" prefix:""`
	Redis     RedisConfig     `embed:"" prefix:"redis-"`
	Database  DatabaseConfig  `embed:"" prefix:"database-"`
	Auth      AuthConfig      `embed:"" prefix:""`
	Upstream  UpstreamConfig  `embed:"" prefix:"openai-"`
	Log       LogConfig       `embed:"" prefix:"log-"`
}

type ServerConfig struct {
	ListenAddr  string   `name:"listen-addr" env:"CHAT_LISTEN_ADDR" default:":8080" help:"HTTP listen address."`
	Environment string   `name:"environment" env:"CHAT_ENVIRONMENT" default:"development" help:"development or production."`
	CORSOrigins []string `name:"cors-origins" env:"CORS_ALLOWED_ORIGINS" default:"*" sep:"," help:"Origins allowed to call the API."`
	// HealthInterval is how often Redis and the database are probed.
	HealthInterval time.Duration `name:"health-interval" env:"HEALTH_CHECK_INTERVAL" default:"10s" help:"Dependency probe interval."`
}

type RateLimitConfig struct {
	Window          time.Duration `name:"window" env:"RATE_LIMIT_WINDOW" default:"60s" help:"Sliding window length."`
	Requests        int           `name:"requests" env:"RATE_LIMIT_REQUESTS" default:"10" help:"Requests allowed per window."`
	ReprobeInterval time.Duration `name:"reprobe-interval" env:"RATE_LIMIT_REPROBE_INTERVAL" default:"30s" help:"How long to stay on the local limiter before retrying Redis."`
}

type QuotaConfig struct {
	MaxTokensPerRequest int           `name:"max-tokens-per-request" env:"MAX_TOKENS_PER_REQUEST" default:"512" help:"Server-side ceiling for max_tokens."`
	LockTimeout         time.Duration `name:"ledger-lock-timeout" env:"LEDGER_LOCK_TIMEOUT" default:"5s" help:"Row lock wait before a deduction is retried."`
	MaxRetries          int           `name:"ledger-max-retries" env:"LEDGER_MAX_RETRIES" default:"3" help:"Attempts for a deduction that hits a retryable error."`
}

// RedisConfig is optional: an empty URL means local rate limiting only.
type RedisConfig struct {
	URL string `name:"url" env:"REDIS_URL" help:"Redis connection URL (redis://...)."`
}

type DatabaseConfig struct {
	Driver string `name:"driver" env:"DATABASE_DRIVER" default:"postgres" enum:"postgres,sqlite" help:"Ledger database driver."`
	URL    string `name:"url" env:"DATABASE_URL" default:"host=localhost user=postgres dbname=chat sslmode=disable" help:"Ledger database DSN."`
}

type AuthConfig struct {
	JWTSecret string `name:"jwt-secret" env:"JWT_SECRET" help:"HMAC secret used to verify bearer tokens."`
}

type UpstreamConfig struct {
	APIKey       string        `name:"api-key" env:"OPENAI_API_KEY" help:"Upstream completion API key."`
	BaseURL      string        `name:"base-url" env:"OPENAI_BASE_URL" default:"https://api.openai.com/v1" help:"Upstream completion API base URL."`
	Model        string        `name:"model" env:"OPENAI_MODEL" default:"gpt-3.5-turbo" help:"Upstream model."`
	Timeout      time.Duration `name:"timeout" env:"UPSTREAM_TIMEOUT" default:"30s" help:"Upstream request timeout."`
	SystemPrompt string        `name:"system-prompt" env:"CHAT_SYSTEM_PROMPT" help:"System message prepended to every conversation."`
}

type LogConfig struct {
	Level  string `name:"level" env:"LOG_LEVEL" default:"info" help:"Log level."`
	Format string `name:"format" env:"LOG_FORMAT" default:"json" enum:"json,console" help:"Log output format."`
}

// Load parses args and the environment into a Config.
func Load(args []string) (*Config, error) {
	var cfg Config
	parser, err := kong.New(&cfg,
		kong.Name("chat-gateway"),
		kong.Description("Admission control and metering for the chat API."),
	)
	if err != nil {
		return nil, err
	}

	if _, err := parser.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.RateLimit.Window < time.Second {
		return errors.New("rate limit window must be at least 1s")
	}
	if c.RateLimit.Requests <= 0 {
		return errors.New("rate limit requests must be positive")
	}
	if c.RateLimit.ReprobeInterval <= 0 {
		return errors.New("rate limit reprobe interval must be positive")
	}
	if c.Quota.MaxTokensPerRequest <= 0 {
		return errors.New("max tokens per request must be positive")
	}
	if c.Quota.MaxRetries <= 0 {
		return errors.New("ledger max retries must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
