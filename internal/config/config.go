// Package config provides application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	FrontendURL    string   `env:"FRONTEND_URL"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	GRPCHealthPort string   `env:"GRPC_HEALTH_PORT"`
	PromptsPath    string   `env:"PROMPTS_PATH"`
	SeedPath       string   `env:"SEED_PATH"`

	GRPCHealthInterval time.Duration `env:"GRPC_HEALTH_INTERVAL" envDefault:"15s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Database        DatabaseConfig        `envPrefix:"DB_"`
	Clova           ClovaConfig           `envPrefix:"CLOVA_"`
	Chat            ChatConfig            `envPrefix:"CHAT_"`
	RateLimit       RateLimitConfig       `envPrefix:"RATE_LIMIT_"`
	ConversationLog ConversationLogConfig `envPrefix:"CONVERSATION_LOG_"`
}

// DatabaseConfig selects and locates the repository backend.
type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	Path        string `env:"PATH" envDefault:"./data/heritage.db"`
	URL         string `env:"URL"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

// DSN returns the driver-specific data source.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return d.URL
	}
	return d.Path
}

// ClovaConfig holds completion service credentials and endpoints.
type ClovaConfig struct {
	CompletionHost string        `env:"COMPLETION_HOST" envDefault:"https://clovastudio.stream.ntruss.com"`
	SlidingHost    string        `env:"SLIDING_HOST" envDefault:"https://clovastudio.apigw.ntruss.com"`
	APIKey         string        `env:"API_KEY"`
	GatewayKey     string        `env:"APIGW_API_KEY"`
	Model          string        `env:"MODEL" envDefault:"HCX-003"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"60s"`
}

// ChatConfig tunes the conversation orchestrator.
type ChatConfig struct {
	MaxWindowSize      int           `env:"MAX_WINDOW_SIZE" envDefault:"10"`
	WindowMaxTokens    int           `env:"WINDOW_MAX_TOKENS" envDefault:"3000"`
	QuizCount          int           `env:"QUIZ_COUNT" envDefault:"3"`
	QuizMaxAttempts    int           `env:"QUIZ_MAX_ATTEMPTS" envDefault:"3"`
	QuizRetryDelay     time.Duration `env:"QUIZ_RETRY_DELAY" envDefault:"1s"`
	SummaryTimeout     time.Duration `env:"SUMMARY_TIMEOUT" envDefault:"60s"`
	RecommendAfterChat bool          `env:"RECOMMEND_AFTER_REPLY" envDefault:"false"`
	// IdleTimeout ends sessions without activity for this long. Zero disables it.
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"2h"`
	IdleSweepInterval time.Duration `env:"IDLE_SWEEP_INTERVAL" envDefault:"5m"`
}

// RateLimitConfig bounds model-backed requests per session.
type RateLimitConfig struct {
	RequestsPerWindow int           `env:"REQUESTS" envDefault:"20"`
	WindowDuration    time.Duration `env:"WINDOW" envDefault:"1m"`
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool   `env:"ENABLED" envDefault:"false"`
	Dir       string `env:"DIR" envDefault:"./data/logs/conversations"`
	QueueSize int    `env:"QUEUE_SIZE" envDefault:"1000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DB_URL is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite, postgres or memory, got %q", c.Database.Driver)
	}
	if c.Clova.CompletionHost == "" {
		return fmt.Errorf("CLOVA_COMPLETION_HOST cannot be empty")
	}
	if c.Chat.MaxWindowSize < 2 {
		return fmt.Errorf("CHAT_MAX_WINDOW_SIZE must be >= 2")
	}
	if c.Chat.WindowMaxTokens <= 0 {
		return fmt.Errorf("CHAT_WINDOW_MAX_TOKENS must be > 0")
	}
	if c.Chat.QuizCount < 0 {
		return fmt.Errorf("CHAT_QUIZ_COUNT cannot be negative")
	}
	if c.Chat.QuizMaxAttempts < 1 {
		return fmt.Errorf("CHAT_QUIZ_MAX_ATTEMPTS must be >= 1")
	}
	if c.Chat.QuizRetryDelay < 0 {
		return fmt.Errorf("CHAT_QUIZ_RETRY_DELAY cannot be negative")
	}
	if c.Chat.IdleTimeout > 0 && c.Chat.IdleSweepInterval <= 0 {
		return fmt.Errorf("CHAT_IDLE_SWEEP_INTERVAL must be > 0 when CHAT_IDLE_TIMEOUT is set")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
