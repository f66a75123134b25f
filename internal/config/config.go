// Package config provides configuration types and layered loading for shannon.
package config

import (
	"os"
	"path/filepath"

	"github.com/a9lim/shannon/internal/auth"
)

// Config is the root configuration struct.
// Top-level groups: LLM, Auth, Scheduler, Webhooks, Context.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Auth      auth.Config     `yaml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Context   ContextConfig   `yaml:"context"`
	DataDir   string          `yaml:"data_dir" envconfig:"DATA_DIR"`
	LogLevel  string          `yaml:"log_level" envconfig:"LOG_LEVEL"`
}

// ---------------------------------------------------------------------------
// LLM – provider selection and completion behaviour
// ---------------------------------------------------------------------------

// LLMConfig groups LLM provider settings.
type LLMConfig struct {
	Provider         string  `yaml:"provider" envconfig:"PROVIDER"`
	Model            string  `yaml:"model" envconfig:"MODEL"`
	APIKey           string  `yaml:"api_key" envconfig:"API_KEY"`
	LocalEndpoint    string  `yaml:"local_endpoint" envconfig:"LOCAL_ENDPOINT"`
	MaxTokens        int     `yaml:"max_tokens" envconfig:"MAX_TOKENS"`
	Temperature      float64 `yaml:"temperature" envconfig:"TEMPERATURE"`
	MaxContextTokens int     `yaml:"max_context_tokens" envconfig:"MAX_CONTEXT_TOKENS"`
	TimeoutSeconds   int     `yaml:"timeout_seconds" envconfig:"TIMEOUT_SECONDS"`
}

// ---------------------------------------------------------------------------
// Scheduler – heartbeat and cron jobs
// ---------------------------------------------------------------------------

// JobConfig describes one configured cron job.
type JobConfig struct {
	Name     string `yaml:"name"`
	CronExpr string `yaml:"cron" envconfig:"CRON"`
	Action   string `yaml:"action"`
}

// SchedulerConfig groups scheduler settings.
type SchedulerConfig struct {
	Enabled           bool        `yaml:"enabled" envconfig:"ENABLED"`
	HeartbeatInterval int         `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL"`
	HeartbeatFile     string      `yaml:"heartbeat_file" envconfig:"HEARTBEAT_FILE"`
	Jobs              []JobConfig `yaml:"jobs"`
}

// ---------------------------------------------------------------------------
// Webhooks – HTTP ingress
// ---------------------------------------------------------------------------

// WebhookEndpoint describes one configured ingress endpoint.
type WebhookEndpoint struct {
	Name           string `yaml:"name"`
	Path           string `yaml:"path"`
	Secret         string `yaml:"secret"`
	Channel        string `yaml:"channel"`
	PromptTemplate string `yaml:"prompt_template"`
}

// WebhooksConfig groups webhook server settings.
type WebhooksConfig struct {
	Enabled   bool              `yaml:"enabled" envconfig:"ENABLED"`
	Bind      string            `yaml:"bind" envconfig:"BIND"`
	Port      int               `yaml:"port" envconfig:"PORT"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// ---------------------------------------------------------------------------
// Context – conversation log limits
// ---------------------------------------------------------------------------

// ContextConfig groups conversation context settings.
type ContextConfig struct {
	MaxMessages        int     `yaml:"max_messages" envconfig:"MAX_MESSAGES"`
	SummarizeThreshold float64 `yaml:"summarize_threshold" envconfig:"SUMMARIZE_THRESHOLD"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:         "anthropic",
			Model:            "claude-sonnet-4-20250514",
			MaxTokens:        4096,
			Temperature:      0.7,
			MaxContextTokens: 100000,
			TimeoutSeconds:   120,
		},
		Auth: auth.Config{
			RateLimitPerMinute: 20,
			SudoTimeoutSeconds: 300,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			HeartbeatInterval: 30,
		},
		Webhooks: WebhooksConfig{
			Enabled: false,
			Bind:    "0.0.0.0",
			Port:    8420,
		},
		Context: ContextConfig{
			MaxMessages:        50,
			SummarizeThreshold: 0.7,
		},
		LogLevel: "INFO",
	}
}

// ResolveDataDir returns the configured data directory, defaulting to
// ~/.shannon under the user home.
func (c *Config) ResolveDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shannon"
	}
	return filepath.Join(home, ".shannon")
}
