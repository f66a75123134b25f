package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration in layers: defaults, then the YAML file (if
// present), then SHANNON_* environment overrides per group.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("SHANNON_CONFIG"))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Environment overrides for each group.
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		target any
	}{
		{"SHANNON_LLM", &cfg.LLM},
		{"SHANNON_AUTH", &cfg.Auth},
		{"SHANNON_SCHEDULER", &cfg.Scheduler},
		{"SHANNON_WEBHOOKS", &cfg.Webhooks},
		{"SHANNON_CONTEXT", &cfg.Context},
		{"SHANNON", cfg},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.target); err != nil {
			return fmt.Errorf("process env %s: %w", g.prefix, err)
		}
	}

	// Fallback for the API key.
	if cfg.LLM.APIKey == "" {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
	}
	return nil
}
