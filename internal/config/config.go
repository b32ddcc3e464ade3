package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models nextaction.yml.
type Config struct {
	Server struct {
		Listen   string `yaml:"listen"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		Enforce   bool   `yaml:"enforce"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Verifier struct {
		Mode           string `yaml:"mode"`
		BaseURL        string `yaml:"base_url"`
		APIKeyEnv      string `yaml:"api_key_env"`
		Model          string `yaml:"model"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"verifier"`
	Ranking struct {
		ConfigPath string `yaml:"config_path"`
	} `yaml:"ranking"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret,omitempty"`
}

// VerifierTimeout returns the configured verifier timeout as a duration.
func (c *Config) VerifierTimeout() time.Duration {
	if c.Verifier.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.Verifier.TimeoutSeconds) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Verifier.Mode {
	case "", "offline":
	case "openai":
		if c.Verifier.BaseURL == "" {
			return fmt.Errorf("config.verifier.base_url is required when mode is openai")
		}
		if c.Verifier.Model == "" {
			return fmt.Errorf("config.verifier.model is required when mode is openai")
		}
	default:
		return fmt.Errorf("config.verifier.mode must be 'offline' or 'openai'")
	}
	if c.Auth.Enforce && c.Auth.JWTSecret == "" {
		return fmt.Errorf("config.auth.jwt_secret is required when auth is enforced")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is empty", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "nextaction.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with na config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  listen: 127.0.0.1:8787
  base_path: /v0

auth:
  enforce: false
  jwt_secret: ""

verifier:
  mode: offline
  base_url: https://api.openai.com/v1
  api_key_env: VERIFIER_AI_API_KEY
  model: gpt-4o-mini
  timeout_seconds: 20

ranking:
  config_path: ""

webhooks: []
`
