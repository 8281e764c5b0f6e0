// Package config provides configuration loading and management for tripstream.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tripstream configuration
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	NATS      NATSConfig      `yaml:"nats"`
	Providers ProvidersConfig `yaml:"providers"`
	Engine    EngineConfig    `yaml:"engine"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

// LLMConfig configures the plan composer model settings
type LLMConfig struct {
	// Model is the model identifier sent to the endpoint
	Model string `yaml:"model"`
	// Endpoint is an OpenAI-compatible chat completions endpoint
	Endpoint string `yaml:"endpoint"`
	// APIKey authenticates against the endpoint (empty for local models)
	APIKey string `yaml:"api_key"`
	// Temperature controls randomness (0.0-1.0, default: 0.3)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for a single completion
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`
	// Name is the client connection name
	Name string `yaml:"name"`
}

// ProviderConfig configures one external data provider.
type ProviderConfig struct {
	// Enabled marks the provider as configured. Disabled providers are
	// reported as missing sources, never invoked.
	Enabled bool `yaml:"enabled"`
	// APIKey is the provider credential
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the provider's default endpoint
	BaseURL string `yaml:"base_url"`
	// Timeout is the per-call timeout for this provider
	Timeout time.Duration `yaml:"timeout"`
	// RatePerSecond caps outbound calls to this provider (0 = unlimited)
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// ProvidersConfig holds per-provider configuration keyed by capability.
type ProvidersConfig struct {
	Weather ProviderConfig `yaml:"weather"`
	Flights ProviderConfig `yaml:"flights"`
	Hotels  ProviderConfig `yaml:"hotels"`
	Transit ProviderConfig `yaml:"transit"`
	Images  ProviderConfig `yaml:"images"`
	Guides  ProviderConfig `yaml:"guides"`
	// CredentialsFile optionally points at a separate YAML file holding
	// the per-provider api_key values; it is hot-reloaded when it changes.
	CredentialsFile string `yaml:"credentials_file"`
}

// EngineConfig configures task execution.
type EngineConfig struct {
	// Workers bounds how many tasks run concurrently
	Workers int `yaml:"workers"`
	// TaskTimeout is the ceiling timeout covering all steps of one task
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// GatherConcurrency caps concurrent provider calls within one gather
	GatherConcurrency int `yaml:"gather_concurrency"`
	// StaleAfter is how long a task may go without an update before the
	// sweeper force-fails it
	StaleAfter time.Duration `yaml:"stale_after"`
	// SweepInterval is how often the stale-task sweeper runs
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// GatewayConfig configures the HTTP/WebSocket gateway.
type GatewayConfig struct {
	// Addr is the listen address (host:port)
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			Endpoint:    "http://localhost:11434/v1",
			Temperature: 0.3,
			Timeout:     2 * time.Minute,
		},
		NATS: NATSConfig{
			URL:  "nats://localhost:4222",
			Name: "tripstream",
		},
		Providers: ProvidersConfig{
			Weather: ProviderConfig{Timeout: 10 * time.Second, RatePerSecond: 5},
			Flights: ProviderConfig{Timeout: 30 * time.Second, RatePerSecond: 2},
			Hotels:  ProviderConfig{Timeout: 20 * time.Second, RatePerSecond: 2},
			Transit: ProviderConfig{Timeout: 15 * time.Second, RatePerSecond: 5},
			Images:  ProviderConfig{Timeout: 8 * time.Second, RatePerSecond: 5},
			Guides:  ProviderConfig{Timeout: 15 * time.Second, RatePerSecond: 1},
		},
		Engine: EngineConfig{
			Workers:           8,
			TaskTimeout:       9 * time.Minute,
			GatherConcurrency: 4,
			StaleAfter:        30 * time.Minute,
			SweepInterval:     5 * time.Minute,
		},
		Gateway: GatewayConfig{
			Addr: ":8080",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be between 0 and 1")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1")
	}
	if c.Engine.GatherConcurrency < 1 {
		return fmt.Errorf("engine.gather_concurrency must be at least 1")
	}
	if c.Engine.TaskTimeout <= 0 {
		return fmt.Errorf("engine.task_timeout must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// LLM
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.LLM.APIKey != "" {
		c.LLM.APIKey = other.LLM.APIKey
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Name != "" {
		c.NATS.Name = other.NATS.Name
	}

	// Providers
	c.Providers.Weather.merge(other.Providers.Weather)
	c.Providers.Flights.merge(other.Providers.Flights)
	c.Providers.Hotels.merge(other.Providers.Hotels)
	c.Providers.Transit.merge(other.Providers.Transit)
	c.Providers.Images.merge(other.Providers.Images)
	c.Providers.Guides.merge(other.Providers.Guides)
	if other.Providers.CredentialsFile != "" {
		c.Providers.CredentialsFile = other.Providers.CredentialsFile
	}

	// Engine
	if other.Engine.Workers != 0 {
		c.Engine.Workers = other.Engine.Workers
	}
	if other.Engine.TaskTimeout != 0 {
		c.Engine.TaskTimeout = other.Engine.TaskTimeout
	}
	if other.Engine.GatherConcurrency != 0 {
		c.Engine.GatherConcurrency = other.Engine.GatherConcurrency
	}
	if other.Engine.StaleAfter != 0 {
		c.Engine.StaleAfter = other.Engine.StaleAfter
	}
	if other.Engine.SweepInterval != 0 {
		c.Engine.SweepInterval = other.Engine.SweepInterval
	}

	// Gateway
	if other.Gateway.Addr != "" {
		c.Gateway.Addr = other.Gateway.Addr
	}
}

func (p *ProviderConfig) merge(other ProviderConfig) {
	if other.Enabled {
		p.Enabled = true
	}
	if other.APIKey != "" {
		p.APIKey = other.APIKey
	}
	if other.BaseURL != "" {
		p.BaseURL = other.BaseURL
	}
	if other.Timeout != 0 {
		p.Timeout = other.Timeout
	}
	if other.RatePerSecond != 0 {
		p.RatePerSecond = other.RatePerSecond
	}
}
