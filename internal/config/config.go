package config

import (
	"encoding/json"
	"fmt"
)

// Mode values. Production turns on the high-risk approval gate.
const (
	ModeDev     = "dev"
	ModeStaging = "staging"
	ModeProd    = "prod"
)

// Config represents the main Lynx configuration.
type Config struct {
	// Mode is one of dev, staging, prod.
	Mode string `json:"mode" mapstructure:"mode"`

	// Data directory for sqlite databases and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
	Storage     StorageConfig     `json:"storage" mapstructure:"storage"`
	Kernel      KernelConfig      `json:"kernel" mapstructure:"kernel"`
	Permissions PermissionsConfig `json:"permissions" mapstructure:"permissions"`
	Agent       AgentConfig       `json:"agent" mapstructure:"agent"`
	Metrics     MetricsConfig     `json:"metrics" mapstructure:"metrics"`
	Settlement  SettlementConfig  `json:"settlement" mapstructure:"settlement"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// StorageConfig holds storage paths. Empty paths select in-memory stores.
type StorageConfig struct {
	DatabasePath string `json:"database_path" mapstructure:"database_path"`
	AuditPath    string `json:"audit_path" mapstructure:"audit_path"`
}

// KernelConfig holds the tenant kernel service connection.
type KernelConfig struct {
	URL      string `json:"url" mapstructure:"url"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	TenantID string `json:"tenant_id" mapstructure:"tenant_id"`
}

// Enabled reports whether a kernel service is configured.
func (k KernelConfig) Enabled() bool {
	return k.URL != ""
}

// PermissionsConfig holds permission checker behavior.
type PermissionsConfig struct {
	// FailClosed denies tool calls when the remote policy service is
	// unreachable instead of falling back to the local decision.
	FailClosed bool `json:"fail_closed" mapstructure:"fail_closed"`
}

// AgentConfig holds the model provider configuration.
type AgentConfig struct {
	Provider      string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey        string  `json:"api_key" mapstructure:"api_key"`
	Model         string  `json:"model" mapstructure:"model"`
	SystemPrompt  string  `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature   float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxIterations int     `json:"max_iterations" mapstructure:"max_iterations"`
}

// Enabled reports whether an agent provider is configured.
func (a AgentConfig) Enabled() bool {
	return a.Provider != "" && a.APIKey != ""
}

// MetricsConfig holds the prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// SettlementConfig holds the settlement worker configuration.
type SettlementConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Schedule  string `json:"schedule" mapstructure:"schedule"`
	BatchSize int    `json:"batch_size" mapstructure:"batch_size"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeDev,
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Permissions: PermissionsConfig{
			FailClosed: false,
		},
		Agent: AgentConfig{
			Provider:      "",
			Model:         "claude-sonnet-4-5",
			Temperature:   0.2,
			MaxTokens:     4096,
			MaxIterations: 10,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9464,
		},
		Settlement: SettlementConfig{
			Enabled:   true,
			Schedule:  "@every 30s",
			BatchSize: 50,
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDev, ModeStaging, ModeProd:
	default:
		return fmt.Errorf("invalid mode %q (must be: dev, staging, prod)", c.Mode)
	}

	if c.Agent.Provider != "" {
		if c.Agent.Provider != "anthropic" && c.Agent.Provider != "openai" {
			return fmt.Errorf("invalid agent provider %q (must be: anthropic, openai)", c.Agent.Provider)
		}
		if c.Agent.APIKey == "" {
			return fmt.Errorf("agent api_key is required when a provider is set")
		}
		if c.Agent.Model == "" {
			return fmt.Errorf("agent model is required when a provider is set")
		}
	}

	if c.Kernel.URL != "" && c.Kernel.APIKey == "" {
		return fmt.Errorf("kernel api_key is required when kernel url is set")
	}

	if c.Permissions.FailClosed && !c.Kernel.Enabled() {
		return fmt.Errorf("permissions.fail_closed requires a configured kernel service")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port %d", c.Metrics.Port)
	}

	if c.Settlement.Enabled {
		if c.Settlement.Schedule == "" {
			return fmt.Errorf("settlement schedule is required when the worker is enabled")
		}
		if c.Settlement.BatchSize <= 0 {
			return fmt.Errorf("settlement batch_size must be positive")
		}
	}

	return nil
}

// ProductionMode reports whether the strict high-risk approval gate applies.
func (c *Config) ProductionMode() bool {
	return c.Mode == ModeProd
}
