// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"github.com/teradata-labs/hive/pkg/types"
	"github.com/zalando/go-keyring"
)

const (
	// ServiceName is the keyring service name for stored secrets.
	ServiceName = "hive"

	// DefaultConfigFileName is the config file basename (hive.yaml).
	DefaultConfigFileName = "hive"
)

// Config is the full configuration for the hive binary.
type Config struct {
	// DataDir is resolved from HIVE_DATA_DIR or ~/.hive, never from the
	// config file itself.
	DataDir string `mapstructure:"-"`

	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Security     SecurityConfig     `mapstructure:"security"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Maintenance  MaintenanceConfig  `mapstructure:"maintenance"`
	Intake       IntakeConfig       `mapstructure:"intake"`
}

// OrchestratorConfig shapes the agent tree.
type OrchestratorConfig struct {
	Topology           string `mapstructure:"topology"`
	Workers            int    `mapstructure:"workers"`
	GroupSize          int    `mapstructure:"group_size"`
	MaxAttempts        int    `mapstructure:"max_attempts"`
	TaskTimeoutSeconds int    `mapstructure:"task_timeout_seconds"`
	PollIntervalMS     int    `mapstructure:"poll_interval_ms"`
}

// LLMConfig selects and credentials the gateway backends.
type LLMConfig struct {
	Backends        []string `mapstructure:"backends"`
	OllamaEndpoint  string   `mapstructure:"ollama_endpoint"`
	OllamaModel     string   `mapstructure:"ollama_model"`
	OpenAIAPIKey    string   `mapstructure:"openai_api_key"`
	OpenAIModel     string   `mapstructure:"openai_model"`
	AnthropicAPIKey string   `mapstructure:"anthropic_api_key"`
	AnthropicModel  string   `mapstructure:"anthropic_model"`
	Temperature     float64  `mapstructure:"temperature"`
	MaxTokens       int      `mapstructure:"max_tokens"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds"`
}

// DatabaseConfig locates the message store.
type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

// SecurityConfig bounds worker side effects.
type SecurityConfig struct {
	ProjectDir            string `mapstructure:"project_dir"`
	CommandTimeoutSeconds int    `mapstructure:"command_timeout_seconds"`
	MaxOutputChars        int    `mapstructure:"max_output_chars"`
}

// LoggingConfig configures the global zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MaintenanceConfig schedules the serve-mode housekeeping jobs.
type MaintenanceConfig struct {
	PruneSchedule   string `mapstructure:"prune_schedule"`
	StatsSchedule   string `mapstructure:"stats_schedule"`
	RetainProcessed string `mapstructure:"retain_processed"`
}

// IntakeConfig configures the serve-mode task drop directory.
type IntakeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// hiveDataDir returns the hive data directory.
func hiveDataDir() string {
	// Check environment variable first
	if dataDir := os.Getenv("HIVE_DATA_DIR"); dataDir != "" {
		return dataDir
	}

	// Fall back to ~/.hive
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home dir cannot be determined
		return ".hive"
	}
	return filepath.Join(homeDir, ".hive")
}

// LoadConfig loads configuration using viper with the following priority:
// 1. Command-line flags (highest)
// 2. Environment variables (HIVE_*)
// 3. Config file
// 4. Defaults (lowest)
func LoadConfig(cfgFile string) (*Config, error) {
	// Set defaults
	setDefaults()

	// Setup config file
	if cfgFile != "" {
		// Use config file from flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in standard locations
		viper.AddConfigPath(hiveDataDir()) // Hive data directory (respects HIVE_DATA_DIR)
		viper.AddConfigPath(".")           // Current directory
		viper.AddConfigPath("/etc/hive/")  // System-wide
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	// Read config file (if it exists)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	// Bind environment variables (HIVE_LLM_ANTHROPIC_API_KEY etc.)
	viper.SetEnvPrefix("HIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Unmarshal config
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set DataDir from environment or default
	// This must be done after unmarshal since it's not loaded from config file
	config.DataDir = hiveDataDir()

	// Load secrets from keyring if not provided via CLI/env
	// Non-fatal: keyring might not be available - user can provide secrets via CLI/env
	_ = loadSecretsFromKeyring(&config)

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	// Orchestrator defaults
	viper.SetDefault("orchestrator.topology", "hierarchical")
	viper.SetDefault("orchestrator.workers", 4)
	viper.SetDefault("orchestrator.group_size", 2)
	viper.SetDefault("orchestrator.max_attempts", 0) // 0 derives the cap from the group count
	viper.SetDefault("orchestrator.task_timeout_seconds", 300)
	viper.SetDefault("orchestrator.poll_interval_ms", 100)

	// LLM defaults
	viper.SetDefault("llm.backends", []string{"ollama"})
	viper.SetDefault("llm.ollama_endpoint", "http://localhost:11434")
	viper.SetDefault("llm.ollama_model", "llama3.1")
	viper.SetDefault("llm.openai_model", "gpt-4o")
	viper.SetDefault("llm.anthropic_model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("llm.temperature", 1.0)
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.timeout_seconds", 60)

	// Database defaults
	viper.SetDefault("database.path", filepath.Join(hiveDataDir(), "hive.db"))

	// Security defaults
	viper.SetDefault("security.project_dir", filepath.Join(hiveDataDir(), "project"))
	viper.SetDefault("security.command_timeout_seconds", 30)
	viper.SetDefault("security.max_output_chars", 10000)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")

	// Maintenance defaults
	viper.SetDefault("maintenance.prune_schedule", "*/5 * * * *")
	viper.SetDefault("maintenance.stats_schedule", "@every 1m")
	viper.SetDefault("maintenance.retain_processed", "1h")

	// Intake defaults
	viper.SetDefault("intake.enabled", false)
	viper.SetDefault("intake.dir", filepath.Join(hiveDataDir(), "intake"))
}

// SecretMapping defines how to load a secret from keyring into the config.
// The key is the keyring key name, and the setter is a function that applies the value to the config.
type SecretMapping struct {
	KeyringKey string
	Setter     func(*Config, string)
	IsSet      func(*Config) bool // Returns true if the value is already set (skip keyring lookup)
}

// GetSecretMappings returns all secret mappings for the application.
// Developers can extend this by adding new SecretMapping entries.
func GetSecretMappings() []SecretMapping {
	return []SecretMapping{
		{
			KeyringKey: "anthropic_api_key",
			Setter:     func(c *Config, val string) { c.LLM.AnthropicAPIKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.AnthropicAPIKey != "" },
		},
		{
			KeyringKey: "openai_api_key",
			Setter:     func(c *Config, val string) { c.LLM.OpenAIAPIKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.OpenAIAPIKey != "" },
		},
		{
			KeyringKey: "database_encryption_key",
			Setter:     func(c *Config, val string) { c.Database.EncryptionKey = val },
			IsSet:      func(c *Config) bool { return c.Database.EncryptionKey != "" },
		},
	}
}

// loadSecretsFromKeyring loads API keys from system keyring using the secret mappings.
// This is extensible - just add more entries to GetSecretMappings().
func loadSecretsFromKeyring(config *Config) error {
	for _, mapping := range GetSecretMappings() {
		// Skip if value is already set (from CLI/env/config file)
		if mapping.IsSet(config) {
			continue
		}

		// Try to load from keyring
		value, err := GetSecretFromKeyring(mapping.KeyringKey)
		if err == nil && value != "" {
			mapping.Setter(config, value)
		}
		// Non-fatal: if keyring doesn't have the key, just continue
	}

	return nil
}

// GetSecretFromKeyring retrieves a secret from the system keyring.
func GetSecretFromKeyring(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SaveSecretToKeyring saves a secret to the system keyring.
func SaveSecretToKeyring(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// DeleteSecretFromKeyring removes a secret from the system keyring.
func DeleteSecretFromKeyring(key string) error {
	return keyring.Delete(ServiceName, key)
}

// ListAvailableSecretKeys returns all known secret keys that can be stored in the keyring.
// Useful for CLI commands that need to show available options.
func ListAvailableSecretKeys() []string {
	mappings := GetSecretMappings()
	keys := make([]string, len(mappings))
	for i, mapping := range mappings {
		keys[i] = mapping.KeyringKey
	}
	return keys
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate orchestrator config
	topology := types.Topology(c.Orchestrator.Topology)
	if !topology.Valid() {
		return fmt.Errorf("invalid orchestrator.topology %q (must be hierarchical, centralized, or fully-connected)", c.Orchestrator.Topology)
	}
	if c.Orchestrator.Workers < 1 {
		return fmt.Errorf("orchestrator.workers must be at least 1, got %d", c.Orchestrator.Workers)
	}
	if c.Orchestrator.GroupSize < 1 {
		return fmt.Errorf("orchestrator.group_size must be at least 1, got %d", c.Orchestrator.GroupSize)
	}
	if c.Orchestrator.PollIntervalMS < 1 {
		return fmt.Errorf("orchestrator.poll_interval_ms must be at least 1, got %d", c.Orchestrator.PollIntervalMS)
	}

	// Validate LLM config
	if len(c.LLM.Backends) == 0 {
		return fmt.Errorf("at least one LLM backend is required (set llm.backends)")
	}
	for _, backend := range c.LLM.Backends {
		switch backend {
		case "ollama":
			if c.LLM.OllamaEndpoint == "" {
				return fmt.Errorf("ollama endpoint is required (set llm.ollama_endpoint in config)")
			}

		case "openai":
			if c.LLM.OpenAIAPIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
				return fmt.Errorf("openai API key is required (set via --openai-key, HIVE_LLM_OPENAI_API_KEY, or save to keyring with 'hive config set-key openai_api_key')")
			}

		case "anthropic":
			if c.LLM.AnthropicAPIKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
				return fmt.Errorf("anthropic API key is required (set via --anthropic-key, HIVE_LLM_ANTHROPIC_API_KEY, or save to keyring with 'hive config set-key anthropic_api_key')")
			}

		default:
			return fmt.Errorf("unknown LLM backend %q (must be ollama, openai, or anthropic)", backend)
		}
	}

	// Validate database config
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Validate logging config
	switch c.Logging.Format {
	case "console", "json", "":
	default:
		return fmt.Errorf("invalid logging.format %q (must be console or json)", c.Logging.Format)
	}

	// Validate maintenance config
	if c.Maintenance.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.Maintenance.PruneSchedule); err != nil {
			return fmt.Errorf("invalid maintenance.prune_schedule %q: %w", c.Maintenance.PruneSchedule, err)
		}
	}
	if c.Maintenance.StatsSchedule != "" {
		if _, err := cron.ParseStandard(c.Maintenance.StatsSchedule); err != nil {
			return fmt.Errorf("invalid maintenance.stats_schedule %q: %w", c.Maintenance.StatsSchedule, err)
		}
	}
	if c.Maintenance.RetainProcessed != "" {
		if _, err := time.ParseDuration(c.Maintenance.RetainProcessed); err != nil {
			return fmt.Errorf("invalid maintenance.retain_processed %q: %w", c.Maintenance.RetainProcessed, err)
		}
	}

	// Validate intake config
	if c.Intake.Enabled && c.Intake.Dir == "" {
		return fmt.Errorf("intake.dir is required when intake.enabled is true")
	}

	return nil
}

// retainProcessed returns the parsed retention window for processed
// messages. Validate has already checked the syntax.
func (c *Config) retainProcessed() time.Duration {
	d, err := time.ParseDuration(c.Maintenance.RetainProcessed)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// GenerateExampleConfig generates an example configuration file content.
func GenerateExampleConfig() string {
	return `# Hive Orchestrator Configuration
# Generated by: hive config init

# Agent tree shape. Hierarchical routes queen -> subqueens -> workers;
# centralized and fully-connected route queen -> workers directly.
orchestrator:
  topology: hierarchical
  workers: 4
  group_size: 2
  # max_attempts: 3          # assignment attempts per task (0 = derive from group count)
  task_timeout_seconds: 300
  poll_interval_ms: 100

# LLM backends in preference order. The gateway health-scores them and
# fails over automatically.
llm:
  backends:
    - ollama
  ollama_endpoint: http://localhost:11434
  ollama_model: llama3.1
  # openai_model: gpt-4o
  # openai_api_key: set via keyring (hive config set-key openai_api_key)
  # anthropic_model: claude-sonnet-4-5-20250929
  # anthropic_api_key: set via keyring (hive config set-key anthropic_api_key)
  temperature: 1.0
  max_tokens: 4096
  timeout_seconds: 60

database:
  # path: defaults to $HIVE_DATA_DIR/hive.db
  # encryption_key: set via keyring (hive config set-key database_encryption_key)

# Folder workers may write files to and run allow-listed commands in.
security:
  # project_dir: defaults to $HIVE_DATA_DIR/project
  command_timeout_seconds: 30
  max_output_chars: 10000

logging:
  level: info
  format: console

# Serve-mode housekeeping.
maintenance:
  prune_schedule: "*/5 * * * *"
  stats_schedule: "@every 1m"
  retain_processed: 1h

# Drop <name>.task files into the intake directory; hive writes
# <name>.result or <name>.error alongside.
intake:
  enabled: false
  # dir: defaults to $HIVE_DATA_DIR/intake
`
}
