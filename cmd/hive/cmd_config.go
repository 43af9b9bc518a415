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

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage hive configuration",
	Long:  `Manage configuration files and secrets for the hive orchestrator.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration file",
	Long:  `Generate an example hive.yaml configuration file in the hive data directory.`,
	Run:   runConfigInit,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save API key to system keyring",
	Long: `Save an API key to the system keyring securely.

The key will be stored in your system's secure credential storage
(Keychain on macOS, Credential Manager on Windows, Secret Service on Linux).

Run 'hive config list-keys' to see available key names.`,
	Args: cobra.ExactArgs(1),
	Run:  runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Retrieve API key from system keyring",
	Long:  `Retrieve an API key from the system keyring (for verification).`,
	Args:  cobra.ExactArgs(1),
	Run:   runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete API key from system keyring",
	Long:  `Remove an API key from the system keyring.`,
	Args:  cobra.ExactArgs(1),
	Run:   runConfigDeleteKey,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List available secret keys",
	Long:  `List all available secret keys that can be stored in the keyring.`,
	Run:   runConfigListKeys,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration (merged from all sources).`,
	Run:   runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configGetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configListKeysCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	configDir := hiveDataDir()
	configPath := filepath.Join(configDir, DefaultConfigFileName+".yaml")

	// Create directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config directory: %v\n", err)
		os.Exit(1)
	}

	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file already exists: %s\n", configPath)
		fmt.Print("Overwrite? (y/N): ")
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	if err := os.WriteFile(configPath, []byte(GenerateExampleConfig()), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Config file created: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Review the file and adjust the topology and LLM backends")
	fmt.Println("2. For hosted backends, save the API key:")
	fmt.Println("   hive config set-key anthropic_api_key")
	fmt.Println("3. Start the orchestrator:")
	fmt.Println("   hive serve")
	fmt.Println("   or run a single task: hive submit \"<task>\"")
}

func runConfigSetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	// Validate key name using extensible mapping
	availableKeys := ListAvailableSecretKeys()
	validKeys := make(map[string]bool)
	for _, k := range availableKeys {
		validKeys[k] = true
	}

	if !validKeys[keyName] {
		fmt.Fprintf(os.Stderr, "Invalid key name: %s\n", keyName)
		fmt.Fprintf(os.Stderr, "Available keys:\n")
		for _, k := range availableKeys {
			fmt.Fprintf(os.Stderr, "  - %s\n", k)
		}
		os.Exit(1)
	}

	// Read secret from stdin (without echo)
	fmt.Printf("Enter %s (input hidden): ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println() // New line after hidden input
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}

	secret := string(secretBytes)
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Secret cannot be empty\n")
		os.Exit(1)
	}

	// Save to keyring
	if err := SaveSecretToKeyring(keyName, secret); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving to keyring: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Saved %s to system keyring\n", keyName)
}

func runConfigGetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	secret, err := GetSecretFromKeyring(keyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error retrieving key: %v\n", err)
		fmt.Fprintf(os.Stderr, "Key not found in keyring. Set it with: hive config set-key %s\n", keyName)
		os.Exit(1)
	}

	// Show partially masked
	fmt.Printf("%s: %s\n", keyName, maskSecret(secret))
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	if err := DeleteSecretFromKeyring(keyName); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Deleted %s from system keyring\n", keyName)
}

func runConfigListKeys(cmd *cobra.Command, args []string) {
	keys := ListAvailableSecretKeys()
	fmt.Println("Available secret keys:")
	fmt.Println("======================")
	for _, key := range keys {
		fmt.Printf("  - %s\n", key)
	}
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  hive config set-key <key-name>")
	fmt.Println("  hive config get-key <key-name>")
	fmt.Println("  hive config delete-key <key-name>")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()

	fmt.Println("Orchestrator:")
	fmt.Printf("  Topology: %s\n", config.Orchestrator.Topology)
	fmt.Printf("  Workers: %d\n", config.Orchestrator.Workers)
	fmt.Printf("  Group size: %d\n", config.Orchestrator.GroupSize)
	fmt.Printf("  Task timeout: %ds\n", config.Orchestrator.TaskTimeoutSeconds)
	fmt.Println()

	fmt.Println("LLM:")
	fmt.Printf("  Backends: %s\n", strings.Join(config.LLM.Backends, ", "))
	fmt.Printf("  Ollama: %s (%s)\n", config.LLM.OllamaEndpoint, config.LLM.OllamaModel)
	fmt.Printf("  OpenAI model: %s\n", config.LLM.OpenAIModel)
	if config.LLM.OpenAIAPIKey != "" {
		fmt.Printf("  OpenAI API key: %s\n", maskSecret(config.LLM.OpenAIAPIKey))
	} else {
		fmt.Printf("  OpenAI API key: (not set)\n")
	}
	fmt.Printf("  Anthropic model: %s\n", config.LLM.AnthropicModel)
	if config.LLM.AnthropicAPIKey != "" {
		fmt.Printf("  Anthropic API key: %s\n", maskSecret(config.LLM.AnthropicAPIKey))
	} else {
		fmt.Printf("  Anthropic API key: (not set)\n")
	}
	fmt.Printf("  Temperature: %.1f\n", config.LLM.Temperature)
	fmt.Printf("  Max tokens: %d\n", config.LLM.MaxTokens)
	fmt.Println()

	fmt.Println("Database:")
	fmt.Printf("  Path: %s\n", config.Database.Path)
	fmt.Printf("  Encrypted: %t\n", config.Database.EncryptionKey != "")
	fmt.Println()

	fmt.Println("Security:")
	fmt.Printf("  Project dir: %s\n", config.Security.ProjectDir)
	fmt.Printf("  Command timeout: %ds\n", config.Security.CommandTimeoutSeconds)
	fmt.Println()

	fmt.Println("Maintenance:")
	fmt.Printf("  Prune schedule: %s\n", config.Maintenance.PruneSchedule)
	fmt.Printf("  Stats schedule: %s\n", config.Maintenance.StatsSchedule)
	fmt.Printf("  Retain processed: %s\n", config.Maintenance.RetainProcessed)
	fmt.Println()

	fmt.Println("Intake:")
	fmt.Printf("  Enabled: %t\n", config.Intake.Enabled)
	if config.Intake.Enabled {
		fmt.Printf("  Dir: %s\n", config.Intake.Dir)
	}
	fmt.Println()

	fmt.Println("Logging:")
	fmt.Printf("  Level: %s\n", config.Logging.Level)
	fmt.Printf("  Format: %s\n", config.Logging.Format)
}

// maskSecret masks a secret for display.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
