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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/teradata-labs/hive/internal/version"
)

var (
	cfgFile string
	config  *Config
)

var rootCmd = &cobra.Command{
	Use:     "hive",
	Short:   "Hive - hierarchical multi-agent task orchestrator",
	Long:    `Hive orchestrates LLM-backed agents over a durable SQLite message store: a queen decomposes requests into a task graph, subqueens split tasks across their worker groups and workers execute subtasks with policy-checked side effects.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HIVE_DATA_DIR/hive.yaml)")

	// Orchestrator flags
	rootCmd.PersistentFlags().String("topology", "hierarchical", "agent topology (hierarchical, centralized, fully-connected)")
	rootCmd.PersistentFlags().Int("workers", 4, "number of worker agents to spawn")
	rootCmd.PersistentFlags().Int("group-size", 2, "workers per sub-coordinator group (hierarchical topology)")

	// LLM flags
	rootCmd.PersistentFlags().StringSlice("llm-backends", []string{"ollama"}, "LLM backends in preference order (ollama, openai, anthropic)")
	rootCmd.PersistentFlags().String("ollama-endpoint", "http://localhost:11434", "Ollama endpoint URL")
	rootCmd.PersistentFlags().String("ollama-model", "llama3.1", "Ollama model")
	rootCmd.PersistentFlags().String("openai-key", "", "OpenAI API key (or use keyring/env)")
	rootCmd.PersistentFlags().String("openai-model", "gpt-4o", "OpenAI model")
	rootCmd.PersistentFlags().String("anthropic-key", "", "Anthropic API key (or use keyring/env)")
	rootCmd.PersistentFlags().String("anthropic-model", "claude-sonnet-4-5-20250929", "Anthropic model")
	rootCmd.PersistentFlags().Float64("temperature", 1.0, "LLM temperature")
	rootCmd.PersistentFlags().Int("max-tokens", 4096, "Maximum tokens per request")

	// Database flags
	// hiveDataDir respects the HIVE_DATA_DIR environment variable
	defaultDBPath := filepath.Join(hiveDataDir(), "hive.db")
	rootCmd.PersistentFlags().String("db", defaultDBPath, "SQLite message store path")

	// Security flags
	rootCmd.PersistentFlags().String("project-dir", "", "folder workers may write to and run commands in (default: $HIVE_DATA_DIR/project)")

	// Intake flags
	rootCmd.PersistentFlags().Bool("intake", false, "watch the intake directory for *.task files (serve mode)")
	rootCmd.PersistentFlags().String("intake-dir", "", "task drop directory (default: $HIVE_DATA_DIR/intake)")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("orchestrator.topology", rootCmd.PersistentFlags().Lookup("topology"))
	_ = viper.BindPFlag("orchestrator.workers", rootCmd.PersistentFlags().Lookup("workers"))
	_ = viper.BindPFlag("orchestrator.group_size", rootCmd.PersistentFlags().Lookup("group-size"))

	_ = viper.BindPFlag("llm.backends", rootCmd.PersistentFlags().Lookup("llm-backends"))
	_ = viper.BindPFlag("llm.ollama_endpoint", rootCmd.PersistentFlags().Lookup("ollama-endpoint"))
	_ = viper.BindPFlag("llm.ollama_model", rootCmd.PersistentFlags().Lookup("ollama-model"))
	_ = viper.BindPFlag("llm.openai_api_key", rootCmd.PersistentFlags().Lookup("openai-key"))
	_ = viper.BindPFlag("llm.openai_model", rootCmd.PersistentFlags().Lookup("openai-model"))
	_ = viper.BindPFlag("llm.anthropic_api_key", rootCmd.PersistentFlags().Lookup("anthropic-key"))
	_ = viper.BindPFlag("llm.anthropic_model", rootCmd.PersistentFlags().Lookup("anthropic-model"))
	_ = viper.BindPFlag("llm.temperature", rootCmd.PersistentFlags().Lookup("temperature"))
	_ = viper.BindPFlag("llm.max_tokens", rootCmd.PersistentFlags().Lookup("max-tokens"))

	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))

	_ = viper.BindPFlag("security.project_dir", rootCmd.PersistentFlags().Lookup("project-dir"))

	_ = viper.BindPFlag("intake.enabled", rootCmd.PersistentFlags().Lookup("intake"))
	_ = viper.BindPFlag("intake.dir", rootCmd.PersistentFlags().Lookup("intake-dir"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
