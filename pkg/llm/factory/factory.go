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
package factory

import (
	"fmt"
	"os"
	"time"

	"github.com/teradata-labs/hive/pkg/llm"
	"github.com/teradata-labs/hive/pkg/llm/anthropic"
	"github.com/teradata-labs/hive/pkg/llm/ollama"
	"github.com/teradata-labs/hive/pkg/llm/openai"
)

// BackendFactory creates LLM backends dynamically based on configuration.
type BackendFactory struct {
	// Current configuration
	config FactoryConfig
}

// FactoryConfig holds configuration for creating LLM backends.
type FactoryConfig struct {
	// Default backend to use
	DefaultBackend string
	DefaultModel   string

	// Anthropic configuration
	AnthropicAPIKey string
	AnthropicModel  string

	// Ollama configuration
	OllamaEndpoint string
	OllamaModel    string

	// OpenAI configuration
	OpenAIAPIKey string
	OpenAIModel  string

	// Common settings
	MaxTokens   int
	Temperature float64
	Timeout     int // seconds
}

// NewBackendFactory creates a new backend factory.
func NewBackendFactory(config FactoryConfig) *BackendFactory {
	// Set defaults
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.Temperature == 0 {
		config.Temperature = 1.0
	}
	if config.Timeout == 0 {
		config.Timeout = 60
	}

	return &BackendFactory{
		config: config,
	}
}

// CreateBackend creates an LLM backend for the specified backend type and model.
func (f *BackendFactory) CreateBackend(backend, model string) (llm.Backend, error) {
	// Use defaults if not specified
	if backend == "" {
		backend = f.config.DefaultBackend
	}
	if model == "" {
		model = f.config.DefaultModel
	}

	switch backend {
	case "anthropic":
		return f.createAnthropicBackend(model)
	case "ollama":
		return f.createOllamaBackend(model)
	case "openai":
		return f.createOpenAIBackend(model)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// CreateBackends creates every backend in names, in order. Backends whose
// credentials are missing are skipped; an error is returned only when none
// of the requested backends could be created.
func (f *BackendFactory) CreateBackends(names []string) ([]llm.Backend, error) {
	var backends []llm.Backend
	var lastErr error

	for _, name := range names {
		b, err := f.CreateBackend(name, "")
		if err != nil {
			lastErr = err
			continue
		}
		backends = append(backends, b)
	}

	if len(backends) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("no usable LLM backend: %w", lastErr)
		}
		return nil, fmt.Errorf("no LLM backends configured")
	}
	return backends, nil
}

func (f *BackendFactory) createAnthropicBackend(model string) (llm.Backend, error) {
	apiKey := f.config.AnthropicAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured (set llm.anthropic_api_key or ANTHROPIC_API_KEY)")
	}

	if model == "" {
		model = f.config.AnthropicModel
	}
	if model == "" {
		model = anthropic.DefaultModel
	}

	return anthropic.NewClient(anthropic.Config{
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   f.config.MaxTokens,
		Temperature: f.config.Temperature,
		Timeout:     time.Duration(f.config.Timeout) * time.Second,
	}), nil
}

func (f *BackendFactory) createOllamaBackend(model string) (llm.Backend, error) {
	endpoint := f.config.OllamaEndpoint
	if endpoint == "" {
		endpoint = os.Getenv("OLLAMA_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}

	if model == "" {
		model = f.config.OllamaModel
	}
	if model == "" {
		model = "llama3.1"
	}

	return ollama.NewClient(ollama.Config{
		Endpoint:    endpoint,
		Model:       model,
		MaxTokens:   f.config.MaxTokens,
		Temperature: f.config.Temperature,
		Timeout:     time.Duration(f.config.Timeout) * time.Second,
	}), nil
}

func (f *BackendFactory) createOpenAIBackend(model string) (llm.Backend, error) {
	apiKey := f.config.OpenAIAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key not configured (set llm.openai_api_key or OPENAI_API_KEY)")
	}

	if model == "" {
		model = f.config.OpenAIModel
	}
	if model == "" {
		model = "gpt-4o"
	}

	return openai.NewClient(openai.Config{
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   f.config.MaxTokens,
		Temperature: f.config.Temperature,
		Timeout:     time.Duration(f.config.Timeout) * time.Second,
	}), nil
}

// IsBackendAvailable checks if a backend is available (credentials/config present).
func (f *BackendFactory) IsBackendAvailable(backend string) bool {
	_, err := f.CreateBackend(backend, "")
	return err == nil
}
