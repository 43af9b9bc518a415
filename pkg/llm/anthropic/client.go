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

// Package anthropic implements the gateway backend for Anthropic's Claude
// API via the official SDK.
package anthropic

import (
	"context"
	"fmt"
	"os"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/teradata-labs/hive/pkg/llm"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultMaxTokens is the default maximum tokens per request.
	DefaultMaxTokens = 4096
	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 1.0
)

// knownModels is the static list reported by Models. The Messages API does
// not require listing models, and probing the account for them would spend
// a billable request on every health check.
var knownModels = []string{
	"claude-sonnet-4-5-20250929",
	"claude-haiku-4-5-20251001",
	"claude-opus-4-1-20250805",
}

// Client talks to the Anthropic Messages API.
type Client struct {
	client      anthropicsdk.Client
	apiKey      string
	model       string
	maxTokens   int64
	temperature float64
}

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey      string        // Default: $ANTHROPIC_API_KEY
	Model       string        // Default: claude-sonnet-4-5-20250929
	BaseURL     string        // Optional API endpoint override
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 1.0
	Timeout     time.Duration // Default: 60s
}

// NewClient creates a new Anthropic client.
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:      anthropicsdk.NewClient(opts...),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}
}

// Name returns the backend name.
func (c *Client) Name() string {
	return "anthropic"
}

// Available reports whether credentials are configured.
func (c *Client) Available(_ context.Context) bool {
	return c.apiKey != ""
}

// Models returns the known Claude model identifiers.
func (c *Client) Models(_ context.Context) ([]string, error) {
	models := make([]string, len(knownModels))
	copy(models, knownModels)
	return models, nil
}

// Chat sends a conversation to Claude and returns the response.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, model string) (*llm.Response, error) {
	if model == "" {
		model = c.model
	}

	systemPrompt, sdkMessages := convertMessages(messages)
	if len(sdkMessages) == 0 {
		return nil, fmt.Errorf("no user or assistant messages to send")
	}

	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(model),
		Messages:    sdkMessages,
		MaxTokens:   c.maxTokens,
		Temperature: anthropicsdk.Float(c.temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var content string
	for _, block := range message.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &llm.Response{
		Content:      content,
		Model:        model,
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		Metadata: map[string]interface{}{
			"stop_reason": string(message.StopReason),
			"message_id":  message.ID,
		},
	}, nil
}

// convertMessages splits out the system prompt and maps the rest to SDK
// message params. The Messages API requires system text in a separate field.
func convertMessages(messages []llm.Message) (string, []anthropicsdk.MessageParam) {
	var system string
	var sdkMessages []anthropicsdk.MessageParam

	for _, m := range messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "assistant":
			sdkMessages = append(sdkMessages,
				anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content)))
		default:
			sdkMessages = append(sdkMessages,
				anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		}
	}
	return system, sdkMessages
}

// Ensure Client implements the Backend interface.
var _ llm.Backend = (*Client)(nil)
