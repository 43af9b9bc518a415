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

// Package llm provides the gateway that sits between agents and one or more
// LLM backends. The gateway owns per-backend health records, orders and
// retries backends on every call, and opens a circuit after repeated
// failures so a dead backend stops absorbing timeouts.
package llm

import (
	"context"
	"errors"
)

// ErrBackendUnavailable is returned when every candidate backend has been
// attempted and failed, or no candidate exists at all.
var ErrBackendUnavailable = errors.New("no LLM backend available")

// Message is a single turn of a conversation.
type Message struct {
	Role    string `json:"role"` // system, user, or assistant
	Content string `json:"content"`
}

// Response is the normalized result of one chat call.
type Response struct {
	// Content is the text of the completion.
	Content string

	// Model is the model that produced the completion.
	Model string

	// Backend names the backend that served the call.
	Backend string

	// InputTokens and OutputTokens are usage as reported by the backend,
	// or counted locally when the backend reports nothing.
	InputTokens  int
	OutputTokens int

	// Metadata carries backend-specific extras.
	Metadata map[string]interface{}
}

// Backend is one LLM provider behind the gateway.
type Backend interface {
	// Name returns the backend name used in configuration and health
	// records ("ollama", "openai", "anthropic").
	Name() string

	// Available is a cheap liveness probe. It must not block longer than
	// the context allows.
	Available(ctx context.Context) bool

	// Models lists the model identifiers the backend can serve.
	Models(ctx context.Context) ([]string, error)

	// Chat sends a conversation and returns the completion. An empty model
	// selects the backend's configured default.
	Chat(ctx context.Context, messages []Message, model string) (*Response, error)
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}
