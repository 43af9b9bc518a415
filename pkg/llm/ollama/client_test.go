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
package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/hive/pkg/llm"
)

func TestNewClientDefaults(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected *Client
	}{
		{
			name:   "default config",
			config: Config{},
			expected: &Client{
				endpoint:    "http://localhost:11434",
				model:       "llama3.1",
				maxTokens:   4096,
				temperature: 0.8,
			},
		},
		{
			name: "custom config",
			config: Config{
				Endpoint:    "http://custom:8080",
				Model:       "mistral",
				MaxTokens:   2048,
				Temperature: 0.5,
				Timeout:     30 * time.Second,
			},
			expected: &Client{
				endpoint:    "http://custom:8080",
				model:       "mistral",
				maxTokens:   2048,
				temperature: 0.5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.config)
			assert.Equal(t, tt.expected.endpoint, client.endpoint)
			assert.Equal(t, tt.expected.model, client.model)
			assert.Equal(t, tt.expected.maxTokens, client.maxTokens)
			assert.Equal(t, tt.expected.temperature, client.temperature)
			assert.NotNil(t, client.httpClient)
		})
	}
}

func TestAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_ = json.NewEncoder(w).Encode(tagsResponse{})
	}))
	defer srv.Close()

	client := NewClient(Config{Endpoint: srv.URL})
	assert.True(t, client.Available(context.Background()))

	down := NewClient(Config{Endpoint: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	assert.False(t, down.Available(context.Background()))
}

func TestModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.1"},{"name":"qwen2.5-coder"}]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{Endpoint: srv.URL})
	models, err := client.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.1", "qwen2.5-coder"}, models)
}

func TestChat(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(chatResponse{
			Model:           gotReq.Model,
			Message:         ollamaMessage{Role: "assistant", Content: "hello back"},
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       4,
		})
	}))
	defer srv.Close()

	client := NewClient(Config{Endpoint: srv.URL, Model: "llama3.1"})
	resp, err := client.Chat(context.Background(), []llm.Message{
		llm.SystemMessage("be brief"),
		llm.UserMessage("say hello"),
	}, "qwen2.5-coder")
	require.NoError(t, err)

	assert.Equal(t, "qwen2.5-coder", gotReq.Model, "explicit model overrides the default")
	assert.False(t, gotReq.Stream)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)

	assert.Equal(t, "hello back", resp.Content)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 4, resp.OutputTokens)
}

func TestChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(Config{Endpoint: srv.URL})
	_, err := client.Chat(context.Background(), []llm.Message{llm.UserMessage("hi")}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
