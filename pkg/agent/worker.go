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

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/teradata-labs/hive/pkg/communication"
	"github.com/teradata-labs/hive/pkg/llm"
	"github.com/teradata-labs/hive/pkg/types"
)

const (
	// DefaultChatTimeout bounds one worker LLM call.
	DefaultChatTimeout = 30 * time.Second
	// DefaultPollInterval is the message store polling cadence.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultMaxConcurrent bounds tasks a worker handles in parallel.
	DefaultMaxConcurrent = 3

	// maxTaskBytes rejects oversized task content before it reaches the
	// model.
	maxTaskBytes = 40 * 1024
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	ID            string
	Role          types.Role
	Skills        []string
	Store         *communication.Store
	Gateway       *llm.Gateway
	Model         string
	ChatTimeout   time.Duration  // Default: 30s
	PollInterval  time.Duration  // Default: 100ms
	MaxConcurrent int            // Default: 3
	Runner        *CommandRunner // nil disables command execution
	Writer        *FileWriter    // nil disables file saves
	Logger        *zap.Logger
}

// Worker is the terminal executor: it polls its inbox, runs one LLM call per
// task, performs policy-checked side effects and reports a response or error
// to whoever sent the task.
type Worker struct {
	id           string
	role         types.Role
	skills       []string
	store        *communication.Store
	gateway      *llm.Gateway
	model        string
	chatTimeout  time.Duration
	pollInterval time.Duration
	runner       *CommandRunner
	writer       *FileWriter
	logger       *zap.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewWorker creates a worker from cfg.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("worker %s: store is required", cfg.ID)
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("worker %s: gateway is required", cfg.ID)
	}
	if cfg.Role == "" {
		cfg.Role = types.RoleDeveloper
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = DefaultChatTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Worker{
		id:           cfg.ID,
		role:         cfg.Role,
		skills:       append([]string(nil), cfg.Skills...),
		store:        cfg.Store,
		gateway:      cfg.Gateway,
		model:        cfg.Model,
		chatTimeout:  cfg.ChatTimeout,
		pollInterval: cfg.PollInterval,
		runner:       cfg.Runner,
		writer:       cfg.Writer,
		logger:       cfg.Logger.With(zap.String("agent_id", cfg.ID)),
		sem:          make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// ID returns the worker's agent id.
func (w *Worker) ID() string { return w.id }

// Role returns the worker's role.
func (w *Worker) Role() types.Role { return w.role }

// Skills returns the worker's skill tags.
func (w *Worker) Skills() []string { return append([]string(nil), w.skills...) }

// Run polls the store for task messages until ctx is cancelled. In-flight
// tasks are drained before it returns. Store failures are fatal.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started",
		zap.String("role", string(w.role)),
		zap.Strings("skills", w.skills))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("Worker stopped")
			return ctx.Err()
		case <-ticker.C:
			msgs, err := w.store.GetPending(ctx, w.id)
			if err != nil {
				if ctx.Err() != nil {
					w.wg.Wait()
					return ctx.Err()
				}
				return fmt.Errorf("worker %s: reading inbox: %w", w.id, err)
			}
			for _, msg := range msgs {
				if err := w.store.MarkProcessed(ctx, msg.ID); err != nil {
					if ctx.Err() != nil {
						w.wg.Wait()
						return ctx.Err()
					}
					return fmt.Errorf("worker %s: acknowledging message %d: %w", w.id, msg.ID, err)
				}
				switch msg.Type {
				case types.MessageTypeTask, types.MessageTypeSubTask, types.MessageTypeEnhancedTask:
					w.wg.Add(1)
					go func(m types.Message) {
						defer w.wg.Done()
						select {
						case w.sem <- struct{}{}:
							defer func() { <-w.sem }()
						case <-ctx.Done():
							return
						}
						w.handle(ctx, m)
					}(msg)
				default:
					w.logger.Debug("Ignoring message",
						zap.String("type", string(msg.Type)),
						zap.String("sender", msg.SenderID))
				}
			}
		}
	}
}

// handle executes one task message end to end and reports the outcome to
// the sender, carrying the original request id.
func (w *Worker) handle(ctx context.Context, msg types.Message) {
	start := time.Now()
	node := parseTaskNode(msg)

	result, ok := w.execute(ctx, node)
	result.TaskID = node.ID
	result.Seconds = time.Since(start).Seconds()

	mt := types.MessageTypeResponse
	if !ok {
		mt = types.MessageTypeError
	}

	payload, err := json.Marshal(result)
	if err != nil {
		w.logger.Error("Failed to encode result", zap.Error(err))
		payload = []byte(fmt.Sprintf(`{"task_id":%q,"content":"result encoding failed"}`, node.ID))
		mt = types.MessageTypeError
	}

	if _, err := w.store.Insert(ctx, w.id, msg.SenderID, mt, string(payload), msg.RequestID); err != nil {
		w.logger.Error("Failed to send result",
			zap.String("task_id", node.ID),
			zap.String("receiver", msg.SenderID),
			zap.Error(err))
		return
	}

	w.logger.Debug("Task finished",
		zap.String("task_id", node.ID),
		zap.String("outcome", string(mt)),
		zap.Float64("seconds", result.Seconds))
}

// execute runs the task and returns the result plus whether it succeeded.
func (w *Worker) execute(ctx context.Context, node *types.TaskNode) (*types.ExecutorResult, bool) {
	result := &types.ExecutorResult{TaskID: node.ID}

	content := sanitizeContent(node.Content)
	if content == "" {
		result.Content = "task rejected: empty content"
		return result, false
	}
	if len(content) > maxTaskBytes {
		result.Content = fmt.Sprintf("task rejected: content exceeds %d bytes (actual: %d)", maxTaskBytes, len(content))
		return result, false
	}

	system := RolePreamble(w.role) + "\n\n" + SecurityPreamble
	resp, err := w.gateway.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			llm.SystemMessage(system),
			llm.UserMessage(content),
		},
		Model:   w.model,
		Timeout: w.chatTimeout,
	})
	if err != nil {
		result.Content = fmt.Sprintf("LLM call failed: %v", err)
		return result, false
	}
	result.Content = resp.Content

	if w.runner != nil {
		if commands := ExtractCommands(resp.Content); len(commands) > 0 {
			transcript, timedOut := w.runCommands(ctx, commands)
			result.CommandOutput = transcript
			if timedOut {
				result.Content = "command execution timed out; partial output attached"
				return result, false
			}
		}
	}

	if w.writer != nil {
		if target, wants := SaveTarget(content); wants {
			path, err := w.writer.Write(target, extractFileBody(resp.Content))
			if err != nil {
				// A refused write is reported, not escalated: the response
				// explains what was not done and why.
				result.Content += fmt.Sprintf("\n\n[file %s not written: %v]", target, err)
			} else {
				result.FilesWritten = append(result.FilesWritten, path)
			}
		}
	}

	return result, true
}

// runCommands executes the extracted command lines in order, building a
// transcript. Blocked commands are recorded as refusals and skipped; a
// timeout aborts the remainder and reports true.
func (w *Worker) runCommands(ctx context.Context, commands []string) (string, bool) {
	var transcript strings.Builder
	for i, command := range commands {
		if i > 0 {
			transcript.WriteString("\n")
		}
		fmt.Fprintf(&transcript, "$ %s\n", command)

		res := w.runner.Run(ctx, command)
		switch {
		case res.Blocked:
			fmt.Fprintf(&transcript, "[refused: %s]\n", res.Reason)
		case res.TimedOut:
			transcript.WriteString(res.Output)
			transcript.WriteString("\n")
			return transcript.String(), true
		default:
			transcript.WriteString(res.Output)
			if res.Output != "" {
				transcript.WriteString("\n")
			}
			if res.ExitCode != 0 {
				fmt.Fprintf(&transcript, "[exit code %d]\n", res.ExitCode)
			}
		}
	}
	return transcript.String(), false
}

// parseTaskNode decodes the task payload. Plain-text content is wrapped in
// a bare node so direct messages still execute.
func parseTaskNode(msg types.Message) *types.TaskNode {
	var node types.TaskNode
	if err := json.Unmarshal([]byte(msg.Content), &node); err == nil && node.Content != "" {
		if node.RequestID == "" {
			node.RequestID = msg.RequestID
		}
		return &node
	}
	return &types.TaskNode{
		Content:   msg.Content,
		RequestID: msg.RequestID,
		Status:    types.TaskPending,
	}
}

// sanitizeContent trims the task text and drops control characters other
// than whitespace.
func sanitizeContent(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// extractFileBody picks the content a file save should persist: the first
// non-shell fenced block when present, otherwise the whole response.
func extractFileBody(output string) string {
	for _, block := range fencedBlockRe.FindAllStringSubmatch(output, -1) {
		lang := strings.ToLower(strings.TrimSpace(block[1]))
		switch lang {
		case "bash", "sh", "shell", "console", "zsh":
			continue
		}
		if body := strings.TrimSpace(block[2]); body != "" {
			return body + "\n"
		}
	}
	return output
}
