// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/hive/pkg/llm"
	"github.com/teradata-labs/hive/pkg/types"
)

// routedBackend answers each chat by matching the system prompt against its
// reply table. The four analysis prompts carry distinct key phrases, so one
// backend can script a whole decomposition.
type routedBackend struct {
	mu      sync.Mutex
	replies map[string]string
	fail    bool
	calls   int
}

func (b *routedBackend) Name() string                { return "scripted" }
func (b *routedBackend) Available(context.Context) bool { return true }

func (b *routedBackend) Models(context.Context) ([]string, error) {
	return []string{"test-model"}, nil
}

func (b *routedBackend) Chat(_ context.Context, msgs []llm.Message, _ string) (*llm.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.fail {
		return nil, errors.New("backend down")
	}
	system := ""
	if len(msgs) > 0 {
		system = msgs[0].Content
	}
	for key, reply := range b.replies {
		if strings.Contains(system, key) {
			return &llm.Response{Content: reply, Backend: "scripted"}, nil
		}
	}
	return &llm.Response{Content: "", Backend: "scripted"}, nil
}

func (b *routedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Reply table keys: one distinctive phrase per analysis prompt.
const (
	keyComplexity = "complexity_level"
	keyDependency = "dependency_rules"
	keySkills     = "primary_skills"
	keySubtasks   = "array of strings"
)

func newTestGateway(t *testing.T, b llm.Backend) *llm.Gateway {
	t.Helper()
	return llm.NewGateway(llm.GatewayConfig{
		Backends: []llm.Backend{b},
		Logger:   zap.NewNop(),
	})
}

func newTestDecomposer(t *testing.T, b llm.Backend, maxSubtasks int) *Decomposer {
	t.Helper()
	d, err := NewDecomposer(DecomposerConfig{
		Gateway:     newTestGateway(t, b),
		MaxSubtasks: maxSubtasks,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	return d
}

func TestNewDecomposerValidates(t *testing.T) {
	_, err := NewDecomposer(DecomposerConfig{})
	require.Error(t, err)
}

func TestDecomposeBuildsNodes(t *testing.T) {
	backend := &routedBackend{replies: map[string]string{
		keyComplexity: `{"complexity_level": "high", "estimated_minutes": 10, "resource_needs": ["database"]}`,
		keyDependency: `{"sequential_steps": ["gather", "report"], "parallel_groups": [], "dependency_rules": []}`,
		keySkills:     `{"primary_skills": ["python"], "tools_required": ["pandas"]}`,
		keySubtasks:   "```json\n[\"Gather the data\", \"Summarize the findings\"]\n```",
	}}
	d := newTestDecomposer(t, backend, 10)

	nodes := d.Decompose(context.Background(), "req-1", "Analyze the quarterly numbers")
	require.Len(t, nodes, 2)
	assert.Equal(t, 4, backend.callCount(), "one call per analysis question")

	first, second := nodes[0], nodes[1]
	assert.Equal(t, "task-1", first.ID)
	assert.Equal(t, "task-2", second.ID)
	assert.Equal(t, "Gather the data", first.Content)
	assert.Equal(t, "Summarize the findings", second.Content)
	assert.Equal(t, "req-1", first.RequestID)
	assert.Equal(t, types.CoordinatorID, first.ParentID)

	// High complexity lifts keyword-free content to HIGH.
	assert.Equal(t, types.PriorityHigh, first.Priority)
	assert.Equal(t, 0.75, first.Complexity)

	// Ten minutes spread over two subtasks.
	assert.Equal(t, 5*time.Minute, first.EstimatedDuration)
	assert.Equal(t, []string{"python", "pandas"}, first.RequiredSkills)

	// Sequential steps chain each node behind its predecessor.
	assert.Empty(t, first.Dependencies)
	assert.Equal(t, []string{"task-1"}, second.Dependencies)
}

func TestDecomposeFallsBackToSingleNode(t *testing.T) {
	backend := &routedBackend{fail: true}
	d := newTestDecomposer(t, backend, 10)

	nodes := d.Decompose(context.Background(), "req-2", "Summarize the meeting notes")
	require.Len(t, nodes, 1)
	assert.Equal(t, "task-1", nodes[0].ID)
	assert.Equal(t, "Summarize the meeting notes", nodes[0].Content)
	assert.Equal(t, types.PriorityLow, nodes[0].Priority)
	assert.Equal(t, defaultSubtaskDuration, nodes[0].EstimatedDuration)
	assert.Empty(t, nodes[0].Dependencies)
}

func TestDecomposeTruncatesOversizedSplit(t *testing.T) {
	backend := &routedBackend{replies: map[string]string{
		keySubtasks: `["one", "two", "three", "four", "five"]`,
	}}
	d := newTestDecomposer(t, backend, 3)

	nodes := d.Decompose(context.Background(), "req-3", "Do everything")
	require.Len(t, nodes, 3)
	assert.Equal(t, "three", nodes[2].Content)
}

func TestSubtasksHonorsLimit(t *testing.T) {
	backend := &routedBackend{replies: map[string]string{
		keySubtasks: `["a", "b", "c", "d"]`,
	}}
	d := newTestDecomposer(t, backend, 10)

	got := d.Subtasks(context.Background(), "split me", 2)
	assert.Equal(t, []string{"a", "b"}, got)

	backend.mu.Lock()
	backend.fail = true
	backend.mu.Unlock()
	got = d.Subtasks(context.Background(), "split me", 2)
	assert.Equal(t, []string{"split me"}, got, "failed split keeps the task whole")
}

func TestExtractJSONValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"fenced object", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"array in prose", "Here you go: [1, 2, 3]. Enjoy!", "[1, 2, 3]", true},
		{"bracket inside string", `{"s": "a ] b"}`, `{"s": "a ] b"}`, true},
		{"nothing", "no structured data here", "", false},
		{"unbalanced", `{"a": 1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONValue(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitTaskLines(t *testing.T) {
	raw := "1. First thing\n2) Second thing\nStep 3: Third thing\n- Fourth thing\n* Fifth thing\n\n"
	got := splitTaskLines(raw)
	assert.Equal(t, []string{
		"First thing", "Second thing", "Third thing", "Fourth thing", "Fifth thing",
	}, got)
}

func TestSubtasksFromJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{"strings", `["a", "b"]`, []string{"a", "b"}, false},
		{"objects", `[{"content": "a"}, "b"]`, []string{"a", "b"}, false},
		{"empty array", `[]`, nil, true},
		{"wrong item type", `[1, 2]`, nil, true},
		{"mixed invalid", `["a", 2]`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := subtasksFromJSON(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDerivePriority(t *testing.T) {
	tests := []struct {
		content    string
		complexity string
		want       types.Priority
	}{
		{"fix the login bug", "", types.PriorityCritical},
		{"urgent: rotate the keys", "", types.PriorityCritical},
		{"implement caching", "", types.PriorityMedium},
		{"summarize the findings", "", types.PriorityLow},
		{"summarize the findings", "high", types.PriorityHigh},
		{"summarize the findings", "medium", types.PriorityMedium},
		{"fix the login bug", "low", types.PriorityCritical},
		{"implement caching", "critical", types.PriorityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.content+"/"+tt.complexity, func(t *testing.T) {
			assert.Equal(t, tt.want, derivePriority(tt.content, tt.complexity))
		})
	}
}

func TestApplyDependenciesRules(t *testing.T) {
	nodes := []*types.TaskNode{
		{ID: "task-1"}, {ID: "task-2"}, {ID: "task-3"},
	}
	applyDependencies(nodes, dependencyReport{
		SequentialSteps: []string{"ignored when rules exist"},
		Rules: []dependencyRule{
			{Task: "task-3", DependsOn: []string{"task-1", "Task 2"}},
			{Task: "#2", DependsOn: []string{"1"}},
			{Task: "task-9", DependsOn: []string{"task-1"}},  // unknown target
			{Task: "task-1", DependsOn: []string{"task-1"}},  // self reference
			{Task: "task-3", DependsOn: []string{"task-42"}}, // unknown dep
		},
	})
	assert.Empty(t, nodes[0].Dependencies)
	assert.Equal(t, []string{"task-1"}, nodes[1].Dependencies)
	assert.Equal(t, []string{"task-1", "task-2"}, nodes[2].Dependencies)
}

func TestApplyDependenciesSequentialChain(t *testing.T) {
	nodes := []*types.TaskNode{{ID: "task-1"}, {ID: "task-2"}, {ID: "task-3"}}
	applyDependencies(nodes, dependencyReport{SequentialSteps: []string{"a", "b", "c"}})
	assert.Empty(t, nodes[0].Dependencies)
	assert.Equal(t, []string{"task-1"}, nodes[1].Dependencies)
	assert.Equal(t, []string{"task-2"}, nodes[2].Dependencies)
}

func TestApplyDependenciesIndependent(t *testing.T) {
	nodes := []*types.TaskNode{{ID: "task-1"}, {ID: "task-2"}}
	applyDependencies(nodes, dependencyReport{})
	assert.Empty(t, nodes[0].Dependencies)
	assert.Empty(t, nodes[1].Dependencies)
}
