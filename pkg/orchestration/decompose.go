// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/teradata-labs/hive/pkg/llm"
	"github.com/teradata-labs/hive/pkg/types"
)

const (
	// DefaultMaxSubtasks bounds a decomposition when the caller does not
	// derive a tighter bound from worker capacity.
	DefaultMaxSubtasks = 10

	// DefaultAnalysisConcurrency caps how many analysis calls one
	// decomposer runs against the gateway at a time.
	DefaultAnalysisConcurrency = 3

	defaultSubtaskDuration = time.Minute
	minSubtaskDuration     = 30 * time.Second
)

const complexityPrompt = `You estimate how hard a task is. Respond with JSON only, no prose:
{"complexity_level": "low" | "medium" | "high" | "critical", "estimated_minutes": <total minutes as a number>, "resource_needs": ["<resource>", ...]}`

const dependencyPrompt = `You find ordering constraints between the parts of a task. Respond with JSON only, no prose:
{"sequential_steps": ["<step>", ...], "parallel_groups": [["<step>", ...], ...], "dependency_rules": [{"task": "task-2", "depends_on": ["task-1"]}, ...]}
Refer to the Nth subtask as "task-N". Leave lists empty when the parts are independent.`

const skillsPrompt = `You identify what a task needs from whoever executes it. Respond with JSON only, no prose:
{"primary_skills": ["<skill>", ...], "tools_required": ["<tool>", ...]}`

const subtasksPromptFmt = `You split a task into at most %d self-contained subtasks that different people could execute without talking to each other. Respond with a JSON array of strings only, no prose. Every subtask must carry enough context to run on its own.`

// subtaskListSchema accepts the shapes models actually produce for a split:
// an array of strings, or of objects carrying a content field.
const subtaskListSchema = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"anyOf": [
			{"type": "string", "minLength": 1},
			{
				"type": "object",
				"properties": {"content": {"type": "string", "minLength": 1}},
				"required": ["content"]
			}
		]
	}
}`

// Decomposer turns one request into a bounded set of task nodes by asking
// the LLM four questions: complexity, ordering constraints, required skills,
// and the subtask split itself. Analysis failures degrade instead of
// aborting; the floor is a single node carrying the original task.
type Decomposer struct {
	gateway     *llm.Gateway
	model       string
	maxSubtasks int
	chatTimeout time.Duration
	sequential  bool
	concurrency int
	logger      *zap.Logger
}

// DecomposerConfig configures a Decomposer. Gateway is required.
type DecomposerConfig struct {
	Gateway *llm.Gateway

	// Model overrides the backend default model when non-empty.
	Model string

	// MaxSubtasks bounds the split. Zero selects DefaultMaxSubtasks.
	MaxSubtasks int

	// ChatTimeout is the per-call timeout for each analysis question.
	// Zero keeps the gateway's default.
	ChatTimeout time.Duration

	// Sequential runs the four analysis calls one after another instead of
	// fanned out. Useful against single-threaded local backends.
	Sequential bool

	Logger *zap.Logger
}

// NewDecomposer validates cfg and returns a ready Decomposer.
func NewDecomposer(cfg DecomposerConfig) (*Decomposer, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("orchestration: decomposer requires a gateway")
	}
	if cfg.MaxSubtasks <= 0 {
		cfg.MaxSubtasks = DefaultMaxSubtasks
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Decomposer{
		gateway:     cfg.Gateway,
		model:       cfg.Model,
		maxSubtasks: cfg.MaxSubtasks,
		chatTimeout: cfg.ChatTimeout,
		sequential:  cfg.Sequential,
		concurrency: DefaultAnalysisConcurrency,
		logger:      cfg.Logger,
	}, nil
}

type complexityReport struct {
	ComplexityLevel  string   `json:"complexity_level"`
	EstimatedMinutes float64  `json:"estimated_minutes"`
	ResourceNeeds    []string `json:"resource_needs"`
}

type dependencyRule struct {
	Task      string   `json:"task"`
	DependsOn []string `json:"depends_on"`
}

type dependencyReport struct {
	SequentialSteps []string         `json:"sequential_steps"`
	ParallelGroups  [][]string       `json:"parallel_groups"`
	Rules           []dependencyRule `json:"dependency_rules"`
}

type skillsReport struct {
	PrimarySkills []string `json:"primary_skills"`
	ToolsRequired []string `json:"tools_required"`
}

// Decompose analyzes task and returns the nodes to schedule under requestID.
// It never fails: an analysis that errors or parses to nothing falls back to
// a sensible default, bottoming out at one node with the original content.
func (d *Decomposer) Decompose(ctx context.Context, requestID, task string) []*types.TaskNode {
	prompts := []string{
		complexityPrompt,
		dependencyPrompt,
		skillsPrompt,
		fmt.Sprintf(subtasksPromptFmt, d.maxSubtasks),
	}
	raw := d.analyzeAll(ctx, prompts, task)

	var complexity complexityReport
	if err := decodeReport(raw[0], &complexity); err != nil {
		d.logger.Debug("Complexity analysis unusable", zap.Error(err))
	}
	var deps dependencyReport
	if err := decodeReport(raw[1], &deps); err != nil {
		d.logger.Debug("Dependency analysis unusable", zap.Error(err))
	}
	var skills skillsReport
	if err := decodeReport(raw[2], &skills); err != nil {
		d.logger.Debug("Skill analysis unusable", zap.Error(err))
	}

	subtasks := parseSubtaskList(raw[3])
	if len(subtasks) == 0 {
		// The split is the one analysis without a usable default: schedule
		// the original task as a single node.
		d.logger.Info("Subtask split unusable, keeping task whole",
			zap.String("request_id", requestID))
		subtasks = []string{task}
	}
	if len(subtasks) > d.maxSubtasks {
		d.logger.Debug("Truncating oversized split",
			zap.Int("got", len(subtasks)), zap.Int("max", d.maxSubtasks))
		subtasks = subtasks[:d.maxSubtasks]
	}

	nodes := buildNodes(requestID, subtasks, complexity, skills)
	applyDependencies(nodes, deps)
	return nodes
}

// Subtasks runs only the split question, for callers that bring their own
// complexity and skill context. The same degradation rules apply: the result
// is never empty and never longer than limit.
func (d *Decomposer) Subtasks(ctx context.Context, task string, limit int) []string {
	if limit <= 0 || limit > d.maxSubtasks {
		limit = d.maxSubtasks
	}
	raw := d.analyze(ctx, fmt.Sprintf(subtasksPromptFmt, limit), task)
	subtasks := parseSubtaskList(raw)
	if len(subtasks) == 0 {
		subtasks = []string{task}
	}
	if len(subtasks) > limit {
		subtasks = subtasks[:limit]
	}
	return subtasks
}

// analyzeAll runs the analysis prompts against the gateway, fanned out
// unless the decomposer is sequential. A failed call yields an empty string
// in its slot.
func (d *Decomposer) analyzeAll(ctx context.Context, prompts []string, task string) []string {
	out := make([]string, len(prompts))
	if d.sequential {
		for i, prompt := range prompts {
			out[i] = d.analyze(ctx, prompt, task)
		}
		return out
	}

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for i, prompt := range prompts {
		wg.Add(1)
		go func(i int, prompt string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			out[i] = d.analyze(ctx, prompt, task)
		}(i, prompt)
	}
	wg.Wait()
	return out
}

func (d *Decomposer) analyze(ctx context.Context, prompt, task string) string {
	resp, err := d.gateway.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			llm.SystemMessage(prompt),
			llm.UserMessage(task),
		},
		Model:   d.model,
		Timeout: d.chatTimeout,
	})
	if err != nil {
		d.logger.Warn("Analysis call failed", zap.Error(err))
		return ""
	}
	return resp.Content
}

func decodeReport(raw string, into any) error {
	doc, ok := extractJSONValue(raw)
	if !ok {
		return fmt.Errorf("no JSON value in %d bytes of output", len(raw))
	}
	return json.Unmarshal([]byte(doc), into)
}

// parseSubtaskList extracts the split from raw LLM output: a schema-valid
// JSON array when one is present, otherwise one subtask per plain line with
// numbering and bullets stripped.
func parseSubtaskList(raw string) []string {
	if doc, ok := extractJSONValue(raw); ok {
		if items, err := subtasksFromJSON(doc); err == nil {
			return items
		}
	}
	return splitTaskLines(raw)
}

func subtasksFromJSON(doc string) ([]string, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(subtaskListSchema),
		gojsonschema.NewStringLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("validate subtask list: %w", err)
	}
	if !result.Valid() {
		var issues []string
		for _, e := range result.Errors() {
			issues = append(issues, e.String())
		}
		return nil, fmt.Errorf("subtask list rejected: %s", strings.Join(issues, "; "))
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal([]byte(doc), &rawItems); err != nil {
		return nil, err
	}
	items := make([]string, 0, len(rawItems))
	for _, r := range rawItems {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
			continue
		}
		var obj struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(r, &obj); err == nil {
			if c := strings.TrimSpace(obj.Content); c != "" {
				items = append(items, c)
			}
		}
	}
	if len(items) == 0 {
		return nil, errors.New("subtask list is empty")
	}
	return items, nil
}

// extractJSONValue returns the first balanced JSON array or object in s,
// tolerating markdown fences and surrounding prose.
func extractJSONValue(s string) (string, bool) {
	s = stripFences(s)
	for i := 0; i < len(s); i++ {
		if s[i] != '[' && s[i] != '{' {
			continue
		}
		end := balancedEnd(s, i)
		if end < 0 {
			continue
		}
		candidate := s[i : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

// stripFences unwraps the first fenced block when the output is wrapped in
// markdown, dropping the language tag line.
func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start == -1 {
		return s
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		return rest[:end]
	}
	return rest
}

// balancedEnd returns the index of the bracket that closes the JSON value
// opening at start, or -1. Brackets inside JSON strings do not count.
func balancedEnd(s string, start int) int {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			stack = append(stack, c)
		case ']':
			if len(stack) == 0 || stack[len(stack)-1] != '[' {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		case '}':
			if len(stack) == 0 || stack[len(stack)-1] != '{' {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

var taskLinePrefixRe = regexp.MustCompile(`(?i)^\s*(?:step\s+\d+[:.)]?|\d+\s*[.):]|[-*•])\s*`)

// splitTaskLines is the lenient fallback: one subtask per non-empty line.
func splitTaskLines(raw string) []string {
	var items []string
	for _, line := range strings.Split(stripFences(raw), "\n") {
		line = taskLinePrefixRe.ReplaceAllString(line, "")
		line = strings.Trim(line, " \t\"'`,")
		switch line {
		case "", "[", "]", "{", "}":
			continue
		}
		items = append(items, line)
	}
	return items
}

func buildNodes(requestID string, subtasks []string, complexity complexityReport, skills skillsReport) []*types.TaskNode {
	perNode := defaultSubtaskDuration
	if complexity.EstimatedMinutes > 0 {
		total := time.Duration(complexity.EstimatedMinutes * float64(time.Minute))
		perNode = total / time.Duration(len(subtasks))
		if perNode < minSubtaskDuration {
			perNode = minSubtaskDuration
		}
	}

	var required []string
	required = append(required, skills.PrimarySkills...)
	required = append(required, skills.ToolsRequired...)

	nodes := make([]*types.TaskNode, len(subtasks))
	for i, content := range subtasks {
		nodes[i] = &types.TaskNode{
			ID:                fmt.Sprintf("task-%d", i+1),
			Content:           content,
			Priority:          derivePriority(content, complexity.ComplexityLevel),
			EstimatedDuration: perNode,
			RequiredSkills:    append([]string(nil), required...),
			RequestID:         requestID,
			ParentID:          types.CoordinatorID,
			Complexity:        complexityScore(complexity.ComplexityLevel),
		}
	}
	return nodes
}

// Priority keywords checked against subtask content. The complexity level
// can only raise the derived priority, never lower it.
var (
	criticalKeywords = []string{"critical", "urgent", "error", "fix", "security"}
	mediumKeywords   = []string{"implement", "create", "build", "develop"}
)

func derivePriority(content, complexityLevel string) types.Priority {
	p := types.PriorityLow
	lower := strings.ToLower(content)
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			p = types.PriorityCritical
			break
		}
	}
	if p < types.PriorityCritical {
		for _, kw := range mediumKeywords {
			if strings.Contains(lower, kw) {
				p = types.PriorityMedium
				break
			}
		}
	}
	if cp := types.ParsePriority(complexityLevel); cp > p {
		p = cp
	}
	return p
}

func complexityScore(level string) float64 {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "low":
		return 0.25
	case "medium":
		return 0.5
	case "high":
		return 0.75
	case "critical":
		return 1.0
	default:
		return 0
	}
}

// applyDependencies wires the ordering analysis into the nodes. Explicit
// dependency rules win; otherwise sequential steps chain every node behind
// its predecessor; otherwise the nodes stay independent.
func applyDependencies(nodes []*types.TaskNode, deps dependencyReport) {
	if len(nodes) < 2 {
		return
	}
	if len(deps.Rules) > 0 {
		index := make(map[string]*types.TaskNode, len(nodes))
		for i, n := range nodes {
			index[strconv.Itoa(i+1)] = n
		}
		for _, rule := range deps.Rules {
			target, ok := index[normalizeTaskRef(rule.Task)]
			if !ok {
				continue
			}
			for _, ref := range rule.DependsOn {
				dep, ok := index[normalizeTaskRef(ref)]
				if !ok || dep.ID == target.ID {
					continue
				}
				if !slices.Contains(target.Dependencies, dep.ID) {
					target.Dependencies = append(target.Dependencies, dep.ID)
				}
			}
		}
		return
	}
	if len(deps.SequentialSteps) > 0 {
		for i := 1; i < len(nodes); i++ {
			nodes[i].Dependencies = []string{nodes[i-1].ID}
		}
	}
}

// normalizeTaskRef maps "task-2", "Task 2", "#2" and "2" to the key "2".
func normalizeTaskRef(ref string) string {
	ref = strings.ToLower(strings.TrimSpace(ref))
	ref = strings.TrimPrefix(ref, "#")
	if rest, ok := strings.CutPrefix(ref, "task"); ok {
		ref = strings.TrimLeft(rest, " -_")
	}
	return ref
}
