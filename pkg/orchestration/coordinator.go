// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package orchestration contains the decision-making tier of the hive: the
// coordinator that decomposes and schedules requests, the sub-coordinators
// that manage worker groups, the dispatcher that bridges callers onto the
// message store, and the direct executor that short-circuits trivial
// requests. Every agent here follows the same discipline as pkg/agent
// workers: state is owned by a single Run loop and all cross-agent traffic
// goes through the store.
package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/hive/pkg/agent"
	"github.com/teradata-labs/hive/pkg/communication"
	"github.com/teradata-labs/hive/pkg/llm"
	"github.com/teradata-labs/hive/pkg/taskgraph"
	"github.com/teradata-labs/hive/pkg/types"
)

const (
	// FinalSuccessThreshold is the completed share at or above which a
	// request terminates with final-response instead of final-error.
	FinalSuccessThreshold = 0.8

	// DefaultTaskTimeout bounds tasks whose nodes carry no duration
	// estimate of their own.
	DefaultTaskTimeout = 5 * time.Minute

	// DefaultRetryWait is the base pause before re-dispatching a failed
	// task to a sibling group. The actual pause adds up to one more
	// DefaultRetryWait of jitter.
	DefaultRetryWait = 500 * time.Millisecond

	// DefaultMaxAttempts caps how many sibling groups one task is offered
	// to before its failure sticks.
	DefaultMaxAttempts = 3
)

// Coordinator is the root agent of the hive. It owns exactly one request at
// a time: decompose, schedule against the registry, fold results back into
// the task graph, and emit a single terminal message to the dispatcher.
// Further task messages queue behind the active request. All state is owned
// by the Run loop.
type Coordinator struct {
	store      *communication.Store
	gateway    *llm.Gateway
	registry   *agent.Registry
	decomposer *Decomposer
	direct     *DirectExecutor
	topology   types.Topology
	model      string

	pollInterval time.Duration
	maxAttempts  int
	retryWait    time.Duration
	taskTimeout  time.Duration
	logger       *zap.Logger

	graph        *taskgraph.Graph
	busy         bool
	requestID    string
	requestStart time.Time
	results      map[string]string // task id -> successful content
	backlog      []types.Message
}

// CoordinatorConfig configures a Coordinator. Store, Gateway, Registry and
// Decomposer are required.
type CoordinatorConfig struct {
	Store   *communication.Store
	Gateway *llm.Gateway

	// Registry tracks every agent the coordinator assigns to: workers in
	// the centralized and fully-connected topologies, sub-coordinators in
	// the hierarchical one.
	Registry *agent.Registry

	Decomposer *Decomposer

	// Direct short-circuits trivial requests when non-nil.
	Direct *DirectExecutor

	// Topology selects the assignment route. Zero selects centralized.
	Topology types.Topology

	// Model overrides the backend default for translation calls.
	Model string

	// PollInterval is the inbox poll cadence. Zero selects the agent
	// default.
	PollInterval time.Duration

	// MaxAttempts caps assignments per task across sibling groups. Zero
	// derives min(DefaultMaxAttempts, number of sub-coordinators).
	MaxAttempts int

	// RetryWait is the base pause before a sibling retry. Zero selects
	// DefaultRetryWait.
	RetryWait time.Duration

	// TaskTimeout bounds tasks without duration estimates. Zero selects
	// DefaultTaskTimeout.
	TaskTimeout time.Duration

	Logger *zap.Logger
}

// NewCoordinator validates cfg and returns a ready Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestration: coordinator requires a store")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("orchestration: coordinator requires a gateway")
	}
	if cfg.Registry == nil || cfg.Registry.Len() == 0 {
		return nil, errors.New("orchestration: coordinator requires registered agents")
	}
	if cfg.Decomposer == nil {
		return nil, errors.New("orchestration: coordinator requires a decomposer")
	}
	if cfg.Topology == "" {
		cfg.Topology = types.TopologyCentralized
	}
	if !cfg.Topology.Valid() {
		return nil, fmt.Errorf("orchestration: unknown topology %q", cfg.Topology)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = agent.DefaultPollInterval
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = DefaultRetryWait
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coordinator{
		store:        cfg.Store,
		gateway:      cfg.Gateway,
		registry:     cfg.Registry,
		decomposer:   cfg.Decomposer,
		direct:       cfg.Direct,
		topology:     cfg.Topology,
		model:        cfg.Model,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		retryWait:    cfg.RetryWait,
		taskTimeout:  cfg.TaskTimeout,
		logger:       cfg.Logger.With(zap.String("agent_id", types.CoordinatorID)),
		graph:        taskgraph.New(),
	}, nil
}

// Run polls the coordinator inbox until ctx is canceled. Store errors are
// fatal; everything else degrades per task or per request.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("Coordinator started",
		zap.String("topology", string(c.topology)),
		zap.Int("agents", c.registry.Len()))

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Coordinator stopped")
			return ctx.Err()
		case <-ticker.C:
			msgs, err := c.store.GetPending(ctx, types.CoordinatorID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("coordinator: reading inbox: %w", err)
			}
			for _, msg := range msgs {
				if err := c.store.MarkProcessed(ctx, msg.ID); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return fmt.Errorf("coordinator: acknowledging message %d: %w", msg.ID, err)
				}
				if err := c.handle(ctx, msg); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return err
				}
			}
			if err := c.sweepBudgets(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, msg types.Message) error {
	switch msg.Type {
	case types.MessageTypeTask:
		if c.busy {
			c.logger.Info("Request queued behind the active one",
				zap.String("request_id", msg.RequestID))
			c.backlog = append(c.backlog, msg)
			return nil
		}
		return c.startRequest(ctx, msg)
	case types.MessageTypeResponse:
		return c.handleExecutorResult(ctx, msg, true)
	case types.MessageTypeError:
		return c.handleExecutorResult(ctx, msg, false)
	case types.MessageTypeGroupResponse:
		return c.handleGroupResult(ctx, msg)
	default:
		c.logger.Debug("Ignoring message",
			zap.String("type", string(msg.Type)),
			zap.String("sender", msg.SenderID))
		return nil
	}
}

// startRequest begins work on one task message: translate, try the direct
// path, decompose, schedule.
func (c *Coordinator) startRequest(ctx context.Context, msg types.Message) error {
	c.busy = true
	c.requestID = msg.RequestID
	c.requestStart = time.Now()
	c.results = make(map[string]string)
	c.graph.Clear()

	task := c.gateway.TranslateIfGerman(ctx, msg.Content, c.model)
	c.logger.Info("Request accepted",
		zap.String("request_id", c.requestID),
		zap.Int("task_bytes", len(task)))

	if c.direct != nil {
		if content, matched, err := c.direct.Execute(task); matched {
			return c.finishDirect(ctx, content, err)
		}
	}

	for _, node := range c.decomposer.Decompose(ctx, c.requestID, task) {
		if err := c.graph.Add(node); err != nil {
			// A node the graph rejects still deserves to run; retry it
			// without its ordering constraints.
			c.logger.Warn("Node breaks the dependency graph, adding it unordered",
				zap.String("task_id", node.ID), zap.Error(err))
			node.Dependencies = nil
			if err := c.graph.Add(node); err != nil {
				c.logger.Warn("Dropping node", zap.String("task_id", node.ID), zap.Error(err))
			}
		}
	}
	if c.graph.Len() == 0 {
		if err := c.graph.Add(&types.TaskNode{
			ID:        "task-1",
			Content:   task,
			Priority:  types.PriorityLow,
			RequestID: c.requestID,
			ParentID:  types.CoordinatorID,
		}); err != nil {
			return fmt.Errorf("coordinator: seeding fallback node: %w", err)
		}
	}

	if err := c.schedule(ctx); err != nil {
		return err
	}
	return c.maybeFinish(ctx)
}

// schedule assigns every ready node it can. Nodes without a current
// assignee stay pending until load frees up; when nothing is in flight to
// free anything, they are abandoned so the request can settle.
func (c *Coordinator) schedule(ctx context.Context) error {
	assigned := 0
	for _, node := range c.graph.Ready() {
		assignee, err := c.pickAssignee(&node)
		if err != nil {
			c.logger.Debug("No assignee for task",
				zap.String("task_id", node.ID),
				zap.Strings("tried", node.TriedAgents))
			continue
		}
		if err := c.assign(ctx, node, assignee); err != nil {
			return err
		}
		assigned++
	}

	if assigned == 0 && c.graph.ActiveCount() == 0 && !c.graph.Settled() {
		// Nothing in flight can free an agent, so unassignable nodes are
		// stuck for good.
		for _, node := range c.graph.Ready() {
			c.abandon(node.ID, "no eligible assignee")
		}
		c.failBlocked()
	}
	return nil
}

func (c *Coordinator) pickAssignee(node *types.TaskNode) (string, error) {
	candidates := c.registry.Snapshot()
	if c.topology.UsesSubCoordinators() {
		return pickSubCoordinator(node, candidates, node.TriedAgents)
	}
	return pickWorker(node, candidates, node.TriedAgents)
}

func (c *Coordinator) assign(ctx context.Context, node types.TaskNode, assignee string) error {
	payload, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("coordinator: encoding task %s: %w", node.ID, err)
	}
	if _, err := c.store.Insert(ctx, types.CoordinatorID, assignee, c.topology.AssignmentType(), string(payload), c.requestID); err != nil {
		return fmt.Errorf("coordinator: assigning task %s: %w", node.ID, err)
	}
	if err := c.graph.MarkAssigned(node.ID, assignee); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	if err := c.graph.MarkInProgress(node.ID); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	c.registry.IncrementLoad(assignee)
	c.logger.Info("Task assigned",
		zap.String("task_id", node.ID),
		zap.String("assignee", assignee),
		zap.String("priority", node.Priority.String()))
	return nil
}

func (c *Coordinator) handleExecutorResult(ctx context.Context, msg types.Message, success bool) error {
	var res types.ExecutorResult
	if err := json.Unmarshal([]byte(msg.Content), &res); err != nil || res.TaskID == "" {
		c.logger.Warn("Undecodable executor result dropped",
			zap.String("sender", msg.SenderID), zap.Error(err))
		return nil
	}
	dur := time.Duration(res.Seconds * float64(time.Second))
	return c.applyResult(ctx, msg, res.TaskID, res.Content, dur, success, false)
}

func (c *Coordinator) handleGroupResult(ctx context.Context, msg types.Message) error {
	var gr types.GroupResult
	if err := json.Unmarshal([]byte(msg.Content), &gr); err != nil || gr.TaskID == "" {
		c.logger.Warn("Undecodable group result dropped",
			zap.String("sender", msg.SenderID), zap.Error(err))
		return nil
	}
	if len(gr.Workers) > 0 {
		available := 0
		for _, p := range gr.Workers {
			if p.CurrentLoad < agent.DefaultMaxLoad && p.Reliability >= agent.DefaultMinReliability {
				available++
			}
		}
		c.registry.SetGroupSize(msg.SenderID, len(gr.Workers), available)
	}
	return c.applyResult(ctx, msg, gr.TaskID, gr.Content, 0, gr.Kind == "response", true)
}

// applyResult folds one result into the graph. Results for other requests,
// settled tasks, or from superseded assignees are dropped; the transitions
// behind that are one-way, so a replayed message can never double-count.
func (c *Coordinator) applyResult(ctx context.Context, msg types.Message, taskID, content string, dur time.Duration, success, fromSub bool) error {
	if !c.busy || msg.RequestID != c.requestID {
		c.logger.Debug("Stale result dropped",
			zap.String("task_id", taskID),
			zap.String("request_id", msg.RequestID))
		return nil
	}
	assignee, active := c.graph.Assignee(taskID)
	if !active {
		c.logger.Debug("Result for settled task dropped", zap.String("task_id", taskID))
		return nil
	}
	if assignee != msg.SenderID {
		c.logger.Warn("Result from superseded assignee dropped",
			zap.String("task_id", taskID),
			zap.String("sender", msg.SenderID),
			zap.String("assignee", assignee))
		return nil
	}

	node, _ := c.graph.Node(taskID)
	if dur <= 0 && !node.StartedAt.IsZero() {
		dur = time.Since(node.StartedAt)
	}

	if success {
		if done, err := c.graph.MarkCompleted(taskID); err != nil || !done {
			c.logger.Warn("Completion rejected", zap.String("task_id", taskID), zap.Error(err))
			return nil
		}
		c.registry.DecrementLoad(msg.SenderID)
		c.registry.RecordSuccess(msg.SenderID, dur)
		c.results[taskID] = content
		c.logger.Info("Task completed",
			zap.String("task_id", taskID),
			zap.String("by", msg.SenderID))
	} else {
		if done, err := c.graph.MarkFailed(taskID, firstLine(content)); err != nil || !done {
			c.logger.Warn("Failure rejected", zap.String("task_id", taskID), zap.Error(err))
			return nil
		}
		c.registry.DecrementLoad(msg.SenderID)
		c.registry.RecordFailure(msg.SenderID)
		c.logger.Warn("Task failed",
			zap.String("task_id", taskID),
			zap.String("by", msg.SenderID),
			zap.String("error", firstLine(content)))
		c.retryOrCascade(ctx, taskID, fromSub)
	}

	if err := c.schedule(ctx); err != nil {
		return err
	}
	return c.maybeFinish(ctx)
}

// retryOrCascade re-queues a failed task for a sibling group when the
// failure came from a sub-coordinator and attempts remain. Otherwise the
// failure sticks and everything depending on the task goes down with it.
func (c *Coordinator) retryOrCascade(ctx context.Context, taskID string, fromSub bool) {
	if fromSub {
		ok, err := c.graph.ResetForRetry(taskID, c.retryBudget())
		if err != nil {
			c.logger.Warn("Retry rejected", zap.String("task_id", taskID), zap.Error(err))
		} else if ok {
			c.logger.Info("Retrying task with a sibling group", zap.String("task_id", taskID))
			sleepCtx(ctx, c.retryDelay())
			return
		}
	}
	c.failBlocked()
}

// retryBudget is the number of additional assignments a task gets after its
// first, i.e. attempts minus one.
func (c *Coordinator) retryBudget() int {
	attempts := c.maxAttempts
	if attempts <= 0 {
		subs := 0
		for _, p := range c.registry.Snapshot() {
			if p.Role == types.RoleSubCoordinator {
				subs++
			}
		}
		attempts = min(DefaultMaxAttempts, subs)
	}
	if attempts < 1 {
		attempts = 1
	}
	return attempts - 1
}

func (c *Coordinator) retryDelay() time.Duration {
	return c.retryWait + rand.N(c.retryWait)
}

// failBlocked abandons every PENDING node that waits on a failed or unknown
// dependency, transitively.
func (c *Coordinator) failBlocked() {
	for {
		progressed := false
		for _, n := range c.graph.Nodes() {
			if n.Status != types.TaskPending {
				continue
			}
			for _, dep := range n.Dependencies {
				depNode, known := c.graph.Node(dep)
				if !known || depNode.Status == types.TaskFailed {
					c.abandon(n.ID, fmt.Sprintf("dependency %s failed", dep))
					progressed = true
					break
				}
			}
		}
		if !progressed {
			return
		}
	}
}

func (c *Coordinator) abandon(id, reason string) {
	if err := c.graph.Abandon(id, reason); err != nil {
		c.logger.Warn("Abandon rejected", zap.String("task_id", id), zap.Error(err))
		return
	}
	c.logger.Warn("Task abandoned", zap.String("task_id", id), zap.String("reason", reason))
}

// sweepBudgets fails every in-flight task that exceeded its budget. The
// assignee's late result, if it ever arrives, is dropped as superseded.
func (c *Coordinator) sweepBudgets(ctx context.Context) error {
	if !c.busy {
		return nil
	}
	var expired []types.TaskNode
	for _, n := range c.graph.Nodes() {
		if n.Status != types.TaskInProgress {
			continue
		}
		budget := n.Budget()
		if budget <= 0 {
			budget = c.taskTimeout
		}
		if time.Since(n.StartedAt) > budget {
			expired = append(expired, n)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	for _, n := range expired {
		assignee, active := c.graph.Assignee(n.ID)
		if !active {
			continue
		}
		if done, err := c.graph.MarkFailed(n.ID, "task budget exceeded"); err != nil || !done {
			continue
		}
		c.registry.DecrementLoad(assignee)
		c.registry.RecordFailure(assignee)
		c.logger.Warn("Task budget exceeded",
			zap.String("task_id", n.ID),
			zap.String("assignee", assignee),
			zap.Duration("started_ago", time.Since(n.StartedAt)))
		p, _ := c.registry.Get(assignee)
		c.retryOrCascade(ctx, n.ID, p.Role == types.RoleSubCoordinator)
	}

	if err := c.schedule(ctx); err != nil {
		return err
	}
	return c.maybeFinish(ctx)
}

// maybeFinish emits the terminal message once every node has settled.
func (c *Coordinator) maybeFinish(ctx context.Context) error {
	if !c.busy || c.graph.Len() == 0 || !c.graph.Settled() {
		return nil
	}

	rate := c.graph.SuccessRate()
	var failed []types.FailedTask
	for _, n := range c.graph.FailedNodes() {
		failed = append(failed, types.FailedTask{TaskID: n.ID, Error: n.LastError})
	}
	summary := types.RequestSummary{
		RequestID:      c.requestID,
		TotalTasks:     c.graph.Len(),
		CompletedTasks: c.graph.CompletedCount(),
		FailedTasks:    failed,
		SuccessRate:    rate,
		TotalSeconds:   time.Since(c.requestStart).Seconds(),
		Workers:        c.registry.Snapshot(),
	}

	mt := types.MessageTypeFinalResponse
	var content string
	if rate >= FinalSuccessThreshold {
		content = c.joinResults()
	} else {
		mt = types.MessageTypeFinalError
		var b strings.Builder
		fmt.Fprintf(&b, "completed %d of %d tasks", summary.CompletedTasks, summary.TotalTasks)
		for _, f := range failed {
			fmt.Fprintf(&b, "\n%s: %s", f.TaskID, f.Error)
		}
		content = b.String()
	}
	return c.finishRequest(ctx, mt, content, summary)
}

func (c *Coordinator) joinResults() string {
	var parts []string
	for _, n := range c.graph.Nodes() {
		if n.Status != types.TaskCompleted {
			continue
		}
		if r := c.results[n.ID]; r != "" {
			parts = append(parts, r)
		}
	}
	return strings.Join(parts, "\n\n")
}

// finishDirect terminates a request served by the direct executor.
func (c *Coordinator) finishDirect(ctx context.Context, content string, execErr error) error {
	summary := types.RequestSummary{
		RequestID:    c.requestID,
		TotalTasks:   1,
		TotalSeconds: time.Since(c.requestStart).Seconds(),
	}
	mt := types.MessageTypeFinalResponse
	if execErr != nil {
		mt = types.MessageTypeFinalError
		content = fmt.Sprintf("direct execution failed: %v", execErr)
		summary.FailedTasks = []types.FailedTask{{TaskID: "task-1", Error: execErr.Error()}}
	} else {
		summary.CompletedTasks = 1
		summary.SuccessRate = 1
	}
	return c.finishRequest(ctx, mt, content, summary)
}

// finishRequest emits the terminal message, clears per-request state and
// starts the next queued request, if any.
func (c *Coordinator) finishRequest(ctx context.Context, mt types.MessageType, content string, summary types.RequestSummary) error {
	payload, err := json.Marshal(types.FinalResult{Content: content, Summary: summary})
	if err != nil {
		return fmt.Errorf("coordinator: encoding final result: %w", err)
	}
	if _, err := c.store.Insert(ctx, types.CoordinatorID, types.DispatcherID, mt, string(payload), c.requestID); err != nil {
		return fmt.Errorf("coordinator: finishing request %s: %w", c.requestID, err)
	}
	c.logger.Info("Request finished",
		zap.String("request_id", c.requestID),
		zap.String("outcome", string(mt)),
		zap.Float64("success_rate", summary.SuccessRate),
		zap.Float64("total_seconds", summary.TotalSeconds))

	c.graph.Clear()
	c.results = nil
	c.busy = false
	c.requestID = ""

	if len(c.backlog) > 0 {
		next := c.backlog[0]
		c.backlog = c.backlog[1:]
		return c.startRequest(ctx, next)
	}
	return nil
}

// firstLine truncates an error payload to something a summary can carry.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 200
	if len(s) > max {
		s = s[:max]
	}
	return strings.TrimSpace(s)
}
