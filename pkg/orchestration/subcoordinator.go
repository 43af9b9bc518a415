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
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/hive/pkg/agent"
	"github.com/teradata-labs/hive/pkg/communication"
	"github.com/teradata-labs/hive/pkg/llm"
	"github.com/teradata-labs/hive/pkg/types"
)

const (
	// SubGroupSuccessThreshold is the completed share at or above which a
	// group reports success to its parent.
	SubGroupSuccessThreshold = 0.7

	// DefaultGroupRetryWait is how long the availability cascade waits
	// before taking its second look at the group.
	DefaultGroupRetryWait = 2 * time.Second
)

// SubCoordinator manages one group of workers in the hierarchical topology.
// It splits each assigned task node across the group, tracks the member
// results, and reports a single aggregated group-response to its parent.
// All state is owned by the Run loop; nothing here is safe for concurrent
// use.
type SubCoordinator struct {
	id           string
	store        *communication.Store
	decomposer   *Decomposer
	registry     *agent.Registry
	groupSize    int
	pollInterval time.Duration
	retryWait    time.Duration
	logger       *zap.Logger

	groups       map[string]*workerGroup // parent task id -> in-flight group
	subtaskOwner map[string]string       // subtask id -> parent task id
}

// SubCoordinatorConfig configures a SubCoordinator. ID, Store, Gateway and a
// non-empty Registry are required.
type SubCoordinatorConfig struct {
	// ID is this sub-coordinator's inbox id, conventionally
	// types.SubCoordinatorID(n).
	ID string

	Store   *communication.Store
	Gateway *llm.Gateway

	// Registry tracks the workers of this group and must be pre-registered
	// with every member.
	Registry *agent.Registry

	// Model overrides the backend default model for decomposition calls.
	Model string

	// GroupSize caps how many subtasks one assignment splits into. Zero
	// selects the registry size.
	GroupSize int

	// PollInterval is the inbox poll cadence. Zero selects the agent
	// default.
	PollInterval time.Duration

	// ChatTimeout bounds each decomposition call. Zero keeps the gateway
	// default.
	ChatTimeout time.Duration

	// RetryWait is the availability cascade's sleep before rechecking the
	// group. Zero selects DefaultGroupRetryWait.
	RetryWait time.Duration

	Logger *zap.Logger
}

// NewSubCoordinator validates cfg and returns a ready SubCoordinator.
func NewSubCoordinator(cfg SubCoordinatorConfig) (*SubCoordinator, error) {
	if cfg.ID == "" {
		return nil, errors.New("orchestration: sub-coordinator requires an id")
	}
	if cfg.Store == nil {
		return nil, errors.New("orchestration: sub-coordinator requires a store")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("orchestration: sub-coordinator requires a gateway")
	}
	if cfg.Registry == nil || cfg.Registry.Len() == 0 {
		return nil, errors.New("orchestration: sub-coordinator requires registered workers")
	}
	if cfg.GroupSize <= 0 {
		cfg.GroupSize = cfg.Registry.Len()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = agent.DefaultPollInterval
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = DefaultGroupRetryWait
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	dec, err := NewDecomposer(DecomposerConfig{
		Gateway:     cfg.Gateway,
		Model:       cfg.Model,
		MaxSubtasks: cfg.GroupSize,
		ChatTimeout: cfg.ChatTimeout,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &SubCoordinator{
		id:           cfg.ID,
		store:        cfg.Store,
		decomposer:   dec,
		registry:     cfg.Registry,
		groupSize:    cfg.GroupSize,
		pollInterval: cfg.PollInterval,
		retryWait:    cfg.RetryWait,
		logger:       cfg.Logger.With(zap.String("agent_id", cfg.ID)),
		groups:       make(map[string]*workerGroup),
		subtaskOwner: make(map[string]string),
	}, nil
}

// ID returns the sub-coordinator's inbox id.
func (s *SubCoordinator) ID() string { return s.id }

// workerGroup is the in-flight state of one assigned task node.
type workerGroup struct {
	parent    types.TaskNode
	replyTo   string
	requestID string
	nodes     map[string]*types.TaskNode // subtask id -> node
	order     []string
	results   map[string]string
	completed int
	failed    int
}

func (g *workerGroup) settled() bool {
	return g.completed+g.failed == len(g.nodes)
}

// Run polls the inbox until ctx is canceled. Store errors are fatal.
func (s *SubCoordinator) Run(ctx context.Context) error {
	s.logger.Info("Sub-coordinator started",
		zap.Int("group_size", s.groupSize),
		zap.Strings("workers", s.registry.IDs()))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sub-coordinator stopped")
			return ctx.Err()
		case <-ticker.C:
			msgs, err := s.store.GetPending(ctx, s.id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("sub-coordinator %s: reading inbox: %w", s.id, err)
			}
			for _, msg := range msgs {
				if err := s.store.MarkProcessed(ctx, msg.ID); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return fmt.Errorf("sub-coordinator %s: acknowledging message %d: %w", s.id, msg.ID, err)
				}
				if err := s.handle(ctx, msg); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return err
				}
			}
		}
	}
}

func (s *SubCoordinator) handle(ctx context.Context, msg types.Message) error {
	switch msg.Type {
	case types.MessageTypeSubTaskToSubQueen:
		return s.handleAssignment(ctx, msg)
	case types.MessageTypeResponse, types.MessageTypeError:
		return s.handleWorkerResult(ctx, msg)
	default:
		s.logger.Debug("Ignoring message",
			zap.String("type", string(msg.Type)),
			zap.String("sender", msg.SenderID))
		return nil
	}
}

// handleAssignment splits the assigned node across the group and dispatches
// the pieces. When the cascade cannot produce a single available worker the
// whole assignment fails immediately with a group error.
func (s *SubCoordinator) handleAssignment(ctx context.Context, msg types.Message) error {
	node := decodeTaskNode(msg)
	if _, inFlight := s.groups[node.ID]; inFlight {
		s.logger.Debug("Duplicate assignment ignored", zap.String("task_id", node.ID))
		return nil
	}

	subtasks := s.decomposer.Subtasks(ctx, node.Content, s.groupSize)

	candidates := s.availableWorkers(ctx)
	if len(candidates) == 0 {
		s.logger.Warn("No workers available, rejecting assignment",
			zap.String("task_id", node.ID))
		return s.reportGroup(ctx, &workerGroup{
			parent:    node,
			replyTo:   msg.SenderID,
			requestID: msg.RequestID,
			nodes:     map[string]*types.TaskNode{},
		}, noWorkersContent(s.registry.Snapshot()))
	}

	group := &workerGroup{
		parent:    node,
		replyTo:   msg.SenderID,
		requestID: msg.RequestID,
		nodes:     make(map[string]*types.TaskNode, len(subtasks)),
		results:   make(map[string]string, len(subtasks)),
	}
	for i, content := range subtasks {
		sub := &types.TaskNode{
			ID:                fmt.Sprintf("%s-w%d", node.ID, i+1),
			Content:           content,
			Priority:          node.Priority,
			EstimatedDuration: node.EstimatedDuration,
			RequiredSkills:    node.RequiredSkills,
			Status:            types.TaskAssigned,
			RequestID:         msg.RequestID,
			ParentID:          s.id,
			CreatedAt:         time.Now(),
		}
		workerID := s.pickGroupWorker(sub, candidates)
		sub.AssignedTo = workerID

		payload, err := json.Marshal(sub)
		if err != nil {
			return fmt.Errorf("sub-coordinator %s: encoding subtask %s: %w", s.id, sub.ID, err)
		}
		if _, err := s.store.Insert(ctx, s.id, workerID, types.MessageTypeSubTask, string(payload), msg.RequestID); err != nil {
			return fmt.Errorf("sub-coordinator %s: dispatching subtask %s: %w", s.id, sub.ID, err)
		}
		s.registry.IncrementLoad(workerID)

		group.nodes[sub.ID] = sub
		group.order = append(group.order, sub.ID)
		s.subtaskOwner[sub.ID] = node.ID

		s.logger.Info("Subtask dispatched",
			zap.String("task_id", node.ID),
			zap.String("subtask_id", sub.ID),
			zap.String("worker", workerID))
	}
	s.groups[node.ID] = group
	return nil
}

// availableWorkers runs the availability cascade: the default thresholds,
// a short wait and recheck, a reclaim of degraded workers, and finally the
// emergency thresholds. An empty result means the group is truly exhausted.
func (s *SubCoordinator) availableWorkers(ctx context.Context) []string {
	ids := s.registry.Available(agent.DefaultMaxLoad, agent.DefaultMinReliability)
	if len(ids) > 0 {
		return ids
	}

	s.logger.Warn("No available workers, waiting", zap.Duration("wait", s.retryWait))
	if !sleepCtx(ctx, s.retryWait) {
		return nil
	}
	if ids = s.registry.Available(agent.DefaultMaxLoad, agent.DefaultMinReliability); len(ids) > 0 {
		return ids
	}

	if n := s.registry.ResetOverloaded(); n > 0 {
		s.logger.Info("Reset degraded workers", zap.Int("count", n))
		if ids = s.registry.Available(agent.DefaultMaxLoad, agent.DefaultMinReliability); len(ids) > 0 {
			return ids
		}
	}

	ids = s.registry.Available(agent.EmergencyMaxLoad, agent.EmergencyMinReliability)
	if len(ids) > 0 {
		s.logger.Warn("Assigning under emergency thresholds", zap.Strings("workers", ids))
	}
	return ids
}

// pickGroupWorker scores the candidate workers for one subtask: skill match
// weighted highest, then reliability and idle capacity. Ties break to the
// lowest load, then the smallest id; candidates arrive sorted.
func (s *SubCoordinator) pickGroupWorker(sub *types.TaskNode, candidates []string) string {
	best := pick{}
	for _, id := range candidates {
		p, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		score := 0.4*agent.SkillMatch(sub.RequiredSkills, p.Skills) +
			0.3*p.Reliability +
			0.3*agent.LoadFactor(p.CurrentLoad, agent.DefaultMaxLoad)
		best.offer(id, score, p.CurrentLoad)
	}
	return best.id
}

// handleWorkerResult folds one member result into its group and reports the
// aggregate once every member is accounted for. Unknown and repeated results
// are dropped.
func (s *SubCoordinator) handleWorkerResult(ctx context.Context, msg types.Message) error {
	var res types.ExecutorResult
	if err := json.Unmarshal([]byte(msg.Content), &res); err != nil || res.TaskID == "" {
		s.logger.Warn("Undecodable worker result dropped",
			zap.String("sender", msg.SenderID), zap.Error(err))
		return nil
	}
	parentID, ok := s.subtaskOwner[res.TaskID]
	if !ok {
		s.logger.Debug("Result for unknown subtask dropped",
			zap.String("subtask_id", res.TaskID))
		return nil
	}
	group := s.groups[parentID]
	sub := group.nodes[res.TaskID]
	if sub.Status.Terminal() {
		s.logger.Debug("Repeated result dropped", zap.String("subtask_id", res.TaskID))
		return nil
	}
	if msg.SenderID != sub.AssignedTo {
		s.logger.Warn("Result from unexpected worker dropped",
			zap.String("subtask_id", res.TaskID),
			zap.String("sender", msg.SenderID),
			zap.String("assigned_to", sub.AssignedTo))
		return nil
	}

	s.registry.DecrementLoad(msg.SenderID)
	now := time.Now()
	sub.CompletedAt = now
	switch msg.Type {
	case types.MessageTypeResponse:
		sub.Status = types.TaskCompleted
		group.completed++
		group.results[sub.ID] = res.Content
		s.registry.RecordSuccess(msg.SenderID, time.Duration(res.Seconds*float64(time.Second)))
	default:
		sub.Status = types.TaskFailed
		sub.LastError = res.Content
		group.failed++
		s.registry.RecordFailure(msg.SenderID)
	}

	if !group.settled() {
		return nil
	}
	return s.reportGroup(ctx, group, "")
}

// reportGroup sends the aggregated group-response upstream and clears the
// group's bookkeeping. A non-empty override replaces the joined member
// content, used when the group never dispatched.
func (s *SubCoordinator) reportGroup(ctx context.Context, group *workerGroup, override string) error {
	total := len(group.nodes)
	rate := 0.0
	if total > 0 {
		rate = float64(group.completed) / float64(total)
	}

	kind := "error"
	if total > 0 && rate >= SubGroupSuccessThreshold {
		kind = "response"
	}

	content := override
	if content == "" {
		var parts []string
		for _, id := range group.order {
			sub := group.nodes[id]
			if sub.Status == types.TaskCompleted {
				parts = append(parts, group.results[id])
			} else {
				parts = append(parts, fmt.Sprintf("[subtask %s failed: %s]", id, sub.LastError))
			}
		}
		content = strings.Join(parts, "\n\n")
	}

	payload, err := json.Marshal(types.GroupResult{
		Kind:        kind,
		TaskID:      group.parent.ID,
		Content:     content,
		SuccessRate: rate,
		Completed:   group.completed,
		Failed:      group.failed,
		Workers:     s.registry.Snapshot(),
	})
	if err != nil {
		return fmt.Errorf("sub-coordinator %s: encoding group result: %w", s.id, err)
	}
	if _, err := s.store.Insert(ctx, s.id, group.replyTo, types.MessageTypeGroupResponse, string(payload), group.requestID); err != nil {
		return fmt.Errorf("sub-coordinator %s: reporting group %s: %w", s.id, group.parent.ID, err)
	}

	s.logger.Info("Group reported",
		zap.String("task_id", group.parent.ID),
		zap.String("kind", kind),
		zap.Float64("success_rate", rate),
		zap.Int("completed", group.completed),
		zap.Int("failed", group.failed))

	delete(s.groups, group.parent.ID)
	for _, id := range group.order {
		delete(s.subtaskOwner, id)
	}
	return nil
}

// noWorkersContent renders the per-worker state list attached to a group
// error when no member could take work.
func noWorkersContent(workers map[string]types.Performance) string {
	var b strings.Builder
	b.WriteString("no available workers in group")
	for _, id := range sortedIDs(workers) {
		p := workers[id]
		fmt.Fprintf(&b, "\n%s: load=%d reliability=%.2f completed=%d failed=%d",
			id, p.CurrentLoad, p.Reliability, p.CompletedTasks, p.FailedTasks)
	}
	return b.String()
}

// decodeTaskNode parses an assignment payload. Plain-text content becomes a
// synthetic node so hand-injected messages still flow.
func decodeTaskNode(msg types.Message) types.TaskNode {
	var node types.TaskNode
	if err := json.Unmarshal([]byte(msg.Content), &node); err == nil && node.Content != "" {
		if node.RequestID == "" {
			node.RequestID = msg.RequestID
		}
		return node
	}
	return types.TaskNode{
		ID:        fmt.Sprintf("msg-%d", msg.ID),
		Content:   msg.Content,
		Priority:  types.PriorityLow,
		Status:    types.TaskPending,
		RequestID: msg.RequestID,
		CreatedAt: time.Now(),
	}
}

// sleepCtx sleeps for d unless ctx ends first. It reports whether the full
// wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
