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

// Package types defines the shared domain types of the hive core: messages,
// task nodes, agent roles, topologies, and the summary payloads exchanged
// between coordinators and the dispatcher. It is intentionally free of
// dependencies so that every other package can import it.
package types

import (
	"fmt"
	"strings"
	"time"
)

// MessageType identifies the kind of an inter-agent message. The set is
// closed; the store rejects anything else.
type MessageType string

const (
	// MessageTypeTask is the initial user task addressed to the root
	// coordinator (and upward re-dispatches of it).
	MessageTypeTask MessageType = "task"
	// MessageTypeSubTaskToSubQueen assigns a task node to a sub-coordinator.
	MessageTypeSubTaskToSubQueen MessageType = "sub-task-to-subqueen"
	// MessageTypeSubTask assigns a task node to a worker.
	MessageTypeSubTask MessageType = "sub-task"
	// MessageTypeEnhancedTask assigns an enriched task node to a worker in
	// the fully-connected topology.
	MessageTypeEnhancedTask MessageType = "enhanced-task"
	// MessageTypeResponse carries a successful executor result to its parent.
	MessageTypeResponse MessageType = "response"
	// MessageTypeError carries a failed executor result to its parent.
	MessageTypeError MessageType = "error"
	// MessageTypeGroupResponse is the sub-coordinator's aggregated envelope,
	// wrapping either a response or an error.
	MessageTypeGroupResponse MessageType = "group-response"
	// MessageTypeFinalResponse terminates a request successfully.
	MessageTypeFinalResponse MessageType = "final-response"
	// MessageTypeFinalError terminates a request with failure.
	MessageTypeFinalError MessageType = "final-error"
)

// Valid reports whether t is a member of the closed message-type set.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeTask, MessageTypeSubTaskToSubQueen, MessageTypeSubTask,
		MessageTypeEnhancedTask, MessageTypeResponse, MessageTypeError,
		MessageTypeGroupResponse, MessageTypeFinalResponse, MessageTypeFinalError:
		return true
	}
	return false
}

// Terminal reports whether t ends a top-level request.
func (t MessageType) Terminal() bool {
	return t == MessageTypeFinalResponse || t == MessageTypeFinalError
}

// MessageStatus is the delivery state of a persisted message.
type MessageStatus string

const (
	// MessageStatusPending marks a message eligible for delivery to its receiver.
	MessageStatusPending MessageStatus = "pending"
	// MessageStatusProcessed marks a message consumed by its receiver.
	MessageStatusProcessed MessageStatus = "processed"
)

// Message is the unit of inter-agent communication. Created by the sender,
// owned by the message store once persisted, consumed by the receiver named
// in ReceiverID.
type Message struct {
	ID         int64         `json:"id"`
	SenderID   string        `json:"sender_id"`
	ReceiverID string        `json:"receiver_id"`
	Type       MessageType   `json:"type"`
	Content    string        `json:"content"`
	RequestID  string        `json:"request_id,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     MessageStatus `json:"status"`
}

// Priority orders task nodes in the scheduler. Higher values schedule first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// String returns the canonical upper-case name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ParsePriority maps a name to a Priority, defaulting to LOW.
func ParsePriority(s string) Priority {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return PriorityCritical
	case "HIGH":
		return PriorityHigh
	case "MEDIUM":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// TaskState is the lifecycle state of a task node. Transitions are monotonic
// (PENDING, ASSIGNED, IN_PROGRESS, COMPLETED or FAILED) except for the retry
// transition FAILED to PENDING, which the task graph bounds.
type TaskState string

const (
	TaskPending    TaskState = "PENDING"
	TaskAssigned   TaskState = "ASSIGNED"
	TaskInProgress TaskState = "IN_PROGRESS"
	TaskCompleted  TaskState = "COMPLETED"
	TaskFailed     TaskState = "FAILED"
)

// Terminal reports whether s is an end state.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskNode is the unit of scheduled work inside one top-level request.
type TaskNode struct {
	ID                string        `json:"id"`
	Content           string        `json:"content"`
	Priority          Priority      `json:"priority"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	RequiredSkills    []string      `json:"required_skills,omitempty"`
	Dependencies      []string      `json:"dependencies,omitempty"`
	Status            TaskState     `json:"status"`
	AssignedTo        string        `json:"assigned_to,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         time.Time     `json:"started_at,omitempty"`
	CompletedAt       time.Time     `json:"completed_at,omitempty"`

	// Complexity is the decomposition's 0..1 difficulty estimate.
	Complexity float64 `json:"complexity,omitempty"`
	// RequestID ties the node to its originating top-level request.
	RequestID string `json:"request_id,omitempty"`
	// ParentID names the agent that created the node.
	ParentID string `json:"parent_id,omitempty"`
	// RetryCount and TriedAgents drive the sibling retry policy.
	RetryCount  int      `json:"retry_count,omitempty"`
	TriedAgents []string `json:"tried_agents,omitempty"`
	// LastError records the most recent failure content for summaries.
	LastError string `json:"last_error,omitempty"`
}

// Budget is the node's end-to-end deadline: twice the estimated duration.
func (n *TaskNode) Budget() time.Duration {
	return 2 * n.EstimatedDuration
}

// Role is the categorical tag the scheduler matches task nodes against.
type Role string

const (
	RoleCoordinator    Role = "coordinator"
	RoleSubCoordinator Role = "sub-coordinator"
	RoleAnalyst        Role = "analyst"
	RoleDataScientist  Role = "data-scientist"
	RoleArchitect      Role = "architect"
	RoleDeveloper      Role = "developer"
)

// Topology selects how the root coordinator fans work out.
type Topology string

const (
	// TopologyHierarchical routes through sub-coordinators to workers.
	TopologyHierarchical Topology = "hierarchical"
	// TopologyCentralized routes directly from the root to workers.
	TopologyCentralized Topology = "centralized"
	// TopologyFullyConnected lets every agent message every agent; the root
	// still owns aggregation.
	TopologyFullyConnected Topology = "fully-connected"
)

// Valid reports whether t names a known topology.
func (t Topology) Valid() bool {
	switch t {
	case TopologyHierarchical, TopologyCentralized, TopologyFullyConnected:
		return true
	}
	return false
}

// UsesSubCoordinators reports whether assignments go through the middle tier.
func (t Topology) UsesSubCoordinators() bool {
	return t == TopologyHierarchical
}

// AssignmentType returns the message type the coordinator uses for executor
// assignments under this topology.
func (t Topology) AssignmentType() MessageType {
	switch t {
	case TopologyHierarchical:
		return MessageTypeSubTaskToSubQueen
	case TopologyFullyConnected:
		return MessageTypeEnhancedTask
	default:
		return MessageTypeSubTask
	}
}

// Performance is the per-agent scheduling record. One record per worker or
// sub-coordinator, owned by the registry for the life of the process.
type Performance struct {
	AgentID        string   `json:"agent_id"`
	Role           Role     `json:"role"`
	Skills         []string `json:"skills,omitempty"`
	CompletedTasks int      `json:"completed_tasks"`
	FailedTasks    int      `json:"failed_tasks"`
	CurrentLoad    int      `json:"current_load"`
	// Reliability is a quality signal in [0,1]: 1.0 initially, decayed
	// multiplicatively on failure, nudged up on success.
	Reliability float64 `json:"reliability"`
	// AvgDuration is the exponentially smoothed task duration in seconds.
	AvgDuration float64 `json:"avg_duration"`

	// WorkerCount and AvailableWorkers apply to sub-coordinators only and
	// are refreshed from the managed group.
	WorkerCount      int `json:"worker_count,omitempty"`
	AvailableWorkers int `json:"available_workers,omitempty"`
}

// SuccessRate returns completed/(completed+failed), 1.0 when unobserved.
func (p *Performance) SuccessRate() float64 {
	total := p.CompletedTasks + p.FailedTasks
	if total == 0 {
		return 1.0
	}
	return float64(p.CompletedTasks) / float64(total)
}

// FailedTask pairs a failed task id with its last error content.
type FailedTask struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// RequestSummary is the structured payload attached to every terminal
// message (final-response and final-error).
type RequestSummary struct {
	RequestID      string                 `json:"request_id"`
	TotalTasks     int                    `json:"total_tasks"`
	CompletedTasks int                    `json:"completed_tasks"`
	FailedTasks    []FailedTask           `json:"failed_tasks,omitempty"`
	SuccessRate    float64                `json:"success_rate"`
	TotalSeconds   float64                `json:"total_seconds"`
	Workers        map[string]Performance `json:"workers,omitempty"`
}

// FinalResult is the JSON content of a terminal message.
type FinalResult struct {
	Content string         `json:"content"`
	Summary RequestSummary `json:"summary"`
}

// GroupResult is the JSON content of a group-response message: the
// sub-coordinator's aggregated outcome for one assigned task node.
type GroupResult struct {
	// Kind is "response" or "error".
	Kind        string                 `json:"kind"`
	TaskID      string                 `json:"task_id"`
	Content     string                 `json:"content"`
	SuccessRate float64                `json:"success_rate"`
	Completed   int                    `json:"completed"`
	Failed      int                    `json:"failed"`
	Workers     map[string]Performance `json:"workers,omitempty"`
}

// ExecutorResult is the JSON content of worker response/error messages.
type ExecutorResult struct {
	TaskID  string `json:"task_id"`
	Content string `json:"content"`
	// CommandOutput carries captured stdout/stderr when side effects ran.
	CommandOutput string `json:"command_output,omitempty"`
	// FilesWritten lists absolute paths of files the worker saved.
	FilesWritten []string `json:"files_written,omitempty"`
	// Seconds is the wall-clock task duration.
	Seconds float64 `json:"seconds"`
}

// Well-known agent ids. The tree is queen → subqueen-N → worker-N, with the
// dispatcher sitting outside it. Workers and sub-coordinators number from 1.
const (
	CoordinatorID = "queen"
	DispatcherID  = "dispatcher"
)

// WorkerID returns the conventional id of the nth worker.
func WorkerID(n int) string {
	return fmt.Sprintf("worker-%d", n)
}

// SubCoordinatorID returns the conventional id of the nth sub-coordinator.
func SubCoordinatorID(n int) string {
	return fmt.Sprintf("subqueen-%d", n)
}
