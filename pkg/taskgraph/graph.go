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

// Package taskgraph holds the in-memory dependency DAG a coordinator builds
// from a decomposed request. A Graph is owned by exactly one goroutine (the
// coordinator's poll loop) and is deliberately unlocked; it must never be
// shared across goroutines.
package taskgraph

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/teradata-labs/hive/pkg/types"
)

// Graph tracks every task node of one request together with the derived
// completed, failed, and active-assignment sets.
type Graph struct {
	nodes     map[string]*types.TaskNode
	order     []string
	completed map[string]struct{}
	failed    map[string]struct{}
	active    map[string]string // task id -> assignee agent id
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:     make(map[string]*types.TaskNode),
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		active:    make(map[string]string),
	}
}

// Add inserts a node. The node's dependencies may reference ids that are not
// in the graph yet; a cycle is detected as soon as its closing edge arrives,
// so adding the nodes of a decomposition batch in any order rejects exactly
// the batches that are cyclic.
func (g *Graph) Add(node *types.TaskNode) error {
	if node == nil || node.ID == "" {
		return fmt.Errorf("task node requires an id")
	}
	if _, exists := g.nodes[node.ID]; exists {
		return fmt.Errorf("duplicate task id %q", node.ID)
	}
	for _, dep := range node.Dependencies {
		if dep == node.ID {
			return fmt.Errorf("task %q depends on itself", node.ID)
		}
	}
	if node.Status == "" {
		node.Status = types.TaskPending
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}

	g.nodes[node.ID] = node
	if g.hasCycle() {
		delete(g.nodes, node.ID)
		return fmt.Errorf("task %q would create a dependency cycle", node.ID)
	}
	g.order = append(g.order, node.ID)
	return nil
}

// hasCycle walks dependency edges between known nodes. Edges to ids not yet
// added cannot participate in a cycle until the missing node arrives.
func (g *Graph) hasCycle() bool {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		for _, dep := range g.nodes[id].Dependencies {
			if _, known := g.nodes[dep]; !known {
				continue
			}
			switch color[dep] {
			case grey:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for id := range g.nodes {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (types.TaskNode, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return types.TaskNode{}, false
	}
	return *n, true
}

// Ready returns copies of every node that is eligible for assignment: status
// PENDING with all dependencies completed. The result is ordered by priority
// descending, then estimated duration descending, then insertion order.
func (g *Graph) Ready() []types.TaskNode {
	var ready []types.TaskNode
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Status != types.TaskPending {
			continue
		}
		if !g.depsCompleted(n) {
			continue
		}
		ready = append(ready, *n)
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].EstimatedDuration > ready[j].EstimatedDuration
	})
	return ready
}

func (g *Graph) depsCompleted(n *types.TaskNode) bool {
	for _, dep := range n.Dependencies {
		if _, done := g.completed[dep]; !done {
			return false
		}
	}
	return true
}

// MarkAssigned transitions a PENDING node with satisfied dependencies to
// ASSIGNED and records its single active assignee.
func (g *Graph) MarkAssigned(id, agentID string) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("unknown task %q", id)
	}
	if agentID == "" {
		return fmt.Errorf("task %q: assignee id is required", id)
	}
	if n.Status != types.TaskPending {
		return fmt.Errorf("task %q: cannot assign from %s", id, n.Status)
	}
	if !g.depsCompleted(n) {
		return fmt.Errorf("task %q: dependencies not completed", id)
	}

	n.Status = types.TaskAssigned
	n.AssignedTo = agentID
	if !slices.Contains(n.TriedAgents, agentID) {
		n.TriedAgents = append(n.TriedAgents, agentID)
	}
	g.active[id] = agentID
	return nil
}

// MarkInProgress transitions an ASSIGNED node to IN_PROGRESS and stamps its
// start time.
func (g *Graph) MarkInProgress(id string) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("unknown task %q", id)
	}
	if n.Status != types.TaskAssigned {
		return fmt.Errorf("task %q: cannot start from %s", id, n.Status)
	}
	n.Status = types.TaskInProgress
	n.StartedAt = time.Now()
	return nil
}

// MarkCompleted finishes a node successfully. Returns false without error
// when the node is already terminal, so replayed responses stay no-ops.
func (g *Graph) MarkCompleted(id string) (bool, error) {
	n, ok := g.nodes[id]
	if !ok {
		return false, fmt.Errorf("unknown task %q", id)
	}
	if n.Status.Terminal() {
		return false, nil
	}
	if n.Status == types.TaskPending {
		return false, fmt.Errorf("task %q: cannot complete from %s", id, n.Status)
	}
	n.Status = types.TaskCompleted
	n.CompletedAt = time.Now()
	g.completed[id] = struct{}{}
	delete(g.active, id)
	return true, nil
}

// MarkFailed finishes a node unsuccessfully, recording the error content.
// Returns false without error when the node is already terminal.
func (g *Graph) MarkFailed(id, lastError string) (bool, error) {
	n, ok := g.nodes[id]
	if !ok {
		return false, fmt.Errorf("unknown task %q", id)
	}
	if n.Status.Terminal() {
		return false, nil
	}
	if n.Status == types.TaskPending {
		return false, fmt.Errorf("task %q: cannot fail from %s", id, n.Status)
	}
	n.Status = types.TaskFailed
	n.CompletedAt = time.Now()
	n.LastError = lastError
	g.failed[id] = struct{}{}
	delete(g.active, id)
	return true, nil
}

// ResetForRetry returns a FAILED node to PENDING so the scheduler can offer
// it to a different assignee. Returns false when the retry budget is spent.
func (g *Graph) ResetForRetry(id string, maxRetries int) (bool, error) {
	n, ok := g.nodes[id]
	if !ok {
		return false, fmt.Errorf("unknown task %q", id)
	}
	if n.Status != types.TaskFailed {
		return false, fmt.Errorf("task %q: cannot retry from %s", id, n.Status)
	}
	if n.RetryCount >= maxRetries {
		return false, nil
	}
	n.RetryCount++
	n.Status = types.TaskPending
	n.AssignedTo = ""
	n.StartedAt = time.Time{}
	n.CompletedAt = time.Time{}
	delete(g.failed, id)
	return true, nil
}

// Abandon fails a PENDING node that can never run, either because no
// eligible assignee exists or because a dependency already failed. This is
// the only PENDING to FAILED transition.
func (g *Graph) Abandon(id, reason string) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("unknown task %q", id)
	}
	if n.Status != types.TaskPending {
		return fmt.Errorf("task %q: cannot abandon from %s", id, n.Status)
	}
	n.Status = types.TaskFailed
	n.CompletedAt = time.Now()
	n.LastError = reason
	g.failed[id] = struct{}{}
	return nil
}

// Assignee returns the agent currently responsible for an active task.
func (g *Graph) Assignee(id string) (string, bool) {
	agent, ok := g.active[id]
	return agent, ok
}

// ActiveCount returns the number of tasks currently assigned or running.
func (g *Graph) ActiveCount() int {
	return len(g.active)
}

// Len returns the total number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Settled reports whether the request is finished: nothing active and every
// node terminal.
func (g *Graph) Settled() bool {
	if len(g.active) != 0 {
		return false
	}
	for _, n := range g.nodes {
		if !n.Status.Terminal() {
			return false
		}
	}
	return true
}

// SuccessRate returns completed/total over all nodes. An empty graph counts
// as fully successful.
func (g *Graph) SuccessRate() float64 {
	if len(g.nodes) == 0 {
		return 1.0
	}
	return float64(len(g.completed)) / float64(len(g.nodes))
}

// CompletedCount returns the number of COMPLETED nodes.
func (g *Graph) CompletedCount() int {
	return len(g.completed)
}

// FailedNodes returns copies of every FAILED node in insertion order.
func (g *Graph) FailedNodes() []types.TaskNode {
	var failed []types.TaskNode
	for _, id := range g.order {
		if _, ok := g.failed[id]; ok {
			failed = append(failed, *g.nodes[id])
		}
	}
	return failed
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []types.TaskNode {
	nodes := make([]types.TaskNode, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, *g.nodes[id])
	}
	return nodes
}

// Clear drops every node and derived set. Called after the request's final
// message has been emitted.
func (g *Graph) Clear() {
	g.nodes = make(map[string]*types.TaskNode)
	g.order = nil
	g.completed = make(map[string]struct{})
	g.failed = make(map[string]struct{})
	g.active = make(map[string]string)
}
