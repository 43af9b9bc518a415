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

package taskgraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/hive/pkg/types"
)

func node(id string, prio types.Priority, dur time.Duration, deps ...string) *types.TaskNode {
	return &types.TaskNode{
		ID:                id,
		Content:           "work for " + id,
		Priority:          prio,
		EstimatedDuration: dur,
		Dependencies:      deps,
	}
}

func TestAddRejectsDuplicatesAndSelfDeps(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(node("a", types.PriorityLow, time.Minute)))

	assert.Error(t, g.Add(node("a", types.PriorityLow, time.Minute)))
	assert.Error(t, g.Add(node("b", types.PriorityLow, time.Minute, "b")))
	assert.Error(t, g.Add(nil))
	assert.Error(t, g.Add(&types.TaskNode{}))
	assert.Equal(t, 1, g.Len())
}

func TestAddRejectsCycles(t *testing.T) {
	g := New()
	// a -> b -> c may be added in any order; the closing edge is rejected.
	require.NoError(t, g.Add(node("a", types.PriorityLow, time.Minute, "c")))
	require.NoError(t, g.Add(node("b", types.PriorityLow, time.Minute, "a")))

	err := g.Add(node("c", types.PriorityLow, time.Minute, "b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
	assert.Equal(t, 2, g.Len(), "rejected node must not remain in the graph")

	// The same id with acyclic deps is accepted afterwards.
	require.NoError(t, g.Add(node("c", types.PriorityLow, time.Minute)))
}

func TestReadyHonorsDependenciesAndOrdering(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(node("setup", types.PriorityLow, 2*time.Minute)))
	require.NoError(t, g.Add(node("deploy", types.PriorityCritical, time.Minute, "setup")))
	require.NoError(t, g.Add(node("docs", types.PriorityLow, 5*time.Minute)))
	require.NoError(t, g.Add(node("tests", types.PriorityMedium, time.Minute)))

	// "deploy" is blocked by its dependency. Among the rest, priority wins,
	// then longer estimates first.
	ready := g.Ready()
	require.Len(t, ready, 3)
	assert.Equal(t, "tests", ready[0].ID)
	assert.Equal(t, "docs", ready[1].ID)
	assert.Equal(t, "setup", ready[2].ID)

	require.NoError(t, g.MarkAssigned("setup", "worker-1"))
	require.NoError(t, g.MarkInProgress("setup"))
	changed, err := g.MarkCompleted("setup")
	require.NoError(t, err)
	require.True(t, changed)

	ready = g.Ready()
	require.Len(t, ready, 3)
	assert.Equal(t, "deploy", ready[0].ID, "unblocked critical task jumps the queue")
}

func TestAssignmentLifecycle(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(node("a", types.PriorityMedium, time.Minute)))

	require.Error(t, g.MarkAssigned("missing", "worker-1"))
	require.Error(t, g.MarkAssigned("a", ""))
	require.Error(t, g.MarkInProgress("a"), "cannot start an unassigned task")

	require.NoError(t, g.MarkAssigned("a", "worker-1"))
	assignee, ok := g.Assignee("a")
	require.True(t, ok)
	assert.Equal(t, "worker-1", assignee)
	assert.Equal(t, 1, g.ActiveCount())

	require.Error(t, g.MarkAssigned("a", "worker-2"), "a task has at most one assignee")

	require.NoError(t, g.MarkInProgress("a"))
	n, ok := g.Node("a")
	require.True(t, ok)
	assert.Equal(t, types.TaskInProgress, n.Status)
	assert.False(t, n.StartedAt.IsZero())
	assert.Equal(t, []string{"worker-1"}, n.TriedAgents)

	changed, err := g.MarkCompleted("a")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, g.ActiveCount())
	assert.True(t, g.Settled())
}

func TestAssignRequiresCompletedDependencies(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(node("a", types.PriorityLow, time.Minute)))
	require.NoError(t, g.Add(node("b", types.PriorityLow, time.Minute, "a")))

	err := g.MarkAssigned("b", "worker-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependencies")
}

func TestTerminalTransitionsAreIdempotent(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(node("a", types.PriorityLow, time.Minute)))
	require.NoError(t, g.MarkAssigned("a", "worker-1"))

	changed, err := g.MarkCompleted("a")
	require.NoError(t, err)
	assert.True(t, changed)

	// Replayed terminal reports must not regress state or double-count.
	changed, err = g.MarkCompleted("a")
	require.NoError(t, err)
	assert.False(t, changed)
	changed, err = g.MarkFailed("a", "late error")
	require.NoError(t, err)
	assert.False(t, changed)

	n, _ := g.Node("a")
	assert.Equal(t, types.TaskCompleted, n.Status)
	assert.Empty(t, n.LastError)
	assert.Equal(t, 1, g.CompletedCount())
}

func TestMarkFailedRecordsError(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(node("a", types.PriorityLow, time.Minute)))
	require.NoError(t, g.MarkAssigned("a", "worker-1"))

	changed, err := g.MarkFailed("a", "llm timeout")
	require.NoError(t, err)
	assert.True(t, changed)

	failed := g.FailedNodes()
	require.Len(t, failed, 1)
	assert.Equal(t, "a", failed[0].ID)
	assert.Equal(t, "llm timeout", failed[0].LastError)
	assert.True(t, g.Settled())
	assert.Equal(t, 0.0, g.SuccessRate())
}

func TestResetForRetry(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(node("a", types.PriorityLow, time.Minute)))

	_, err := g.ResetForRetry("a", 3)
	require.Error(t, err, "only FAILED tasks can be retried")

	require.NoError(t, g.MarkAssigned("a", "subqueen-1"))
	_, err = g.MarkFailed("a", "group error")
	require.NoError(t, err)

	ok, err := g.ResetForRetry("a", 2)
	require.NoError(t, err)
	require.True(t, ok)

	n, _ := g.Node("a")
	assert.Equal(t, types.TaskPending, n.Status)
	assert.Equal(t, 1, n.RetryCount)
	assert.Empty(t, n.AssignedTo)
	assert.Equal(t, []string{"subqueen-1"}, n.TriedAgents, "tried agents survive the reset")
	assert.Len(t, g.Ready(), 1)

	// Second round exhausts the budget.
	require.NoError(t, g.MarkAssigned("a", "subqueen-2"))
	_, err = g.MarkFailed("a", "group error again")
	require.NoError(t, err)

	ok, err = g.ResetForRetry("a", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, g.MarkAssigned("a", "subqueen-3"))
	_, err = g.MarkFailed("a", "still failing")
	require.NoError(t, err)

	ok, err = g.ResetForRetry("a", 2)
	require.NoError(t, err)
	assert.False(t, ok, "retry budget is spent")
	assert.Equal(t, []string{"subqueen-1", "subqueen-2", "subqueen-3"}, func() []string {
		n, _ := g.Node("a")
		return n.TriedAgents
	}())
}

func TestAbandon(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(node("a", types.PriorityLow, time.Minute)))
	require.NoError(t, g.Add(node("b", types.PriorityLow, time.Minute, "a")))

	require.NoError(t, g.Abandon("a", "no eligible assignee"))
	n, _ := g.Node("a")
	assert.Equal(t, types.TaskFailed, n.Status)
	assert.Equal(t, "no eligible assignee", n.LastError)
	assert.False(t, n.CompletedAt.IsZero())
	assert.Contains(t, g.FailedNodes(), n)

	// Only PENDING nodes can be abandoned.
	require.Error(t, g.Abandon("a", "again"))
	require.Error(t, g.Abandon("missing", "unknown"))

	require.NoError(t, g.Abandon("b", "dependency a failed"))
	assert.True(t, g.Settled())
	assert.Equal(t, 0.0, g.SuccessRate())
}

func TestSuccessRateAndSettled(t *testing.T) {
	g := New()
	assert.Equal(t, 1.0, g.SuccessRate())
	assert.True(t, g.Settled())

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, g.Add(node(id, types.PriorityLow, time.Minute)))
	}
	assert.False(t, g.Settled())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, g.MarkAssigned(id, "worker-1"))
		_, err := g.MarkCompleted(id)
		require.NoError(t, err)
	}
	require.NoError(t, g.MarkAssigned("d", "worker-2"))
	assert.False(t, g.Settled(), "active assignment keeps the request open")

	_, err := g.MarkFailed("d", "boom")
	require.NoError(t, err)
	assert.True(t, g.Settled())
	assert.Equal(t, 0.75, g.SuccessRate())
}

func TestClear(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(node("a", types.PriorityLow, time.Minute)))
	require.NoError(t, g.MarkAssigned("a", "worker-1"))

	g.Clear()
	assert.Equal(t, 0, g.Len())
	assert.Equal(t, 0, g.ActiveCount())
	assert.Empty(t, g.Ready())
	assert.True(t, g.Settled())

	// Ids are reusable after a clear.
	require.NoError(t, g.Add(node("a", types.PriorityLow, time.Minute)))
}
