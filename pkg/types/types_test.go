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
package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageTypeValid(t *testing.T) {
	valid := []MessageType{
		MessageTypeTask,
		MessageTypeSubTaskToSubQueen,
		MessageTypeSubTask,
		MessageTypeEnhancedTask,
		MessageTypeResponse,
		MessageTypeError,
		MessageTypeGroupResponse,
		MessageTypeFinalResponse,
		MessageTypeFinalError,
	}
	for _, mt := range valid {
		assert.True(t, mt.Valid(), "expected %q to be valid", mt)
	}

	assert.False(t, MessageType("broadcast").Valid())
	assert.False(t, MessageType("").Valid())
	assert.False(t, MessageType("TASK").Valid(), "type literals are case-sensitive")
}

func TestMessageTypeTerminal(t *testing.T) {
	assert.True(t, MessageTypeFinalResponse.Terminal())
	assert.True(t, MessageTypeFinalError.Terminal())
	assert.False(t, MessageTypeResponse.Terminal())
	assert.False(t, MessageTypeGroupResponse.Terminal())
}

func TestPriorityOrderingAndParse(t *testing.T) {
	assert.True(t, PriorityCritical > PriorityHigh)
	assert.True(t, PriorityHigh > PriorityMedium)
	assert.True(t, PriorityMedium > PriorityLow)

	cases := map[string]Priority{
		"CRITICAL": PriorityCritical,
		"critical": PriorityCritical,
		" high ":   PriorityHigh,
		"Medium":   PriorityMedium,
		"low":      PriorityLow,
		"unknown":  PriorityLow,
		"":         PriorityLow,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParsePriority(in), "input %q", in)
	}

	assert.Equal(t, "CRITICAL", PriorityCritical.String())
	assert.Equal(t, "LOW", PriorityLow.String())
}

func TestTaskStateTerminal(t *testing.T) {
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskAssigned.Terminal())
	assert.False(t, TaskInProgress.Terminal())
}

func TestTaskNodeBudget(t *testing.T) {
	n := &TaskNode{EstimatedDuration: 90 * time.Second}
	assert.Equal(t, 3*time.Minute, n.Budget())
}

func TestTopology(t *testing.T) {
	assert.True(t, TopologyHierarchical.Valid())
	assert.True(t, TopologyCentralized.Valid())
	assert.True(t, TopologyFullyConnected.Valid())
	assert.False(t, Topology("star").Valid())

	assert.True(t, TopologyHierarchical.UsesSubCoordinators())
	assert.False(t, TopologyCentralized.UsesSubCoordinators())

	assert.Equal(t, MessageTypeSubTaskToSubQueen, TopologyHierarchical.AssignmentType())
	assert.Equal(t, MessageTypeSubTask, TopologyCentralized.AssignmentType())
	assert.Equal(t, MessageTypeEnhancedTask, TopologyFullyConnected.AssignmentType())
}

func TestPerformanceSuccessRate(t *testing.T) {
	p := &Performance{}
	assert.Equal(t, 1.0, p.SuccessRate(), "unobserved agents are optimistic")

	p.CompletedTasks = 3
	p.FailedTasks = 1
	assert.InDelta(t, 0.75, p.SuccessRate(), 1e-9)
}

func TestWellKnownIDs(t *testing.T) {
	assert.Equal(t, "queen", CoordinatorID)
	assert.Equal(t, "dispatcher", DispatcherID)
	assert.Equal(t, "worker-3", WorkerID(3))
	assert.Equal(t, "subqueen-1", SubCoordinatorID(1))
}
