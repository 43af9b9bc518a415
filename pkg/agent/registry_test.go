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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/hive/pkg/types"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("worker-1", types.RoleDeveloper, []string{"python", "git"})

	p, ok := r.Get("worker-1")
	require.True(t, ok)
	assert.Equal(t, "worker-1", p.AgentID)
	assert.Equal(t, types.RoleDeveloper, p.Role)
	assert.Equal(t, []string{"python", "git"}, p.Skills)
	assert.Equal(t, 1.0, p.Reliability)
	assert.Equal(t, 0, p.CurrentLoad)

	_, ok = r.Get("worker-99")
	assert.False(t, ok)

	assert.Equal(t, []string{"worker-1"}, r.IDs())
	assert.Equal(t, 1, r.Len())
}

func TestLoadTracking(t *testing.T) {
	r := NewRegistry()
	r.Register("worker-1", types.RoleDeveloper, nil)

	r.IncrementLoad("worker-1")
	r.IncrementLoad("worker-1")
	r.DecrementLoad("worker-1")

	p, _ := r.Get("worker-1")
	assert.Equal(t, 1, p.CurrentLoad)

	r.DecrementLoad("worker-1")
	r.DecrementLoad("worker-1") // already zero, must not go negative
	p, _ = r.Get("worker-1")
	assert.Equal(t, 0, p.CurrentLoad)

	// Unknown agents are ignored.
	r.IncrementLoad("worker-99")
}

func TestRecordSuccess(t *testing.T) {
	r := NewRegistry()
	r.Register("worker-1", types.RoleDeveloper, nil)
	r.RecordFailure("worker-1") // drop reliability to 0.9 first

	r.RecordSuccess("worker-1", 2*time.Second)
	p, _ := r.Get("worker-1")
	assert.Equal(t, 1, p.CompletedTasks)
	assert.InDelta(t, 0.91, p.Reliability, 1e-9)
	assert.InDelta(t, 2.0, p.AvgDuration, 1e-9)

	// Second sample is smoothed, not averaged.
	r.RecordSuccess("worker-1", 4*time.Second)
	p, _ = r.Get("worker-1")
	assert.InDelta(t, 0.3*4.0+0.7*2.0, p.AvgDuration, 1e-9)
}

func TestRecordSuccessCapsReliability(t *testing.T) {
	r := NewRegistry()
	r.Register("worker-1", types.RoleDeveloper, nil)

	for i := 0; i < 50; i++ {
		r.RecordSuccess("worker-1", time.Second)
	}
	p, _ := r.Get("worker-1")
	assert.Equal(t, 1.0, p.Reliability)
	assert.Equal(t, 50, p.CompletedTasks)
}

func TestRecordFailureDecays(t *testing.T) {
	r := NewRegistry()
	r.Register("worker-1", types.RoleDeveloper, nil)

	r.RecordFailure("worker-1")
	r.RecordFailure("worker-1")

	p, _ := r.Get("worker-1")
	assert.Equal(t, 2, p.FailedTasks)
	assert.InDelta(t, 0.81, p.Reliability, 1e-9)
}

func TestAvailableFilters(t *testing.T) {
	r := NewRegistry()
	r.Register("worker-1", types.RoleDeveloper, nil)
	r.Register("worker-2", types.RoleDeveloper, nil)
	r.Register("worker-3", types.RoleDeveloper, nil)

	// worker-2 is fully loaded, worker-3 has decayed reliability.
	for i := 0; i < 3; i++ {
		r.IncrementLoad("worker-2")
	}
	for i := 0; i < 16; i++ {
		r.RecordFailure("worker-3") // 0.9^16 ≈ 0.185
	}

	assert.Equal(t, []string{"worker-1"}, r.Available(DefaultMaxLoad, DefaultMinReliability))

	// Emergency thresholds accept both rejected workers again.
	assert.Equal(t,
		[]string{"worker-1", "worker-2", "worker-3"},
		r.Available(EmergencyMaxLoad, EmergencyMinReliability))
}

func TestResetOverloaded(t *testing.T) {
	r := NewRegistry()
	r.Register("worker-1", types.RoleDeveloper, nil)
	r.Register("worker-2", types.RoleDeveloper, nil)

	// worker-1 decays below the reset threshold and carries load.
	for i := 0; i < 6; i++ {
		r.RecordFailure("worker-1") // 0.9^6 ≈ 0.531
	}
	r.IncrementLoad("worker-1")
	r.IncrementLoad("worker-1")

	n := r.ResetOverloaded()
	assert.Equal(t, 1, n)

	p, _ := r.Get("worker-1")
	assert.Equal(t, 0, p.CurrentLoad)
	assert.InDelta(t, 0.631441, p.Reliability, 1e-6)

	// Healthy worker untouched.
	p2, _ := r.Get("worker-2")
	assert.Equal(t, 1.0, p2.Reliability)
}

func TestSetGroupSize(t *testing.T) {
	r := NewRegistry()
	r.Register("subqueen-1", types.RoleSubCoordinator, nil)
	r.SetGroupSize("subqueen-1", 4, 2)

	p, _ := r.Get("subqueen-1")
	assert.Equal(t, 4, p.WorkerCount)
	assert.Equal(t, 2, p.AvailableWorkers)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Register("worker-1", types.RoleDeveloper, nil)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	entry := snap["worker-1"]
	entry.CurrentLoad = 42
	snap["worker-1"] = entry

	p, _ := r.Get("worker-1")
	assert.Equal(t, 0, p.CurrentLoad)
}

func TestSkillMatch(t *testing.T) {
	tests := []struct {
		name     string
		required []string
		offered  []string
		exp      float64
	}{
		{name: "no requirements", required: nil, offered: []string{"go"}, exp: 1.0},
		{name: "full match", required: []string{"go", "sql"}, offered: []string{"sql", "go", "bash"}, exp: 1.0},
		{name: "half match", required: []string{"go", "rust"}, offered: []string{"go"}, exp: 0.5},
		{name: "no match", required: []string{"rust"}, offered: []string{"go"}, exp: 0.0},
		{name: "no skills offered", required: []string{"go"}, offered: nil, exp: 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.exp, SkillMatch(tt.required, tt.offered), 1e-9)
		})
	}
}

func TestLoadFactor(t *testing.T) {
	assert.InDelta(t, 1.0, LoadFactor(0, 3), 1e-9)
	assert.InDelta(t, 1.0/3.0, LoadFactor(2, 3), 1e-9)
	assert.InDelta(t, 0.0, LoadFactor(3, 3), 1e-9)
	assert.InDelta(t, 0.0, LoadFactor(7, 3), 1e-9) // overload clamps to zero
	assert.InDelta(t, 0.0, LoadFactor(1, 0), 1e-9)
}
