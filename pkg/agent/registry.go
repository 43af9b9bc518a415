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

// Package agent holds the executor side of the hive: the worker poll loop,
// the command and file safety tooling it uses for side effects, and the
// performance registry its parents schedule against.
package agent

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/teradata-labs/hive/pkg/types"
)

const (
	// DefaultMaxLoad is the per-agent concurrent task ceiling used by
	// availability checks.
	DefaultMaxLoad = 3
	// DefaultMinReliability is the floor below which an agent is not
	// offered new work.
	DefaultMinReliability = 0.3
	// EmergencyMaxLoad and EmergencyMinReliability are the relaxed
	// thresholds applied for one scheduling pass when no agent qualifies
	// under the defaults.
	EmergencyMaxLoad        = 5
	EmergencyMinReliability = 0.1

	// ResetReliability marks an agent as reclaimable: below it the agent's
	// load is zeroed and its reliability nudged back up.
	ResetReliability = 0.6
	// MaxFailedBeforeReset is the failed-task count that also triggers a
	// reclaim.
	MaxFailedBeforeReset = 5

	reliabilityNudge = 0.01
	reliabilityBoost = 0.1
	reliabilityDecay = 0.9
	durationEMAAlpha = 0.3
)

// Registry tracks one Performance record per managed agent. The owning
// coordinator's loop writes; status readers may snapshot concurrently.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*types.Performance
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*types.Performance)}
}

// Register creates the record for an agent. Reliability starts at 1.0.
// Re-registering an existing id resets its record.
func (r *Registry) Register(agentID string, role types.Role, skills []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[agentID] = &types.Performance{
		AgentID:     agentID,
		Role:        role,
		Skills:      append([]string(nil), skills...),
		Reliability: 1.0,
	}
}

// Get returns a copy of the record for agentID.
func (r *Registry) Get(agentID string) (types.Performance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.records[agentID]
	if !ok {
		return types.Performance{}, false
	}
	return *p, true
}

// IDs returns all registered agent ids in lexicographic order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// IncrementLoad bumps the agent's current load by one.
func (r *Registry) IncrementLoad(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.records[agentID]; ok {
		p.CurrentLoad++
	}
}

// DecrementLoad lowers the agent's current load by one, never below zero.
func (r *Registry) DecrementLoad(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.records[agentID]; ok && p.CurrentLoad > 0 {
		p.CurrentLoad--
	}
}

// RecordSuccess counts a completed task, nudges reliability up and folds the
// task duration into the smoothed average.
func (r *Registry) RecordSuccess(agentID string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.records[agentID]
	if !ok {
		return
	}
	p.CompletedTasks++
	p.Reliability = math.Min(1.0, p.Reliability+reliabilityNudge)
	seconds := duration.Seconds()
	if p.AvgDuration == 0 {
		p.AvgDuration = seconds
	} else {
		p.AvgDuration = durationEMAAlpha*seconds + (1-durationEMAAlpha)*p.AvgDuration
	}
}

// RecordFailure counts a failed task and decays reliability.
func (r *Registry) RecordFailure(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.records[agentID]; ok {
		p.FailedTasks++
		p.Reliability *= reliabilityDecay
	}
}

// SetGroupSize refreshes the worker counts on a sub-coordinator record.
func (r *Registry) SetGroupSize(agentID string, total, available int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.records[agentID]; ok {
		p.WorkerCount = total
		p.AvailableWorkers = available
	}
}

// Available returns the ids of agents with current load below maxLoad and
// reliability at or above minReliability, in lexicographic order.
func (r *Registry) Available(maxLoad int, minReliability float64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, p := range r.records {
		if p.CurrentLoad < maxLoad && p.Reliability >= minReliability {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ResetOverloaded reclaims agents whose reliability decayed below
// ResetReliability or whose failures exceed MaxFailedBeforeReset: their load
// is zeroed and reliability boosted, capped at 1.0. Returns the number of
// agents reset.
func (r *Registry) ResetOverloaded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	reset := 0
	for _, p := range r.records {
		if p.Reliability >= ResetReliability && p.FailedTasks <= MaxFailedBeforeReset {
			continue
		}
		p.CurrentLoad = 0
		p.Reliability = math.Min(1.0, p.Reliability+reliabilityBoost)
		reset++
	}
	return reset
}

// Snapshot returns a copy of every record keyed by agent id.
func (r *Registry) Snapshot() map[string]types.Performance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]types.Performance, len(r.records))
	for id, p := range r.records {
		out[id] = *p
	}
	return out
}

// SkillMatch returns |required ∩ offered| / max(|required|, 1).
func SkillMatch(required, offered []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	have := make(map[string]bool, len(offered))
	for _, s := range offered {
		have[s] = true
	}
	matched := 0
	for _, s := range required {
		if have[s] {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// LoadFactor returns 1 - min(load, maxLoad)/maxLoad, the idle share of the
// agent's capacity.
func LoadFactor(load, maxLoad int) float64 {
	if maxLoad <= 0 {
		return 0
	}
	if load > maxLoad {
		load = maxLoad
	}
	return 1.0 - float64(load)/float64(maxLoad)
}
