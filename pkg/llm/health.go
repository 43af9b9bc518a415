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
package llm

import (
	"sync"
	"time"
)

// BackendState classifies a backend's recent behavior.
type BackendState string

const (
	// StateHealthy means the last call succeeded (or no call was made yet).
	StateHealthy BackendState = "HEALTHY"
	// StateDegraded means recent failures below the circuit threshold.
	StateDegraded BackendState = "DEGRADED"
	// StateFailed means the availability probe reported the backend down.
	StateFailed BackendState = "FAILED"
	// StateCircuitOpen means the breaker tripped; the backend is skipped
	// until the cool-down expires, then offered one half-open probe.
	StateCircuitOpen BackendState = "CIRCUIT_OPEN"
)

// BackendHealth is a point-in-time snapshot of one backend's record.
type BackendHealth struct {
	Name                string       `json:"name"`
	State               BackendState `json:"state"`
	TotalCalls          int64        `json:"total_calls"`
	SuccessCalls        int64        `json:"success_calls"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	AvgResponseSeconds  float64      `json:"avg_response_seconds"`
	Score               float64      `json:"score"`
	CircuitOpenUntil    time.Time    `json:"circuit_open_until,omitempty"`
}

// emaAlpha weights the newest sample in the response-time average.
const emaAlpha = 0.3

// health is the mutable per-backend record. Updates are serialized by the
// record's own mutex so concurrent gateway calls stay consistent.
type health struct {
	mu sync.Mutex

	name                string
	state               BackendState
	totalCalls          int64
	successCalls        int64
	consecutiveFailures int
	avgResponseSeconds  float64
	circuitOpenUntil    time.Time
}

func newHealth(name string) *health {
	return &health{name: name, state: StateHealthy}
}

// score is the selection key: success_rate x 1/(1+avg_response_time).
// A backend with no observed calls scores a full 1.0 so new backends are
// tried optimistically.
func (h *health) score() float64 {
	if h.totalCalls == 0 {
		return 1.0
	}
	successRate := float64(h.successCalls) / float64(h.totalCalls)
	return successRate * (1.0 / (1.0 + h.avgResponseSeconds))
}

// eligible reports whether the backend may be attempted at now, and whether
// the attempt would be a half-open probe of an expired circuit.
func (h *health) eligible(now time.Time) (ok, halfOpen bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateCircuitOpen {
		return true, false
	}
	if now.After(h.circuitOpenUntil) {
		return true, true
	}
	return false, false
}

// snapshotScore returns the current score under the record lock.
func (h *health) snapshotScore() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.score()
}

// recordSuccess folds a successful call into the record and closes the
// circuit if the call was a half-open probe.
func (h *health) recordSuccess(elapsed time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalCalls++
	h.successCalls++
	h.consecutiveFailures = 0

	seconds := elapsed.Seconds()
	if h.avgResponseSeconds == 0 {
		h.avgResponseSeconds = seconds
	} else {
		h.avgResponseSeconds = emaAlpha*seconds + (1-emaAlpha)*h.avgResponseSeconds
	}

	h.state = StateHealthy
	h.circuitOpenUntil = time.Time{}
}

// recordFailure folds a failed call into the record. Reaching threshold
// consecutive failures, or failing a half-open probe, opens the circuit for
// cooldown.
func (h *health) recordFailure(threshold int, cooldown time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalCalls++
	h.consecutiveFailures++

	if h.state == StateCircuitOpen || h.consecutiveFailures >= threshold {
		h.state = StateCircuitOpen
		h.circuitOpenUntil = time.Now().Add(cooldown)
		return
	}
	h.state = StateDegraded
}

// recordUnreachable marks a failed availability probe. It does not count as
// a call and does not advance the breaker.
func (h *health) recordUnreachable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateCircuitOpen {
		h.state = StateFailed
	}
}

// snapshot copies the record for introspection.
func (h *health) snapshot() BackendHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	return BackendHealth{
		Name:                h.name,
		State:               h.state,
		TotalCalls:          h.totalCalls,
		SuccessCalls:        h.successCalls,
		ConsecutiveFailures: h.consecutiveFailures,
		AvgResponseSeconds:  h.avgResponseSeconds,
		Score:               h.score(),
		CircuitOpenUntil:    h.circuitOpenUntil,
	}
}
