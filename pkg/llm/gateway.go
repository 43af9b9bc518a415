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
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultFailureThreshold is the consecutive-failure count that opens a
	// backend's circuit.
	DefaultFailureThreshold = 5
	// DefaultCooldown is how long an open circuit rejects a backend before
	// a half-open probe is allowed.
	DefaultCooldown = 60 * time.Second
	// DefaultAttemptTimeout bounds a single chat attempt against one
	// backend.
	DefaultAttemptTimeout = 30 * time.Second

	// probeTimeout bounds the availability check so a hung backend cannot
	// stall candidate selection.
	probeTimeout = 2 * time.Second
)

// GatewayConfig configures the gateway.
type GatewayConfig struct {
	// Backends in configuration order. Order is the tie-breaker when
	// health scores are equal.
	Backends []Backend

	// FailureThreshold (K) and Cooldown (T) drive the circuit breaker.
	FailureThreshold int
	Cooldown         time.Duration

	// AttemptTimeout is the default per-attempt timeout when the caller
	// does not supply one.
	AttemptTimeout time.Duration

	Logger *zap.Logger
}

// ChatRequest is one gateway call.
type ChatRequest struct {
	Messages []Message

	// Model overrides each backend's default model when non-empty.
	Model string

	// Preferred names the backend to try first when it is healthy.
	Preferred string

	// Timeout is the per-attempt timeout; zero selects the gateway
	// default.
	Timeout time.Duration
}

// Gateway fans a chat call across its backends in health order.
type Gateway struct {
	backends []Backend
	health   map[string]*health
	cfg      GatewayConfig
	logger   *zap.Logger
}

// NewGateway builds a gateway over the configured backends.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	g := &Gateway{
		backends: cfg.Backends,
		health:   make(map[string]*health, len(cfg.Backends)),
		cfg:      cfg,
		logger:   cfg.Logger,
	}
	for _, b := range cfg.Backends {
		g.health[b.Name()] = newHealth(b.Name())
	}
	return g
}

type candidate struct {
	backend  Backend
	score    float64
	halfOpen bool
}

// candidates returns attemptable backends: circuit not open (or due for a
// half-open probe) and availability probe passing. Order: the preferred
// backend first when healthy, the rest by health score descending.
func (g *Gateway) candidates(ctx context.Context, preferred string) []candidate {
	var cands []candidate
	for _, b := range g.backends {
		h := g.health[b.Name()]
		ok, halfOpen := h.eligible(time.Now())
		if !ok {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		alive := b.Available(probeCtx)
		cancel()
		if !alive {
			h.recordUnreachable()
			g.logger.Debug("Backend probe failed", zap.String("backend", b.Name()))
			continue
		}

		cands = append(cands, candidate{backend: b, score: h.snapshotScore(), halfOpen: halfOpen})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})

	if preferred != "" {
		for i, c := range cands {
			if c.backend.Name() != preferred || c.halfOpen {
				continue
			}
			if snap := g.health[preferred].snapshot(); snap.State == StateHealthy {
				copy(cands[1:i+1], cands[:i])
				cands[0] = c
			}
			break
		}
	}
	return cands
}

// Chat attempts the request against each candidate backend in order and
// returns the first success. Every failure advances that backend's breaker;
// exhausting all candidates yields ErrBackendUnavailable.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("chat request requires at least one message")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.cfg.AttemptTimeout
	}

	cands := g.candidates(ctx, req.Preferred)
	if len(cands) == 0 {
		return nil, fmt.Errorf("no candidate backend passed health checks: %w", ErrBackendUnavailable)
	}

	var lastErr error
	for _, c := range cands {
		name := c.backend.Name()
		h := g.health[name]

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		resp, err := c.backend.Chat(attemptCtx, req.Messages, req.Model)
		elapsed := time.Since(start)
		cancel()

		if err != nil {
			lastErr = err
			h.recordFailure(g.cfg.FailureThreshold, g.cfg.Cooldown)
			if snap := h.snapshot(); snap.State == StateCircuitOpen {
				g.logger.Warn("Backend circuit opened",
					zap.String("backend", name),
					zap.Int("consecutive_failures", snap.ConsecutiveFailures),
					zap.Time("until", snap.CircuitOpenUntil))
			} else {
				g.logger.Warn("Backend attempt failed",
					zap.String("backend", name),
					zap.Duration("elapsed", elapsed),
					zap.Error(err))
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		h.recordSuccess(elapsed)
		g.fillUsage(req.Messages, resp)
		resp.Backend = name
		if resp.Model == "" {
			resp.Model = req.Model
		}
		g.logger.Debug("Chat served",
			zap.String("backend", name),
			zap.String("model", resp.Model),
			zap.Duration("elapsed", elapsed),
			zap.Int("input_tokens", resp.InputTokens),
			zap.Int("output_tokens", resp.OutputTokens),
			zap.Bool("half_open_probe", c.halfOpen))
		return resp, nil
	}

	return nil, fmt.Errorf("all %d candidate backends failed (last: %v): %w",
		len(cands), lastErr, ErrBackendUnavailable)
}

// fillUsage counts tokens locally when the backend reported no usage.
func (g *Gateway) fillUsage(messages []Message, resp *Response) {
	if resp.InputTokens > 0 || resp.OutputTokens > 0 {
		return
	}
	counter := GetTokenCounter()
	for _, m := range messages {
		resp.InputTokens += counter.CountTokens(m.Content)
	}
	resp.OutputTokens = counter.CountTokens(resp.Content)
}

// Health snapshots every backend record in configuration order.
func (g *Gateway) Health() []BackendHealth {
	out := make([]BackendHealth, 0, len(g.backends))
	for _, b := range g.backends {
		out = append(out, g.health[b.Name()].snapshot())
	}
	return out
}

// Backends returns the configured backend names in order.
func (g *Gateway) Backends() []string {
	names := make([]string, 0, len(g.backends))
	for _, b := range g.backends {
		names = append(names, b.Name())
	}
	return names
}
