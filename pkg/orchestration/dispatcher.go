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
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/hive/internal/csync"
	"github.com/teradata-labs/hive/pkg/agent"
	"github.com/teradata-labs/hive/pkg/communication"
	"github.com/teradata-labs/hive/pkg/types"
)

// Outcome is the resolved end state of one submitted request.
type Outcome struct {
	// OK reports whether the request terminated with final-response.
	OK bool

	Result types.FinalResult
}

// Future resolves to the outcome of one submitted request. Wait consumes
// the outcome: only the first call returns it.
type Future struct {
	requestID string
	ch        chan Outcome
}

// RequestID returns the id the request was submitted under.
func (f *Future) RequestID() string { return f.requestID }

// Wait blocks until the request resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case out := <-f.ch:
		return out, nil
	}
}

// Dispatcher bridges callers onto the message store. Submit persists a task
// message for the coordinator and returns a Future that resolves when the
// matching terminal message arrives. One Run loop serves any number of
// concurrent submitters.
type Dispatcher struct {
	store        *communication.Store
	receiver     string
	pollInterval time.Duration
	logger       *zap.Logger
	futures      *csync.Map[string, *Future]
}

// DispatcherConfig configures a Dispatcher. Store is required.
type DispatcherConfig struct {
	Store *communication.Store

	// Receiver is the agent task messages are addressed to. Zero selects
	// types.CoordinatorID.
	Receiver string

	// PollInterval is the inbox poll cadence. Zero selects the agent
	// default.
	PollInterval time.Duration

	Logger *zap.Logger
}

// NewDispatcher validates cfg and returns a ready Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestration: dispatcher requires a store")
	}
	if cfg.Receiver == "" {
		cfg.Receiver = types.CoordinatorID
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = agent.DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Dispatcher{
		store:        cfg.Store,
		receiver:     cfg.Receiver,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger.With(zap.String("agent_id", types.DispatcherID)),
		futures:      csync.NewMap[string, *Future](),
	}, nil
}

// Submit persists task for the coordinator under a fresh request id.
func (d *Dispatcher) Submit(ctx context.Context, task string) (*Future, error) {
	requestID := uuid.NewString()
	fut := &Future{requestID: requestID, ch: make(chan Outcome, 1)}
	d.futures.Set(requestID, fut)

	if _, err := d.store.Insert(ctx, types.DispatcherID, d.receiver, types.MessageTypeTask, task, requestID); err != nil {
		d.futures.Delete(requestID)
		return nil, fmt.Errorf("dispatcher: submitting request: %w", err)
	}
	d.logger.Info("Request submitted",
		zap.String("request_id", requestID),
		zap.Int("task_bytes", len(task)))
	return fut, nil
}

// Pending returns the number of unresolved submissions.
func (d *Dispatcher) Pending() int {
	return d.futures.Len()
}

// Run polls the dispatcher inbox until ctx is canceled, resolving futures
// as terminal messages arrive. Store errors are fatal.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			msgs, err := d.store.GetPending(ctx, types.DispatcherID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("dispatcher: reading inbox: %w", err)
			}
			for _, msg := range msgs {
				if err := d.store.MarkProcessed(ctx, msg.ID); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return fmt.Errorf("dispatcher: acknowledging message %d: %w", msg.ID, err)
				}
				d.resolve(msg)
			}
		}
	}
}

// resolve completes the future registered for msg's request. Each request
// resolves at most once; repeated terminals and unknown ids are dropped.
func (d *Dispatcher) resolve(msg types.Message) {
	if !msg.Type.Terminal() {
		d.logger.Debug("Ignoring non-terminal message",
			zap.String("type", string(msg.Type)),
			zap.String("sender", msg.SenderID))
		return
	}
	fut, ok := d.futures.Get(msg.RequestID)
	if !ok {
		d.logger.Warn("Terminal message without a waiting future dropped",
			zap.String("request_id", msg.RequestID),
			zap.String("type", string(msg.Type)))
		return
	}
	d.futures.Delete(msg.RequestID)

	var result types.FinalResult
	if err := json.Unmarshal([]byte(msg.Content), &result); err != nil {
		// Not every terminal payload is JSON; keep the raw text usable.
		result = types.FinalResult{Content: msg.Content}
	}
	fut.ch <- Outcome{OK: msg.Type == types.MessageTypeFinalResponse, Result: result}

	d.logger.Info("Request resolved",
		zap.String("request_id", msg.RequestID),
		zap.Bool("ok", msg.Type == types.MessageTypeFinalResponse))
}
