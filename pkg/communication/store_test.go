// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package communication

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/hive/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), Config{
		Path: filepath.Join(t.TempDir(), "messages.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAssignsMonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		id, err := s.Insert(ctx, "queen", "worker-1", types.MessageTypeSubTask,
			fmt.Sprintf("subtask %d", i), "req-1")
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestGetPendingIsPerReceiverFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "queen", "worker-1", types.MessageTypeSubTask, "first", "req-1")
	require.NoError(t, err)
	_, err = s.Insert(ctx, "queen", "worker-2", types.MessageTypeSubTask, "other receiver", "req-1")
	require.NoError(t, err)
	_, err = s.Insert(ctx, "queen", "worker-1", types.MessageTypeSubTask, "second", "req-1")
	require.NoError(t, err)

	msgs, err := s.GetPending(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Less(t, msgs[0].ID, msgs[1].ID)
	for _, m := range msgs {
		assert.Equal(t, "worker-1", m.ReceiverID)
		assert.Equal(t, "queen", m.SenderID)
		assert.Equal(t, types.MessageStatusPending, m.Status)
		assert.Equal(t, "req-1", m.RequestID)
		assert.False(t, m.Timestamp.IsZero())
	}
}

func TestMarkProcessedRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, "worker-1", "queen", types.MessageTypeResponse, "done", "req-1")
	require.NoError(t, err)

	msgs, err := s.GetPending(ctx, "queen")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)

	require.NoError(t, s.MarkProcessed(ctx, id))

	msgs, err = s.GetPending(ctx, "queen")
	require.NoError(t, err)
	assert.Empty(t, msgs, "processed messages must not be re-delivered")

	// Idempotent: repeating the transition is a no-op.
	require.NoError(t, s.MarkProcessed(ctx, id))
	require.NoError(t, s.MarkProcessed(ctx, 99999), "unknown ids are ignored")
}

func TestClearResetsIDCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, "queen", "worker-1", types.MessageTypeSubTask, "before clear", "")
	require.NoError(t, err)
	require.GreaterOrEqual(t, id, int64(1))

	require.NoError(t, s.Clear(ctx))

	msgs, err := s.GetPending(ctx, "worker-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	id, err = s.Insert(ctx, "queen", "worker-1", types.MessageTypeSubTask, "after clear", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id, "clear must reset the id counter")
}

func TestClearOnEmptyStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Clear(context.Background()))
}

func TestConcurrentInsertsSingleReceiver(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const senders = 16
	var wg sync.WaitGroup
	wg.Add(senders)
	for i := 0; i < senders; i++ {
		go func(n int) {
			defer wg.Done()
			_, err := s.Insert(ctx, fmt.Sprintf("sender-%d", n), "queen",
				types.MessageTypeResponse, fmt.Sprintf("result %d", n), "req-1")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := s.GetPending(ctx, "queen")
	require.NoError(t, err)
	require.Len(t, msgs, senders)

	seen := make(map[string]bool, senders)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].ID, msgs[i-1].ID, "ids must be strictly increasing")
	}
	for _, m := range msgs {
		seen[m.SenderID] = true
	}
	assert.Len(t, seen, senders, "every sender's message must be delivered")
}

func TestLargePayloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 400)
	require.Greater(t, len(content), compressionThreshold)

	_, err := s.Insert(ctx, "worker-1", "queen", types.MessageTypeResponse, content, "req-1")
	require.NoError(t, err)

	msgs, err := s.GetPending(ctx, "queen")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, content, msgs[0].Content)
	assert.Equal(t, int64(1), s.Stats().Compressed)
}

func TestInsertValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "queen", "worker-1", types.MessageType("broadcast"), "x", "")
	assert.Error(t, err, "unknown message types are rejected")

	_, err = s.Insert(ctx, "", "worker-1", types.MessageTypeSubTask, "x", "")
	assert.Error(t, err)

	_, err = s.Insert(ctx, "queen", "", types.MessageTypeSubTask, "x", "")
	assert.Error(t, err)
}

func TestEmptyRequestID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "queen", "worker-1", types.MessageTypeSubTask, "no request", "")
	require.NoError(t, err)

	msgs, err := s.GetPending(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "", msgs[0].RequestID)
}

func TestPruneProcessedKeepsPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doneID, err := s.Insert(ctx, "worker-1", "queen", types.MessageTypeResponse, "done", "req-1")
	require.NoError(t, err)
	_, err = s.Insert(ctx, "worker-2", "queen", types.MessageTypeResponse, "still pending", "req-1")
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessed(ctx, doneID))

	time.Sleep(5 * time.Millisecond)
	n, err := s.PruneProcessed(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msgs, err := s.GetPending(ctx, "queen")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "still pending", msgs[0].Content)
}

func TestPendingCountAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Insert(ctx, "queen", "worker-1", types.MessageTypeSubTask, "x", "")
		require.NoError(t, err)
	}

	n, err := s.PendingCount(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	msgs, err := s.GetPending(ctx, "worker-1")
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessed(ctx, msgs[0].ID))

	stats := s.Stats()
	assert.Equal(t, int64(3), stats.Inserted)
	assert.Equal(t, int64(3), stats.Delivered)
	assert.Equal(t, int64(1), stats.Processed)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.db")
	ctx := context.Background()

	s, err := NewStore(ctx, Config{Path: path})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "queen", "worker-1", types.MessageTypeSubTask, "durable", "req-1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewStore(ctx, Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	msgs, err := reopened.GetPending(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1, "undelivered messages survive a restart")
	assert.Equal(t, "durable", msgs[0].Content)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Insert(context.Background(), "queen", "worker-1", types.MessageTypeSubTask, "x", "")
	assert.Error(t, err)
}
