// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package communication provides the durable message store that sits between
// all agents. It is the only shared state in the system: a receiver-addressed
// FIFO with monotonic ids, at-least-once delivery, and pending/processed
// status transitions, persisted in SQLite.
package communication

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/teradata-labs/hive/internal/sqlitedriver"
	"github.com/teradata-labs/hive/pkg/types"
)

// compressionThreshold is the payload size, in bytes, at which content is
// stored zstd-compressed. Small payloads are stored verbatim.
const compressionThreshold = 4 * 1024

const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id   TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	message_type TEXT NOT NULL,
	content     BLOB NOT NULL,
	compressed  INTEGER NOT NULL DEFAULT 0,
	request_id  TEXT,
	created_at  INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending'
	            CHECK (status IN ('pending', 'processed'))
);
CREATE INDEX IF NOT EXISTS idx_messages_receiver
	ON messages(receiver_id, status, id);
CREATE INDEX IF NOT EXISTS idx_messages_status_created
	ON messages(status, created_at);
`

// Config configures the message store.
type Config struct {
	// Path is the SQLite database file. Empty selects a private in-memory
	// database (tests).
	Path string

	// EncryptionKey applies SQLCipher encryption when the active driver
	// supports it. An error is returned when a key is supplied on a build
	// without encryption support rather than silently storing plaintext.
	EncryptionKey string

	Logger *zap.Logger
}

// Stats is a point-in-time snapshot of store counters.
type Stats struct {
	Inserted   int64 `json:"inserted"`
	Delivered  int64 `json:"delivered"`
	Processed  int64 `json:"processed"`
	Compressed int64 `json:"compressed"`
	Pruned     int64 `json:"pruned"`
}

// Store is the durable message store. All methods are safe for concurrent
// use; the store serializes writers internally so that ids are assigned in a
// single monotonic sequence.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	// Reusable zstd coder pair, both safe for concurrent use.
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	inserted   atomic.Int64
	delivered  atomic.Int64
	processed  atomic.Int64
	compressed atomic.Int64
	pruned     atomic.Int64

	closed atomic.Bool
}

// NewStore opens (creating if necessary) the message store at cfg.Path.
// Store I/O errors after this point are fatal for the orchestrator; callers
// surface them rather than retrying.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dsn := cfg.Path
	if dsn == "" {
		dsn = "file::memory:?mode=memory&cache=shared"
	}
	if cfg.EncryptionKey != "" {
		if !sqlitedriver.EncryptionSupported {
			return nil, fmt.Errorf("database encryption requested but this build's sqlite driver does not support it")
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma_key=" + url.QueryEscape(cfg.EncryptionKey)
	}

	db, err := sql.Open(sqlitedriver.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}

	// A single connection keeps the id sequence and per-receiver ordering
	// linearizable and makes the session pragmas below stick.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, messagesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create messages schema: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	s := &Store{
		db:      db,
		logger:  cfg.Logger,
		encoder: encoder,
		decoder: decoder,
	}

	s.logger.Info("Message store opened",
		zap.String("path", cfg.Path),
		zap.Bool("encrypted", cfg.EncryptionKey != ""))

	return s, nil
}

// Insert atomically appends a message with status pending and returns its
// globally monotonic id.
func (s *Store) Insert(ctx context.Context, sender, receiver string, mt types.MessageType, content, requestID string) (int64, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("message store is closed")
	}
	if sender == "" {
		return 0, fmt.Errorf("sender id is required")
	}
	if receiver == "" {
		return 0, fmt.Errorf("receiver id is required")
	}
	if !mt.Valid() {
		return 0, fmt.Errorf("unknown message type %q", mt)
	}

	payload := []byte(content)
	compressed := 0
	if len(payload) >= compressionThreshold {
		payload = s.encoder.EncodeAll(payload, nil)
		compressed = 1
		s.compressed.Add(1)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, message_type, content, compressed, request_id, created_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'pending')`,
		sender, receiver, string(mt), payload, compressed, nullable(requestID), time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted message id: %w", err)
	}

	s.inserted.Add(1)
	s.logger.Debug("Message inserted",
		zap.Int64("message_id", id),
		zap.String("from", sender),
		zap.String("to", receiver),
		zap.String("type", string(mt)),
		zap.String("request_id", requestID))

	return id, nil
}

// GetPending returns all pending messages addressed to receiver, ordered by
// id ascending. Messages stay pending until MarkProcessed, so a crashed
// receiver sees them again on its next poll (at-least-once).
func (s *Store) GetPending(ctx context.Context, receiver string) ([]types.Message, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("message store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, receiver_id, message_type, content, compressed, request_id, created_at
		 FROM messages
		 WHERE receiver_id = ? AND status = 'pending'
		 ORDER BY id ASC`,
		receiver)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var (
			m         types.Message
			mt        string
			payload   []byte
			comp      int
			requestID sql.NullString
			createdMs int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &mt, &payload, &comp, &requestID, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if comp != 0 {
			payload, err = s.decoder.DecodeAll(payload, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress message %d: %w", m.ID, err)
			}
		}
		m.Type = types.MessageType(mt)
		m.Content = string(payload)
		m.RequestID = requestID.String
		m.Timestamp = time.UnixMilli(createdMs)
		m.Status = types.MessageStatusPending
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending messages: %w", err)
	}

	if len(msgs) > 0 {
		s.delivered.Add(int64(len(msgs)))
	}
	return msgs, nil
}

// MarkProcessed transitions a message from pending to processed. Repeating
// the call for an already processed id is a no-op.
func (s *Store) MarkProcessed(ctx context.Context, id int64) error {
	if s.closed.Load() {
		return fmt.Errorf("message store is closed")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = 'processed' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to mark message %d processed: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.processed.Add(n)
	}
	return nil
}

// Clear removes every message and resets the id counter. Called once at
// process start so each run begins from a clean slate.
func (s *Store) Clear(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("message store is closed")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	// sqlite_sequence only exists after the first AUTOINCREMENT insert.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'messages'`); err != nil {
		if !strings.Contains(err.Error(), "no such table") {
			return fmt.Errorf("failed to reset message id counter: %w", err)
		}
	}

	s.logger.Info("Message store cleared")
	return nil
}

// PruneProcessed deletes processed messages older than retain. Pending
// messages are never pruned.
func (s *Store) PruneProcessed(ctx context.Context, retain time.Duration) (int64, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("message store is closed")
	}

	cutoff := time.Now().Add(-retain).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE status = 'processed' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned messages: %w", err)
	}
	if n > 0 {
		s.pruned.Add(n)
		s.logger.Debug("Pruned processed messages", zap.Int64("count", n))
	}
	return n, nil
}

// PendingCount returns the number of undelivered messages for receiver.
func (s *Store) PendingCount(ctx context.Context, receiver string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND status = 'pending'`,
		receiver).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return n, nil
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Inserted:   s.inserted.Load(),
		Delivered:  s.delivered.Load(),
		Processed:  s.processed.Load(),
		Compressed: s.compressed.Load(),
		Pruned:     s.pruned.Load(),
	}
}

// Close releases the database handle and the zstd coders. Idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.encoder.Close()
	s.decoder.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close message store: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
