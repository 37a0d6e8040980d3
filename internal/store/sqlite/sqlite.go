// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package sqlite implements store.Store on a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emberhq/ember/internal/econ"
	"github.com/emberhq/ember/internal/store"
	emberr "github.com/emberhq/ember/pkg/errors"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is the SQLite-backed persistence layer. Single writer; WAL mode.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "migrating schema")
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS turns (
	rowid        INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT UNIQUE NOT NULL,
	timestamp    TEXT NOT NULL,
	state        TEXT NOT NULL,
	input        TEXT NOT NULL DEFAULT '',
	input_source TEXT NOT NULL DEFAULT '',
	reasoning    TEXT NOT NULL DEFAULT '',
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	cost_cents        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tool_call_results (
	rowid       INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	turn_id     TEXT NOT NULL REFERENCES turns(id),
	tool        TEXT NOT NULL,
	args        TEXT NOT NULL DEFAULT '{}',
	result      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tool_call_results_turn ON tool_call_results(turn_id);

CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS econ_snapshots (
	rowid     INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	data      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS inbox (
	rowid       INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT UNIQUE NOT NULL,
	sender      TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL,
	received_at TEXT NOT NULL,
	processed   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_inbox_unprocessed ON inbox(processed, rowid);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- KV ---

func (s *Store) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "reading kv", emberr.Field("key", key))
	}
	return value, true, nil
}

func (s *Store) SetValue(ctx context.Context, key, value string) error {
	if key == "" {
		return emberr.New(emberr.CodeStoreKeyInvalid, "empty kv key")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "writing kv", emberr.Field("key", key))
	}
	return nil
}

func (s *Store) AddCounter(ctx context.Context, key string, delta int64) (int64, error) {
	if key == "" {
		return 0, emberr.New(emberr.CodeStoreKeyInvalid, "empty counter key")
	}

	var total int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, CAST(? AS TEXT))
		 ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + ? AS TEXT)
		 RETURNING CAST(value AS INTEGER)`,
		key, delta, delta).Scan(&total)
	if err != nil {
		return 0, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "updating counter", emberr.Field("key", key))
	}
	return total, nil
}

// --- Turns ---

func (s *Store) AppendTurn(ctx context.Context, turn *store.Turn) error {
	if turn == nil || turn.ID == "" {
		return emberr.New(emberr.CodeStoreTurnAppendInvalid, "turn must have an id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "beginning turn tx")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns
		 (id, timestamp, state, input, input_source, reasoning, prompt_tokens, completion_tokens, total_tokens, cost_cents)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID,
		turn.Timestamp.UTC().Format(time.RFC3339Nano),
		string(turn.State),
		turn.Input,
		string(turn.InputSource),
		turn.Reasoning,
		turn.Usage.PromptTokens,
		turn.Usage.CompletionTokens,
		turn.Usage.TotalTokens,
		turn.CostCents,
	)
	if err != nil {
		return emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "inserting turn", emberr.FieldTurnID(turn.ID))
	}

	for _, tc := range turn.ToolCalls {
		args, err := json.Marshal(tc.Args)
		if err != nil {
			return emberr.Wrap(err, emberr.CodeStoreTurnAppendInvalid, "marshalling tool args", emberr.FieldTool(tc.Tool))
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tool_call_results (id, turn_id, tool, args, result, error, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tc.ID, turn.ID, tc.Tool, string(args), tc.Result, tc.Error, tc.DurationMS)
		if err != nil {
			return emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "inserting tool result", emberr.FieldTurnID(turn.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "committing turn", emberr.FieldTurnID(turn.ID))
	}
	return nil
}

func (s *Store) RecentTurns(ctx context.Context, n int) ([]*store.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, state, input, input_source, reasoning,
		        prompt_tokens, completion_tokens, total_tokens, cost_cents
		 FROM turns ORDER BY rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "querying recent turns")
	}
	defer rows.Close()

	var turns []*store.Turn
	for rows.Next() {
		var t store.Turn
		var ts, state, source string
		if err := rows.Scan(&t.ID, &ts, &state, &t.Input, &source, &t.Reasoning,
			&t.Usage.PromptTokens, &t.Usage.CompletionTokens, &t.Usage.TotalTokens, &t.CostCents); err != nil {
			return nil, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "scanning turn row")
		}
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		t.State = store.AgentState(state)
		t.InputSource = store.InputSource(source)
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "iterating turn rows")
	}

	// Reverse into chronological order and attach tool results.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	for _, t := range turns {
		if err := s.loadToolCalls(ctx, t); err != nil {
			return nil, err
		}
	}
	return turns, nil
}

func (s *Store) loadToolCalls(ctx context.Context, turn *store.Turn) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool, args, result, error, duration_ms
		 FROM tool_call_results WHERE turn_id = ? ORDER BY rowid`, turn.ID)
	if err != nil {
		return emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "querying tool results", emberr.FieldTurnID(turn.ID))
	}
	defer rows.Close()

	for rows.Next() {
		var tc store.ToolCallResult
		var args string
		if err := rows.Scan(&tc.ID, &tc.Tool, &args, &tc.Result, &tc.Error, &tc.DurationMS); err != nil {
			return emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "scanning tool result row")
		}
		// Stored args are always valid JSON; a decode failure leaves Args nil.
		_ = json.Unmarshal([]byte(args), &tc.Args)
		turn.ToolCalls = append(turn.ToolCalls, tc)
	}
	return rows.Err()
}

func (s *Store) TurnCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&count); err != nil {
		return 0, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "counting turns")
	}
	return count, nil
}

// --- Agent state ---

func (s *Store) AgentState(ctx context.Context) (store.AgentState, error) {
	v, ok, err := s.GetValue(ctx, store.KeyAgentState)
	if err != nil {
		return "", err
	}
	if !ok {
		return store.StateWaking, nil
	}
	return store.AgentState(v), nil
}

func (s *Store) SetAgentState(ctx context.Context, state store.AgentState) error {
	return s.SetValue(ctx, store.KeyAgentState, string(state))
}

// --- Snapshots ---

func (s *Store) AppendSnapshot(ctx context.Context, snap econ.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return emberr.Wrap(err, emberr.CodeStoreSnapshotInvalid, "marshalling snapshot")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO econ_snapshots (timestamp, data) VALUES (?, ?)`,
		snap.Timestamp.UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "inserting snapshot")
	}
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context) (*econ.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM econ_snapshots ORDER BY rowid DESC LIMIT 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "querying latest snapshot")
	}

	var snap econ.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "decoding snapshot")
	}
	return &snap, nil
}

// --- Inbox ---

func (s *Store) AppendInbox(ctx context.Context, msg *store.InboxMessage) error {
	if msg == nil || msg.ID == "" || msg.Content == "" {
		return emberr.New(emberr.CodeStoreKeyInvalid, "inbox message must have id and content")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inbox (id, sender, content, received_at, processed) VALUES (?, ?, ?, ?, 0)`,
		msg.ID, msg.Sender, msg.Content, msg.ReceivedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "inserting inbox message")
	}
	return nil
}

func (s *Store) UnprocessedInbox(ctx context.Context, limit int) ([]*store.InboxMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, content, received_at FROM inbox
		 WHERE processed = 0 ORDER BY rowid LIMIT ?`, limit)
	if err != nil {
		return nil, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "querying inbox")
	}
	defer rows.Close()

	var msgs []*store.InboxMessage
	for rows.Next() {
		var m store.InboxMessage
		var ts string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Content, &ts); err != nil {
			return nil, emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "scanning inbox row")
		}
		m.ReceivedAt, _ = time.Parse(time.RFC3339Nano, ts)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (s *Store) MarkInboxProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "beginning inbox tx")
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE inbox SET processed = 1 WHERE id = ?`, id); err != nil {
			return emberr.Wrap(err, emberr.CodeStoreDatabaseFailure, "marking inbox processed", emberr.Field("id", id))
		}
	}
	return tx.Commit()
}
