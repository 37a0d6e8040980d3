// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package store defines the persistence interfaces the wake-cycle
// controller consumes, plus an in-memory implementation used by tests.
// The sqlite subpackage provides the durable backend.
package store

import (
	"context"

	"github.com/emberhq/ember/internal/econ"
)

// KV is a string key/value surface with an atomic numeric counter.
// GetValue reports ok=false when the key has never been set.
type KV interface {
	GetValue(ctx context.Context, key string) (value string, ok bool, err error)
	SetValue(ctx context.Context, key, value string) error

	// AddCounter atomically adds delta to the numeric value under key
	// (missing keys start at zero) and returns the new total.
	AddCounter(ctx context.Context, key string, delta int64) (int64, error)
}

// TurnStore appends and reads turns together with their tool-call results.
type TurnStore interface {
	AppendTurn(ctx context.Context, turn *Turn) error

	// RecentTurns returns up to n of the most recent turns in
	// chronological order (oldest of the window first).
	RecentTurns(ctx context.Context, n int) ([]*Turn, error)

	TurnCount(ctx context.Context) (int64, error)
}

// StateStore persists the externally observable agent state.
type StateStore interface {
	AgentState(ctx context.Context) (AgentState, error)
	SetAgentState(ctx context.Context, state AgentState) error
}

// SnapshotStore keeps the immutable economics history.
type SnapshotStore interface {
	AppendSnapshot(ctx context.Context, snap econ.Snapshot) error

	// LatestSnapshot returns nil when no snapshot has been recorded yet.
	LatestSnapshot(ctx context.Context) (*econ.Snapshot, error)
}

// InboxStore queues externally supplied messages for the agent.
type InboxStore interface {
	AppendInbox(ctx context.Context, msg *InboxMessage) error
	UnprocessedInbox(ctx context.Context, limit int) ([]*InboxMessage, error)
	MarkInboxProcessed(ctx context.Context, ids []string) error
}

// Store is the full persistence surface of the wake-cycle core.
// It is single-writer: only the active controller mutates it during a
// wake session.
type Store interface {
	KV
	TurnStore
	StateStore
	SnapshotStore
	InboxStore

	Close() error
}
