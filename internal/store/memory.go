// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/emberhq/ember/internal/econ"
)

// Memory is an in-memory Store used by tests and as a reference
// implementation of the interface semantics.
type Memory struct {
	mu        sync.Mutex
	kv        map[string]string
	turns     []*Turn
	snapshots []econ.Snapshot
	inbox     []*InboxMessage
}

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{kv: make(map[string]string)}
}

func (m *Memory) GetValue(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *Memory) SetValue(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *Memory) AddCounter(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, _ := strconv.ParseInt(m.kv[key], 10, 64)
	current += delta
	m.kv[key] = strconv.FormatInt(current, 10)
	return current, nil
}

func (m *Memory) AppendTurn(_ context.Context, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
	return nil
}

func (m *Memory) RecentTurns(_ context.Context, n int) ([]*Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := len(m.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]*Turn, len(m.turns)-start)
	copy(out, m.turns[start:])
	return out, nil
}

func (m *Memory) TurnCount(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.turns)), nil
}

func (m *Memory) AgentState(ctx context.Context) (AgentState, error) {
	v, ok, err := m.GetValue(ctx, KeyAgentState)
	if err != nil || !ok {
		return StateWaking, err
	}
	return AgentState(v), nil
}

func (m *Memory) SetAgentState(ctx context.Context, state AgentState) error {
	return m.SetValue(ctx, KeyAgentState, string(state))
}

func (m *Memory) AppendSnapshot(_ context.Context, snap econ.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *Memory) LatestSnapshot(_ context.Context) (*econ.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.snapshots) == 0 {
		return nil, nil
	}
	snap := m.snapshots[len(m.snapshots)-1]
	return &snap, nil
}

// SnapshotCount reports how many snapshots have been appended.
// Test helper, not part of the Store interface.
func (m *Memory) SnapshotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

func (m *Memory) AppendInbox(_ context.Context, msg *InboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = append(m.inbox, msg)
	return nil
}

func (m *Memory) UnprocessedInbox(_ context.Context, limit int) ([]*InboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*InboxMessage
	for _, msg := range m.inbox {
		if msg.Processed {
			continue
		}
		copied := *msg
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkInboxProcessed(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	for _, msg := range m.inbox {
		if wanted[msg.ID] {
			msg.Processed = true
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
