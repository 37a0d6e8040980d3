// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package store

import (
	"time"
)

// AgentState is the externally observable lifecycle state of the agent.
type AgentState string

const (
	StateWaking     AgentState = "waking"
	StateRunning    AgentState = "running"
	StateLowCompute AgentState = "low_compute"
	StateCritical   AgentState = "critical"
	StateSleeping   AgentState = "sleeping"
	StateDead       AgentState = "dead"
)

// Terminal reports whether the state ends the current wake session.
// A later external wake signal restarts the controller from waking.
func (s AgentState) Terminal() bool {
	return s == StateSleeping || s == StateDead
}

// InputSource tags where a turn's input text came from.
type InputSource string

const (
	SourceWakeup InputSource = "wakeup"
	SourceAgent  InputSource = "agent"
	SourceSystem InputSource = "system"
)

// Usage is the token accounting for one inference call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolCallResult records one executed (or blocked) tool call. It is owned
// exclusively by its parent Turn.
type ToolCallResult struct {
	ID         string
	Tool       string
	Args       map[string]any
	Result     string
	Error      string
	DurationMS int64
}

// Turn is one think→act→observe iteration. Immutable once appended.
type Turn struct {
	ID          string
	Timestamp   time.Time
	State       AgentState
	Input       string
	InputSource InputSource
	Reasoning   string
	ToolCalls   []ToolCallResult
	Usage       Usage
	CostCents   int64
}

// InboxMessage is an externally supplied message awaiting processing.
type InboxMessage struct {
	ID         string
	Sender     string
	Content    string
	ReceivedAt time.Time
	Processed  bool
}

// Well-known KV keys.
const (
	KeySleepUntil     = "sleep_until" // ISO-8601 dormancy deadline
	KeyAgentState     = "agent_state"
	KeyTotalSpent     = "total_spent_cents"
	KeyTotalEarned    = "total_earned_cents"
	KeyChildTribute   = "child_tribute_cents"
	KeyBirthTime      = "birth_time" // ISO-8601
	KeyFinancialState = "financial_state" // JSON, latest only
)
