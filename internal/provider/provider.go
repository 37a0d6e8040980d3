// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package provider normalizes heterogeneous chat-completion protocols
// into one calling convention: a role-tagged message sequence in, one
// response with text, tool calls, usage, and cost out.
package provider

import (
	"context"
	"strings"
)

// Role tags a message in the conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the conversation. Assistant messages may carry
// requested tool calls; tool messages answer a call by id.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // assistant only
	ToolCallID string     // tool only: the call this result answers
}

// ToolCall is a normalized tool invocation request from the backend.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// ToolDefinition describes a tool offered to the backend.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ChatRequest is the provider-agnostic request shape.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature *float64
	MaxTokens   int
}

// Usage is the token accounting reported by a backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FinishReason is the normalized stop condition.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
)

// ChatResponse is the provider-agnostic response shape. CostCents holds
// the backend-reported cost when CostReported is true; the gateway fills
// in a local estimate otherwise.
type ChatResponse struct {
	Text         string
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason FinishReason
	CostCents    int64
	CostReported bool
}

// Backend translates the normalized request into one wire protocol.
type Backend interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// completionTokenFamilies lists model-name prefixes whose wire protocol
// takes max_completion_tokens instead of the legacy max_tokens field.
var completionTokenFamilies = []string{"o1", "o3", "o4", "gpt-5"}

// UsesCompletionTokenLimit reports whether the model's OpenAI-shaped
// body must carry max_completion_tokens rather than max_tokens.
func UsesCompletionTokenLimit(model string) bool {
	for _, prefix := range completionTokenFamilies {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
