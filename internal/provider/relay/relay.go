// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package relay translates the normalized chat convention to the
// gateway-proxied protocol: an OpenAI-shaped body wrapped in a tenant
// envelope, with the completion unwrapped from a result field. No SDK
// speaks this envelope, so the wire structs live here.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/emberhq/ember/internal/provider"
	emberr "github.com/emberhq/ember/pkg/errors"
)

// Compile-time interface check.
var _ provider.Backend = (*Backend)(nil)

const defaultTimeout = 120 * time.Second

// Config holds relay backend configuration.
type Config struct {
	URL      string
	TenantID string
	Scope    string
	APIKey   string

	// HTTPClient overrides the default client, useful for tests.
	HTTPClient *http.Client
}

// Backend implements provider.Backend over the relay envelope.
type Backend struct {
	config Config
	client *http.Client
}

// New creates a relay backend. Returns an error if the URL is missing.
func New(cfg Config) (*Backend, error) {
	if cfg.URL == "" {
		return nil, emberr.New(emberr.CodeProviderRequestInvalid, "relay: missing url in config")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Backend{config: cfg, client: client}, nil
}

func (b *Backend) Name() string { return "relay" }

// --- Wire shapes. ---

type envelope struct {
	TenantID string   `json:"tenant_id"`
	Scope    string   `json:"scope"`
	Params   chatBody `json:"params"`
}

type chatBody struct {
	Model               string        `json:"model"`
	Messages            []wireMessage `json:"messages"`
	Tools               []wireTool    `json:"tools,omitempty"`
	ToolChoice          string        `json:"tool_choice,omitempty"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Temperature         *float64      `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function wireToolFuncDef `json:"function"`
}

type wireToolFuncDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type relayResponse struct {
	Result *wireCompletion `json:"result"`
}

type wireCompletion struct {
	Choices   []wireChoice `json:"choices"`
	Usage     wireUsage    `json:"usage"`
	CostCents *int64       `json:"cost_cents"`
}

type wireChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chat performs one proxied completion call.
func (b *Backend) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	env := buildEnvelope(b.config, req)

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, emberr.Wrap(err, emberr.CodeProviderRequestInvalid, "relay: encoding envelope")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, emberr.Wrap(err, emberr.CodeProviderRequestInvalid, "relay: building request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	}

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, emberr.Wrap(err, emberr.CodeProviderUpstreamFailure, "relay: request failed")
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, emberr.Wrap(err, emberr.CodeProviderUpstreamFailure, "relay: reading response")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, emberr.New(emberr.CodeProviderUpstreamFailure,
			fmt.Sprintf("relay: status %d: %s", httpResp.StatusCode, truncate(body, 200)))
	}

	var wrapped relayResponse
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, emberr.Wrap(err, emberr.CodeProviderResponseInvalid, "relay: decoding response")
	}

	return normalize(wrapped.Result)
}

// buildEnvelope wraps the OpenAI-shaped body in the tenant envelope.
func buildEnvelope(cfg Config, req provider.ChatRequest) envelope {
	body := chatBody{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		Temperature: req.Temperature,
	}

	if req.MaxTokens > 0 {
		if provider.UsesCompletionTokenLimit(req.Model) {
			body.MaxCompletionTokens = req.MaxTokens
		} else {
			body.MaxTokens = req.MaxTokens
		}
	}

	if len(req.Tools) > 0 {
		body.ToolChoice = "auto"
		for _, t := range req.Tools {
			body.Tools = append(body.Tools, wireTool{
				Type: "function",
				Function: wireToolFuncDef{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			})
		}
	}

	return envelope{
		TenantID: cfg.TenantID,
		Scope:    cfg.Scope,
		Params:   body,
	}
}

func convertMessages(msgs []provider.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, msg := range msgs {
		wire := wireMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, wire)
	}
	return out
}

func normalize(result *wireCompletion) (*provider.ChatResponse, error) {
	if result == nil || len(result.Choices) == 0 {
		return nil, emberr.New(emberr.CodeProviderResponseInvalid, "relay: response has no choices")
	}

	choice := result.Choices[0]
	resp := &provider.ChatResponse{
		Text:         choice.Message.Content,
		FinishReason: provider.FinishStop,
		Usage: provider.Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if choice.FinishReason == "tool_calls" || len(resp.ToolCalls) > 0 {
		resp.FinishReason = provider.FinishToolCalls
	}

	if result.CostCents != nil {
		resp.CostCents = *result.CostCents
		resp.CostReported = true
	}
	return resp, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
