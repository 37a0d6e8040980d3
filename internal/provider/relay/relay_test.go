// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package relay_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/emberhq/ember/internal/provider"
	"github.com/emberhq/ember/internal/provider/relay"
	emberr "github.com/emberhq/ember/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface satisfaction check.
var _ provider.Backend = (*relay.Backend)(nil)

func TestNew_MissingURL(t *testing.T) {
	_, err := relay.New(relay.Config{})
	require.Error(t, err)
	assert.True(t, emberr.HasCode(err, emberr.CodeProviderRequestInvalid))
}

func TestChat_EnvelopeWrapAndResultUnwrap(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer relay-key", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"result": {
				"choices": [{
					"message": {
						"role": "assistant",
						"content": "",
						"tool_calls": [{
							"id": "call_3",
							"type": "function",
							"function": {"name": "check_balance", "arguments": "{}"}
						}]
					},
					"finish_reason": "tool_calls"
				}],
				"usage": {"prompt_tokens": 50, "completion_tokens": 10, "total_tokens": 60},
				"cost_cents": 7
			}
		}`))
	}))
	defer srv.Close()

	b, err := relay.New(relay.Config{
		URL:      srv.URL,
		TenantID: "tenant-42",
		Scope:    "inference",
		APIKey:   "relay-key",
	})
	require.NoError(t, err)

	resp, err := b.Chat(context.Background(), provider.ChatRequest{
		Model:     "gpt-4.1",
		MaxTokens: 900,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "agent prompt"},
			{Role: provider.RoleUser, Content: "what's my balance"},
		},
		Tools: []provider.ToolDefinition{{
			Name:        "check_balance",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)

	// Envelope shape: tenant_id, scope, params wrapping the OpenAI body.
	assert.Equal(t, "tenant-42", captured["tenant_id"])
	assert.Equal(t, "inference", captured["scope"])
	params := captured["params"].(map[string]any)
	assert.Equal(t, "gpt-4.1", params["model"])
	assert.EqualValues(t, 900, params["max_tokens"])
	assert.Nil(t, params["max_completion_tokens"])
	assert.Equal(t, "auto", params["tool_choice"])
	msgs := params["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

	// Result unwrapping and normalization.
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "check_balance", resp.ToolCalls[0].Name)
	assert.Equal(t, provider.FinishToolCalls, resp.FinishReason)
	assert.Equal(t, 60, resp.Usage.TotalTokens)

	// The relay reported a live cost figure.
	assert.True(t, resp.CostReported)
	assert.Equal(t, int64(7), resp.CostCents)
}

func TestChat_CompletionTokenFieldForNewFamilies(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"result": {
				"choices": [{"message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}],
				"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
			}
		}`))
	}))
	defer srv.Close()

	b, err := relay.New(relay.Config{URL: srv.URL, TenantID: "t", Scope: "s"})
	require.NoError(t, err)

	resp, err := b.Chat(context.Background(), provider.ChatRequest{
		Model:     "o4-mini",
		MaxTokens: 400,
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	params := captured["params"].(map[string]any)
	assert.EqualValues(t, 400, params["max_completion_tokens"])
	assert.Nil(t, params["max_tokens"])

	// No cost in the result: the gateway will estimate locally.
	assert.False(t, resp.CostReported)
	assert.Equal(t, provider.FinishStop, resp.FinishReason)
	assert.Equal(t, "ok", resp.Text)
}

func TestChat_UpstreamErrors(t *testing.T) {
	t.Run("http error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "tenant over quota", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		b, err := relay.New(relay.Config{URL: srv.URL})
		require.NoError(t, err)

		_, err = b.Chat(context.Background(), provider.ChatRequest{
			Model:    "gpt-4.1",
			Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		})
		require.Error(t, err)
		assert.True(t, emberr.IsUpstreamFailure(err))
	})

	t.Run("empty result", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"result": null}`))
		}))
		defer srv.Close()

		b, err := relay.New(relay.Config{URL: srv.URL})
		require.NoError(t, err)

		_, err = b.Chat(context.Background(), provider.ChatRequest{
			Model:    "gpt-4.1",
			Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		})
		require.Error(t, err)
		assert.True(t, emberr.HasCode(err, emberr.CodeProviderResponseInvalid))
	})
}
