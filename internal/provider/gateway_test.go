// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package provider_test

import (
	"context"
	"testing"

	"github.com/emberhq/ember/internal/provider"
	emberr "github.com/emberhq/ember/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records the last request and returns a canned response.
type fakeBackend struct {
	name     string
	lastReq  provider.ChatRequest
	response provider.ChatResponse
	err      error
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Chat(_ context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	resp := f.response
	return &resp, nil
}

func newGateway(t *testing.T) (*provider.Gateway, *fakeBackend, *fakeBackend) {
	t.Helper()

	gw, err := provider.NewGateway(provider.GatewayConfig{
		Model:               "claude-sonnet-4-5",
		MaxTokens:           8000,
		LowComputeModel:     "claude-haiku-4-5",
		LowComputeMaxTokens: 2000,
		Routes: []provider.Route{
			{Prefix: "claude-", Backend: "anthropic"},
			{Prefix: "gpt-", Backend: "relay"},
		},
		DefaultBackend: "openai",
	}, provider.NewPriceTable("claude-sonnet-4-5"))
	require.NoError(t, err)

	anthropicFake := &fakeBackend{name: "anthropic", response: provider.ChatResponse{
		Text:         "hello",
		FinishReason: provider.FinishStop,
		Usage:        provider.Usage{PromptTokens: 1000, CompletionTokens: 100, TotalTokens: 1100},
	}}
	openaiFake := &fakeBackend{name: "openai", response: provider.ChatResponse{
		Text:         "hi",
		FinishReason: provider.FinishStop,
	}}

	gw.RegisterBackend("anthropic", anthropicFake)
	gw.RegisterBackend("openai", openaiFake)
	return gw, anthropicFake, openaiFake
}

func TestGateway_RoutesByModelFamily(t *testing.T) {
	gw, anthropicFake, openaiFake := newGateway(t)

	_, err := gw.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", anthropicFake.lastReq.Model)
	assert.Equal(t, 8000, anthropicFake.lastReq.MaxTokens)
	assert.Empty(t, openaiFake.lastReq.Model, "default backend not used when a route matches")
}

func TestGateway_FallsBackToDefaultBackend(t *testing.T) {
	gw, err := provider.NewGateway(provider.GatewayConfig{
		Model:          "mistral-large",
		MaxTokens:      4000,
		Routes:         []provider.Route{{Prefix: "claude-", Backend: "anthropic"}},
		DefaultBackend: "openai",
	}, provider.NewPriceTable("gpt-4.1"))
	require.NoError(t, err)

	fake := &fakeBackend{name: "openai", response: provider.ChatResponse{FinishReason: provider.FinishStop}}
	gw.RegisterBackend("openai", fake)

	_, err = gw.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mistral-large", fake.lastReq.Model)
}

func TestGateway_RouteMatchButBackendMissingUsesDefault(t *testing.T) {
	gw, err := provider.NewGateway(provider.GatewayConfig{
		Model:          "gpt-4.1",
		MaxTokens:      4000,
		Routes:         []provider.Route{{Prefix: "gpt-", Backend: "relay"}}, // relay never registered
		DefaultBackend: "openai",
	}, provider.NewPriceTable("gpt-4.1"))
	require.NoError(t, err)

	fake := &fakeBackend{name: "openai", response: provider.ChatResponse{FinishReason: provider.FinishStop}}
	gw.RegisterBackend("openai", fake)

	_, err = gw.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", fake.lastReq.Model)
}

func TestGateway_NoBackendAtAll(t *testing.T) {
	gw, err := provider.NewGateway(provider.GatewayConfig{
		Model:     "gpt-4.1",
		MaxTokens: 100,
	}, provider.NewPriceTable("gpt-4.1"))
	require.NoError(t, err)

	_, err = gw.Chat(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, emberr.HasCode(err, emberr.CodeProviderNoDefault))
}

func TestGateway_LowComputeToggle(t *testing.T) {
	gw, anthropicFake, _ := newGateway(t)
	ctx := context.Background()
	msgs := []provider.Message{{Role: provider.RoleUser, Content: "hi"}}

	assert.False(t, gw.LowCompute())
	assert.Equal(t, "claude-sonnet-4-5", gw.ActiveModel())

	gw.SetLowCompute(true)
	assert.True(t, gw.LowCompute())
	_, err := gw.Chat(ctx, msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4-5", anthropicFake.lastReq.Model)
	assert.Equal(t, 2000, anthropicFake.lastReq.MaxTokens)

	// Two-state toggle: setting it again changes nothing.
	gw.SetLowCompute(true)
	assert.Equal(t, "claude-haiku-4-5", gw.ActiveModel())

	// Toggling off restores the original model and ceiling.
	gw.SetLowCompute(false)
	_, err = gw.Chat(ctx, msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", anthropicFake.lastReq.Model)
	assert.Equal(t, 8000, anthropicFake.lastReq.MaxTokens)
}

func TestGateway_CostEstimateFillsInWhenNotReported(t *testing.T) {
	gw, _, _ := newGateway(t)

	resp, err := gw.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	// 1000 prompt tokens at 300 c/MTok + 100 completion at 1500 c/MTok
	// is under a cent; the estimate rounds up.
	assert.False(t, resp.CostReported)
	assert.Equal(t, int64(1), resp.CostCents)
}

func TestGateway_BackendReportedCostWins(t *testing.T) {
	gw, anthropicFake, _ := newGateway(t)
	anthropicFake.response.CostCents = 42
	anthropicFake.response.CostReported = true

	resp, err := gw.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.True(t, resp.CostReported)
	assert.Equal(t, int64(42), resp.CostCents, "live figure wins whenever present")
}

func TestGateway_UpstreamErrorWrapped(t *testing.T) {
	gw, anthropicFake, _ := newGateway(t)
	anthropicFake.err = emberr.New(emberr.CodeProviderUpstreamFailure, "503")

	_, err := gw.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.True(t, emberr.IsUpstreamFailure(err))
}
