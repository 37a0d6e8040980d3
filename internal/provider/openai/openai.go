// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package openai translates the normalized chat convention to the
// OpenAI-compatible Chat Completions protocol.
package openai

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/emberhq/ember/internal/provider"
	emberr "github.com/emberhq/ember/pkg/errors"
)

// Compile-time interface check.
var _ provider.Backend = (*Backend)(nil)

// Config holds OpenAI backend configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional: point at any OpenAI-compatible endpoint
}

// Backend implements provider.Backend using the Chat Completions API.
type Backend struct {
	client openaisdk.Client
	config Config
}

// New creates an OpenAI backend. Returns an error if the API key is missing.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, emberr.New(emberr.CodeProviderRequestInvalid, "openai: missing api_key in config")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Backend{client: openaisdk.NewClient(opts...), config: cfg}, nil
}

func (b *Backend) Name() string { return "openai" }

// Chat performs one non-streaming chat completion call.
func (b *Backend) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	params, err := BuildParams(req)
	if err != nil {
		return nil, err
	}

	completion, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, emberr.Wrap(err, emberr.CodeProviderUpstreamFailure, "openai: completion call")
	}

	return Normalize(completion)
}

// BuildParams converts a normalized request into ChatCompletionNewParams.
// Messages pass through near-verbatim; the token ceiling rides in
// max_completion_tokens for model families that require it, max_tokens
// otherwise.
func BuildParams(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
	}

	if req.MaxTokens > 0 {
		if provider.UsesCompletionTokenLimit(req.Model) {
			params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
		} else {
			params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
		}
	}

	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params, nil
}

func convertMessages(msgs []provider.Message) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	var result []openaisdk.ChatCompletionMessageParamUnion

	for _, msg := range msgs {
		switch msg.Role {
		case provider.RoleSystem:
			result = append(result, openaisdk.SystemMessage(msg.Content))
		case provider.RoleUser:
			result = append(result, openaisdk.UserMessage(msg.Content))
		case provider.RoleAssistant:
			result = append(result, assistantMessage(msg))
		case provider.RoleTool:
			result = append(result, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return nil, emberr.Errorf(emberr.CodeProviderRequestInvalid, "openai: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

// assistantMessage builds an assistant param, carrying any requested
// tool calls through as provided.
func assistantMessage(msg provider.Message) openaisdk.ChatCompletionMessageParamUnion {
	if len(msg.ToolCalls) == 0 {
		return openaisdk.AssistantMessage(msg.Content)
	}

	assistant := openaisdk.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		assistant.Content.OfString = param.NewOpt(msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		assistant.ToolCalls = append(assistant.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}

	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func convertTools(tools []provider.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.InputSchema),
			},
		})
	}
	return result
}

// Normalize maps a chat completion onto the shared response shape. A
// response without a usable choice is a hard failure for the turn.
func Normalize(completion *openaisdk.ChatCompletion) (*provider.ChatResponse, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return nil, emberr.New(emberr.CodeProviderResponseInvalid, "openai: response has no choices")
	}

	choice := completion.Choices[0]
	resp := &provider.ChatResponse{
		Text:         choice.Message.Content,
		FinishReason: provider.FinishStop,
		Usage: provider.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
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
	return resp, nil
}
