// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package anthropic translates the normalized chat convention to the
// Anthropic Messages protocol.
package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/emberhq/ember/internal/provider"
	emberr "github.com/emberhq/ember/pkg/errors"
)

// Compile-time interface check.
var _ provider.Backend = (*Backend)(nil)

// Config holds Anthropic backend configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Backend implements provider.Backend using the Anthropic Messages API.
type Backend struct {
	client anthropicsdk.Client
	config Config
}

// New creates an Anthropic backend. Returns an error if the API key is missing.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, emberr.New(emberr.CodeProviderRequestInvalid, "anthropic: missing api_key in config")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Backend{client: anthropicsdk.NewClient(opts...), config: cfg}, nil
}

func (b *Backend) Name() string { return "anthropic" }

// Chat performs one non-streaming Messages call.
func (b *Backend) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	params, err := BuildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, emberr.Wrap(err, emberr.CodeProviderUpstreamFailure, "anthropic: messages call")
	}
	if msg == nil {
		return nil, emberr.New(emberr.CodeProviderResponseInvalid, "anthropic: empty response")
	}

	return Normalize(msg), nil
}

// BuildParams converts a normalized request into Anthropic MessageNewParams.
// System messages are extracted into the top-level system field; the
// protocol forbids them in the message array.
func BuildParams(req provider.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	msgs, system, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}

	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{
			{Text: system},
		}
	}

	if req.Temperature != nil {
		params.Temperature = anthropicsdk.Float(*req.Temperature)
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{
			OfAuto: &anthropicsdk.ToolChoiceAutoParam{},
		}
	}

	return params, nil
}

// convertMessages transforms the normalized messages into Anthropic
// message params, returning the concatenated system text separately.
func convertMessages(msgs []provider.Message) ([]anthropicsdk.MessageParam, string, error) {
	var result []anthropicsdk.MessageParam
	var system []string

	for _, msg := range msgs {
		switch msg.Role {
		case provider.RoleSystem:
			system = append(system, msg.Content)

		case provider.RoleUser:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))

		case provider.RoleAssistant:
			result = append(result, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleAssistant,
				Content: assistantBlocks(msg),
			})

		case provider.RoleTool:
			// Tool results travel as user-role messages holding a
			// single tool_result block tied to the original call id.
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))

		default:
			return nil, "", emberr.Errorf(emberr.CodeProviderRequestInvalid, "anthropic: unsupported message role %q", msg.Role)
		}
	}

	return result, strings.Join(system, "\n\n"), nil
}

// assistantBlocks builds the content-block array for an assistant
// message: a text block for any text, a tool_use block per requested
// call. The protocol forbids empty content arrays, so a contentless
// assistant message becomes a single empty text block.
func assistantBlocks(msg provider.Message) []anthropicsdk.ContentBlockParamUnion {
	var blocks []anthropicsdk.ContentBlockParamUnion

	if msg.Content != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
	}

	for _, tc := range msg.ToolCalls {
		var input map[string]any
		if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
			// Unparseable arguments are preserved under a fallback key
			// rather than dropped.
			input = map[string]any{"raw": tc.Arguments}
		}
		blocks = append(blocks, anthropicsdk.ContentBlockParamUnion{
			OfToolUse: &anthropicsdk.ToolUseBlockParam{
				ID:    tc.ID,
				Name:  tc.Name,
				Input: input,
			},
		})
	}

	if len(blocks) == 0 {
		blocks = append(blocks, anthropicsdk.NewTextBlock(""))
	}
	return blocks
}

// convertTools maps tool definitions to Anthropic tool params. The
// normalized InputSchema is a full JSON Schema object; the SDK wants
// Properties and Required split out.
func convertTools(tools []provider.ToolDefinition) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.Opt(t.Description),
				InputSchema: extractSchema(t.InputSchema),
			},
		})
	}
	return result
}

func extractSchema(raw map[string]any) anthropicsdk.ToolInputSchemaParam {
	schema := anthropicsdk.ToolInputSchemaParam{}
	if props, ok := raw["properties"]; ok {
		schema.Properties = props
	}
	switch req := raw["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		strs := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				strs = append(strs, s)
			}
		}
		schema.Required = strs
	}
	return schema
}

// Normalize maps an Anthropic response message onto the shared shape.
// tool_use blocks become normalized tool calls with their structured
// input re-serialized to a JSON string; a tool_use stop reason maps to
// the shared "has tool calls" finish value, everything else is a stop.
func Normalize(msg *anthropicsdk.Message) *provider.ChatResponse {
	resp := &provider.ChatResponse{
		FinishReason: provider.FinishStop,
		Usage: provider.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				args = []byte("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(args),
			})
		}
	}
	resp.Text = text.String()

	if msg.StopReason == "tool_use" {
		resp.FinishReason = provider.FinishToolCalls
	}
	return resp
}
