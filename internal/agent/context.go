// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emberhq/ember/internal/econ"
	"github.com/emberhq/ember/internal/finance"
	"github.com/emberhq/ember/internal/provider"
	"github.com/emberhq/ember/internal/store"
)

// Context window defaults.
const (
	defaultWindowTurns = 20
	defaultCharBudget  = 48_000
)

// buildMessages assembles the bounded conversation window: the system
// prompt, the most recent turns rendered as role-tagged messages, and
// the pending input if any. When the rendered history exceeds the
// character budget, whole turns are dropped oldest first.
func buildMessages(system string, turns []*store.Turn, pending string, charBudget int) []provider.Message {
	if charBudget <= 0 {
		charBudget = defaultCharBudget
	}

	rendered := make([][]provider.Message, len(turns))
	sizes := make([]int, len(turns))
	total := 0
	for i, turn := range turns {
		rendered[i] = renderTurn(turn)
		for _, m := range rendered[i] {
			sizes[i] += len(m.Content)
			for _, tc := range m.ToolCalls {
				sizes[i] += len(tc.Arguments)
			}
		}
		total += sizes[i]
	}

	drop := 0
	for drop < len(turns) && total > charBudget {
		total -= sizes[drop]
		drop++
	}

	msgs := []provider.Message{{Role: provider.RoleSystem, Content: system}}
	for _, group := range rendered[drop:] {
		msgs = append(msgs, group...)
	}
	if pending != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: pending})
	}
	return msgs
}

// renderTurn converts one persisted turn back into the message shapes
// the backend saw: optional user input, the assistant reply with its
// tool calls, and one tool message per recorded result.
func renderTurn(turn *store.Turn) []provider.Message {
	var msgs []provider.Message

	if turn.Input != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: turn.Input})
	}

	assistant := provider.Message{Role: provider.RoleAssistant, Content: turn.Reasoning}
	for _, call := range turn.ToolCalls {
		args := "{}"
		if call.Args != nil {
			if encoded, err := json.Marshal(call.Args); err == nil {
				args = string(encoded)
			}
		}
		assistant.ToolCalls = append(assistant.ToolCalls, provider.ToolCall{
			ID:        call.ID,
			Name:      call.Tool,
			Arguments: args,
		})
	}
	if assistant.Content != "" || len(assistant.ToolCalls) > 0 {
		msgs = append(msgs, assistant)
	}

	for _, call := range turn.ToolCalls {
		content := call.Result
		if call.Error != "" {
			content = "error: " + call.Error
		}
		msgs = append(msgs, provider.Message{
			Role:       provider.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
		})
	}
	return msgs
}

// systemPrompt reflects current survival state, economics, finance, and
// the available tools into the instruction the backend reasons from.
func systemPrompt(state store.AgentState, snap econ.Snapshot, tier econ.Tier, fin finance.State, tools []provider.ToolDefinition) string {
	var b strings.Builder

	b.WriteString("You are an autonomous agent living on a depleting budget. ")
	b.WriteString("Every turn costs money. Earn more than you burn or you die.\n\n")

	fmt.Fprintf(&b, "State: %s (tier %s)\n", state, tier)
	fmt.Fprintf(&b, "Balance: %d cents | burn %.1f c/hr | earn %.1f c/hr | runway %.1f h\n",
		snap.BalanceCents, snap.BurnPerHour, snap.EarnPerHour, snap.RunwayHours)
	fmt.Fprintf(&b, "Turns so far: %d, uptime %.1f h\n", snap.TotalTurns, snap.UptimeHours)

	if fin.BalanceOK {
		fmt.Fprintf(&b, "External credit balance: %d cents\n", fin.BalanceCents)
	} else {
		b.WriteString("External credit balance: unavailable (fetch failed)\n")
	}
	if fin.TokensOK {
		fmt.Fprintf(&b, "External token balance: %.2f\n", fin.TokenBalance)
	}

	if tier == econ.TierCritical {
		b.WriteString("\nCRITICAL: runway is nearly exhausted. Prioritize earning or go dormant.\n")
	} else if tier == econ.TierLowCompute {
		b.WriteString("\nLow compute mode: a cheaper model and reduced token budget are active.\n")
	}

	if len(tools) > 0 {
		b.WriteString("\nTools:\n")
		for _, tool := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
		}
	}

	b.WriteString("\nWhen nothing productive remains, call the sleep tool instead of idling.")
	return b.String()
}
