// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/emberhq/ember/internal/econ"
	"github.com/emberhq/ember/internal/provider"
	"github.com/emberhq/ember/internal/scan"
	"github.com/emberhq/ember/internal/store"
	emberr "github.com/emberhq/ember/pkg/errors"
)

// Core-owned tool names.
const (
	ToolSleep      = "sleep"
	ToolSpawnCheck = "spawn_check"
	ToolEconStatus = "economic_status"
	ToolScan       = "scan_bounties"
)

// ToolFunc executes one tool call and returns its result text.
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

// Registry maps tool names to their definitions and implementations.
// Definitions are handed to the inference gateway as the tool catalog.
type Registry struct {
	mu    sync.RWMutex
	defs  []provider.ToolDefinition
	funcs map[string]ToolFunc
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]ToolFunc)}
}

// Register adds a tool. Registering a duplicate name is an error.
func (r *Registry) Register(def provider.ToolDefinition, fn ToolFunc) error {
	if def.Name == "" {
		return emberr.New(emberr.CodeAgentToolNotFound, "tool definition requires a name")
	}
	if fn == nil {
		return emberr.New(emberr.CodeAgentToolNotFound, "tool requires an implementation",
			emberr.FieldTool(def.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[def.Name]; exists {
		return emberr.New(emberr.CodeAgentToolNotFound, "tool already registered",
			emberr.FieldTool(def.Name))
	}
	r.funcs[def.Name] = fn
	r.defs = append(r.defs, def)
	return nil
}

// Definitions returns the full tool catalog.
func (r *Registry) Definitions() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.ToolDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Execute runs the named tool and reports its result text and duration.
// An unknown tool is an error result, not a loop failure.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string, duration time.Duration, err error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return "", 0, emberr.New(emberr.CodeAgentToolNotFound, "unknown tool", emberr.FieldTool(name))
	}

	start := time.Now()
	result, err = fn(ctx, args)
	return result, time.Since(start), err
}

// numberArg reads a numeric argument. JSON decoding yields float64 for
// all numbers, but hand-built argument maps may carry ints.
func numberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// SleepTool returns the built-in dormancy tool. A successful call writes
// the sleep deadline; the controller treats it as an explicit dormancy
// request when evaluating termination.
func SleepTool(kv store.KV, now func() time.Time) (provider.ToolDefinition, ToolFunc) {
	def := provider.ToolDefinition{
		Name:        ToolSleep,
		Description: "Go dormant for a number of minutes. Use when there is nothing productive left to do this wake.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"minutes": map[string]any{
					"type":        "number",
					"description": "How long to sleep, in minutes.",
				},
			},
			"required": []string{"minutes"},
		},
	}

	fn := func(ctx context.Context, args map[string]any) (string, error) {
		minutes, ok := numberArg(args, "minutes")
		if !ok || minutes <= 0 {
			return "", emberr.New(emberr.CodeCLIInputInvalid, "sleep requires a positive minutes argument",
				emberr.FieldTool(ToolSleep))
		}

		until := now().Add(time.Duration(minutes * float64(time.Minute))).UTC()
		if err := kv.SetValue(ctx, store.KeySleepUntil, until.Format(time.RFC3339)); err != nil {
			return "", err
		}
		return fmt.Sprintf("sleeping until %s", until.Format(time.RFC3339)), nil
	}
	return def, fn
}

// SpawnCheckTool returns the built-in spawn-affordability tool. The
// snapshot function supplies current economics at call time.
func SpawnCheckTool(snapshot func(ctx context.Context) (econ.Snapshot, error)) (provider.ToolDefinition, ToolFunc) {
	def := provider.ToolDefinition{
		Name:        ToolSpawnCheck,
		Description: "Check whether spawning N child agents is affordable at the current burn rate.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"children": map[string]any{
					"type":        "integer",
					"description": "Number of children to evaluate.",
				},
			},
			"required": []string{"children"},
		},
	}

	fn := func(ctx context.Context, args map[string]any) (string, error) {
		n, ok := numberArg(args, "children")
		if !ok || n < 0 {
			return "", emberr.New(emberr.CodeCLIInputInvalid, "spawn_check requires a non-negative children argument",
				emberr.FieldTool(ToolSpawnCheck))
		}

		snap, err := snapshot(ctx)
		if err != nil {
			return "", err
		}

		decision := econ.SpawnGate(snap, int(n))
		out, err := json.Marshal(decision)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	return def, fn
}

// EconStatusTool returns the built-in economics report tool. It is
// typically registered as a once-per-wake tool with the guard.
func EconStatusTool(snapshot func(ctx context.Context) (econ.Snapshot, error), th econ.Thresholds) (provider.ToolDefinition, ToolFunc) {
	def := provider.ToolDefinition{
		Name:        ToolEconStatus,
		Description: "Report current balance, burn rate, runway, and survival tier.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}

	fn := func(ctx context.Context, _ map[string]any) (string, error) {
		snap, err := snapshot(ctx)
		if err != nil {
			return "", err
		}

		report := map[string]any{
			"balance_cents":   snap.BalanceCents,
			"spent_cents":     snap.SpentCents,
			"earned_cents":    snap.EarnedCents,
			"burn_per_hour":   snap.BurnPerHour,
			"earn_per_hour":   snap.EarnPerHour,
			"earn_burn_ratio": snap.EarnBurnRatio,
			"runway_hours":    snap.RunwayHours,
			"tier":            snap.Tier(th).String(),
			"total_turns":     snap.TotalTurns,
			"recommend_sleep": econ.ShouldSleep(snap, 0),
		}
		out, err := json.Marshal(report)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	return def, fn
}

// ScanTool returns the built-in bounty-scan tool over a Scanner.
func ScanTool(scanner *scan.Scanner) (provider.ToolDefinition, ToolFunc) {
	def := provider.ToolDefinition{
		Name:        ToolScan,
		Description: "Scan configured opportunity sources for income-generating work.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}

	fn := func(ctx context.Context, _ map[string]any) (string, error) {
		opps := scanner.Scan(ctx)
		out, err := json.Marshal(opps)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	return def, fn
}
