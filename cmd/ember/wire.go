// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/emberhq/ember/internal/agent"
	"github.com/emberhq/ember/internal/config"
	"github.com/emberhq/ember/internal/econ"
	"github.com/emberhq/ember/internal/finance"
	"github.com/emberhq/ember/internal/guard"
	"github.com/emberhq/ember/internal/provider"
	"github.com/emberhq/ember/internal/provider/anthropic"
	"github.com/emberhq/ember/internal/provider/openai"
	"github.com/emberhq/ember/internal/provider/relay"
	"github.com/emberhq/ember/internal/scan"
	"github.com/emberhq/ember/internal/store"
	"github.com/emberhq/ember/internal/store/sqlite"
	emberr "github.com/emberhq/ember/pkg/errors"
)

// commandTimeout bounds the shell-execution tool.
const commandTimeout = 2 * time.Minute

// system holds everything a command needs to run the agent.
type system struct {
	cfg        *config.Config
	store      store.Store
	controller *agent.Controller
	logger     *slog.Logger
}

func (s *system) Close() error {
	return s.store.Close()
}

// buildSystem wires store, gateway, tools, guard, finance, and the
// controller from configuration.
func buildSystem(cfg *config.Config, logger *slog.Logger) (*system, error) {
	st, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	gateway, err := buildGateway(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	thresholds := econ.Thresholds{
		NormalHours:     cfg.Economics.NormalHours,
		LowComputeHours: cfg.Economics.LowComputeHours,
		CriticalHours:   cfg.Economics.CriticalHours,
	}

	var financeSource finance.Source = &finance.Static{}
	if cfg.Finance.BalanceURL != "" || cfg.Finance.TokenURL != "" {
		financeSource = finance.NewClient(finance.Config{
			BalanceURL: cfg.Finance.BalanceURL,
			TokenURL:   cfg.Finance.TokenURL,
			Timeout:    time.Duration(cfg.Finance.TimeoutSeconds) * time.Second,
		}, logger)
	}

	var ctrl *agent.Controller
	registry, err := buildTools(cfg, st, thresholds, logger, func(ctx context.Context) (econ.Snapshot, error) {
		return ctrl.Snapshot(ctx)
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	bootstrap := agent.DefaultBootstrap()
	if cfg.Bootstrap.Script != "" {
		bootstrap, err = agent.LoadBootstrap(cfg.Bootstrap.Script)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	ctrl, err = agent.New(agent.Config{
		Store:   st,
		Gateway: gateway,
		Tools:   registry,
		Guard: guard.New(guard.Config{
			OnceTools: cfg.Guard.OnceTools,
			ExecTool:  cfg.Guard.ExecTool,
		}),
		Finance:             financeSource,
		Thresholds:          thresholds,
		Bootstrap:           bootstrap,
		Logger:              logger,
		BudgetCents:         cfg.Economics.BudgetCents,
		MaxTurnsPerWake:     cfg.Loop.MaxTurnsPerWake,
		MaxToolCallsPerTurn: cfg.Loop.MaxToolCallsPerTurn,
		ContextWindowTurns:  cfg.Loop.ContextWindowTurns,
		ContextCharBudget:   cfg.Loop.ContextCharBudget,
		InboxBatch:          cfg.Loop.InboxBatch,
		SnapshotEvery:       cfg.Loop.SnapshotEvery,
		StuckCooldown:       time.Duration(cfg.Loop.StuckCooldownMinutes) * time.Minute,
		TurnCapCooldown:     time.Duration(cfg.Loop.TurnCapCooldownMinutes) * time.Minute,
		IdleCooldown:        time.Duration(cfg.Loop.IdleCooldownMinutes) * time.Minute,
		ErrorCooldown:       time.Duration(cfg.Loop.ErrorCooldownMinutes) * time.Minute,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &system{cfg: cfg, store: st, controller: ctrl, logger: logger}, nil
}

func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return store.NewMemory(), nil
	default:
		return sqlite.Open(cfg.Storage.Path)
	}
}

// buildGateway registers every backend whose credentials are present.
func buildGateway(cfg *config.Config) (*provider.Gateway, error) {
	routes := make([]provider.Route, 0, len(cfg.Models.Routes))
	for _, r := range cfg.Models.Routes {
		routes = append(routes, provider.Route{Prefix: r.Prefix, Backend: r.Backend})
	}

	gateway, err := provider.NewGateway(provider.GatewayConfig{
		Model:               cfg.Models.Default,
		MaxTokens:           cfg.Models.MaxTokens,
		LowComputeModel:     cfg.Models.LowCompute,
		LowComputeMaxTokens: cfg.Models.LowComputeMaxTokens,
		Routes:              routes,
		DefaultBackend:      cfg.Models.DefaultBackend,
	}, provider.NewPriceTable(cfg.Models.Default))
	if err != nil {
		return nil, err
	}

	registered := 0
	if pc, ok := cfg.Providers["anthropic"]; ok && pc.APIKey != "" {
		backend, err := anthropic.New(anthropic.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
		if err != nil {
			return nil, err
		}
		gateway.RegisterBackend("anthropic", backend)
		registered++
	}
	if pc, ok := cfg.Providers["openai"]; ok && pc.APIKey != "" {
		backend, err := openai.New(openai.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
		if err != nil {
			return nil, err
		}
		gateway.RegisterBackend("openai", backend)
		registered++
	}
	if pc, ok := cfg.Providers["relay"]; ok && pc.Endpoint != "" {
		backend, err := relay.New(relay.Config{
			URL:      pc.Endpoint,
			TenantID: pc.TenantID,
			Scope:    pc.Scope,
			APIKey:   pc.APIKey,
		})
		if err != nil {
			return nil, err
		}
		gateway.RegisterBackend("relay", backend)
		registered++
	}

	if registered == 0 {
		return nil, emberr.New(emberr.CodeCLISetupFailure,
			"no inference backend configured; set an api_key under providers")
	}
	return gateway, nil
}

// buildTools registers the core tool set: the dormancy and economics
// tools, the bounty scan, and the shell-execution edge tool.
func buildTools(cfg *config.Config, st store.Store, th econ.Thresholds, logger *slog.Logger, snapshot func(context.Context) (econ.Snapshot, error)) (*agent.Registry, error) {
	registry := agent.NewRegistry()

	def, fn := agent.SleepTool(st, time.Now)
	if err := registry.Register(def, fn); err != nil {
		return nil, err
	}

	def, fn = agent.SpawnCheckTool(snapshot)
	if err := registry.Register(def, fn); err != nil {
		return nil, err
	}

	def, fn = agent.EconStatusTool(snapshot, th)
	if err := registry.Register(def, fn); err != nil {
		return nil, err
	}

	sources := make([]scan.Source, 0, len(cfg.Scan.Sources))
	for _, raw := range cfg.Scan.Sources {
		src, err := scan.NewHTTPSource(raw, 30*time.Second)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	scanner := scan.NewScanner(sources, time.Duration(cfg.Scan.TTLMinutes)*time.Minute, logger)
	def, fn = agent.ScanTool(scanner)
	if err := registry.Register(def, fn); err != nil {
		return nil, err
	}

	if err := registry.Register(execToolDefinition(cfg.Guard.ExecTool), execTool()); err != nil {
		return nil, err
	}

	return registry, nil
}

func execToolDefinition(name string) provider.ToolDefinition {
	return provider.ToolDefinition{
		Name:        name,
		Description: "Run a shell command and return its combined output.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The command to run.",
				},
			},
			"required": []string{"command"},
		},
	}
}

func execTool() agent.ToolFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		command, _ := args["command"].(string)
		command = strings.TrimSpace(command)
		if command == "" {
			return "", emberr.New(emberr.CodeCLIInputInvalid, "run_command requires a command argument")
		}

		runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		out, err := exec.CommandContext(runCtx, "sh", "-c", command).CombinedOutput()
		if err != nil {
			// Output often explains the failure; keep both.
			return string(out), emberr.Wrap(err, emberr.CodeAgentTurnFailure, "command failed")
		}
		return string(out), nil
	}
}
