// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"

	emberr "github.com/emberhq/ember/pkg/errors"
)

// Config is the top-level Ember configuration.
type Config struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    ModelsConfig              `mapstructure:"models"`
	Economics EconomicsConfig           `mapstructure:"economics"`
	Loop      LoopConfig                `mapstructure:"loop"`
	Guard     GuardConfig               `mapstructure:"guard"`
	Finance   FinanceConfig             `mapstructure:"finance"`
	Scan      ScanConfig                `mapstructure:"scan"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Bootstrap BootstrapConfig           `mapstructure:"bootstrap"`
}

// ProviderConfig holds credentials and endpoint for one inference
// backend. TenantID and Scope apply only to the relay backend.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	TenantID string `mapstructure:"tenant_id"`
	Scope    string `mapstructure:"scope"`
}

// RouteConfig maps a model-name prefix to a backend.
type RouteConfig struct {
	Prefix  string `mapstructure:"prefix"`
	Backend string `mapstructure:"backend"`
}

// ModelsConfig controls model selection, token ceilings, and routing.
type ModelsConfig struct {
	Default             string        `mapstructure:"default"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	LowCompute          string        `mapstructure:"low_compute"`
	LowComputeMaxTokens int           `mapstructure:"low_compute_max_tokens"`
	Routes              []RouteConfig `mapstructure:"routes"`
	DefaultBackend      string        `mapstructure:"default_backend"`
}

// EconomicsConfig sets the lifetime budget and the survival-tier
// runway boundaries in hours.
type EconomicsConfig struct {
	BudgetCents     int64   `mapstructure:"budget_cents"`
	NormalHours     float64 `mapstructure:"normal_hours"`
	LowComputeHours float64 `mapstructure:"low_compute_hours"`
	CriticalHours   float64 `mapstructure:"critical_hours"`
}

// LoopConfig bounds the wake-cycle loop. Cooldowns are minutes.
type LoopConfig struct {
	MaxTurnsPerWake     int `mapstructure:"max_turns_per_wake"`
	MaxToolCallsPerTurn int `mapstructure:"max_tool_calls_per_turn"`
	ContextWindowTurns  int `mapstructure:"context_window_turns"`
	ContextCharBudget   int `mapstructure:"context_char_budget"`
	InboxBatch          int `mapstructure:"inbox_batch"`
	SnapshotEvery       int `mapstructure:"snapshot_every"`

	StuckCooldownMinutes   int `mapstructure:"stuck_cooldown_minutes"`
	TurnCapCooldownMinutes int `mapstructure:"turn_cap_cooldown_minutes"`
	IdleCooldownMinutes    int `mapstructure:"idle_cooldown_minutes"`
	ErrorCooldownMinutes   int `mapstructure:"error_cooldown_minutes"`
}

// GuardConfig declares which tools the admission guard watches.
type GuardConfig struct {
	OnceTools []string `mapstructure:"once_tools"`
	ExecTool  string   `mapstructure:"exec_tool"`
}

// FinanceConfig points at the external balance endpoints.
type FinanceConfig struct {
	BalanceURL     string `mapstructure:"balance_url"`
	TokenURL       string `mapstructure:"token_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ScanConfig configures the bounty scan.
type ScanConfig struct {
	Sources    []string `mapstructure:"sources"`
	TTLMinutes int      `mapstructure:"ttl_minutes"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// BootstrapConfig points at an optional YAML bootstrap script. An empty
// path means the compiled-in default script.
type BootstrapConfig struct {
	Script string `mapstructure:"script"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix EMBER_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "ember.db")
	v.SetDefault("models.default", "claude-sonnet-4-5")
	v.SetDefault("models.max_tokens", 8000)
	v.SetDefault("models.low_compute", "claude-haiku-4-5")
	v.SetDefault("models.low_compute_max_tokens", 2000)
	v.SetDefault("models.default_backend", "anthropic")
	v.SetDefault("economics.budget_cents", 10000)
	v.SetDefault("economics.normal_hours", 72.0)
	v.SetDefault("economics.low_compute_hours", 24.0)
	v.SetDefault("economics.critical_hours", 4.0)
	v.SetDefault("loop.max_turns_per_wake", 20)
	v.SetDefault("loop.max_tool_calls_per_turn", 10)
	v.SetDefault("loop.context_window_turns", 20)
	v.SetDefault("loop.context_char_budget", 48000)
	v.SetDefault("loop.inbox_batch", 5)
	v.SetDefault("loop.snapshot_every", 5)
	v.SetDefault("loop.stuck_cooldown_minutes", 10)
	v.SetDefault("loop.turn_cap_cooldown_minutes", 10)
	v.SetDefault("loop.idle_cooldown_minutes", 5)
	v.SetDefault("loop.error_cooldown_minutes", 5)
	v.SetDefault("guard.exec_tool", "run_command")
	v.SetDefault("guard.once_tools", []string{"economic_status"})
	v.SetDefault("finance.timeout_seconds", 10)
	v.SetDefault("scan.ttl_minutes", 5)

	// Environment
	v.SetEnvPrefix("EMBER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, emberr.Errorf(emberr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, emberr.Errorf(emberr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, emberr.Errorf(emberr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateEconomics()...)
	errs = append(errs, c.validateLoop()...)

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, emberr.Errorf(emberr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q",
			c.Storage.Backend,
		))
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, emberr.Errorf(emberr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty for the sqlite backend"))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	if c.Models.Default == "" {
		errs = append(errs, emberr.Errorf(emberr.CodeConfigValidateInvalidValue, "config: models.default must not be empty"))
	}
	if c.Models.MaxTokens <= 0 {
		errs = append(errs, emberr.Errorf(emberr.CodeConfigValidateInvalidValue,
			"config: models.max_tokens must be greater than 0, got %d",
			c.Models.MaxTokens,
		))
	}
	if c.Models.DefaultBackend == "" {
		errs = append(errs, emberr.Errorf(emberr.CodeConfigValidateInvalidValue, "config: models.default_backend must not be empty"))
	}

	for i, route := range c.Models.Routes {
		if route.Prefix == "" || route.Backend == "" {
			errs = append(errs, emberr.Errorf(emberr.CodeConfigValidateInvalidValue,
				"config: models.routes[%d] requires both prefix and backend", i))
		}
	}

	return errs
}

func (c *Config) validateEconomics() []error {
	var errs []error

	if c.Economics.BudgetCents <= 0 {
		errs = append(errs, emberr.Errorf(emberr.CodeConfigValidateInvalidValue,
			"config: economics.budget_cents must be greater than 0, got %d",
			c.Economics.BudgetCents,
		))
	}
	if c.Economics.CriticalHours <= 0 ||
		c.Economics.LowComputeHours <= c.Economics.CriticalHours ||
		c.Economics.NormalHours <= c.Economics.LowComputeHours {
		errs = append(errs, emberr.Errorf(emberr.CodeConfigValidateInvalidValue,
			"config: economics tier hours must satisfy 0 < critical < low_compute < normal, got %g/%g/%g",
			c.Economics.CriticalHours, c.Economics.LowComputeHours, c.Economics.NormalHours,
		))
	}

	return errs
}

func (c *Config) validateLoop() []error {
	var errs []error

	if c.Loop.MaxTurnsPerWake <= 0 {
		errs = append(errs, emberr.Errorf(emberr.CodeConfigValidateInvalidValue,
			"config: loop.max_turns_per_wake must be greater than 0, got %d",
			c.Loop.MaxTurnsPerWake,
		))
	}
	if c.Loop.MaxToolCallsPerTurn <= 0 {
		errs = append(errs, emberr.Errorf(emberr.CodeConfigValidateInvalidValue,
			"config: loop.max_tool_calls_per_turn must be greater than 0, got %d",
			c.Loop.MaxToolCallsPerTurn,
		))
	}
	if c.Loop.SnapshotEvery <= 0 {
		errs = append(errs, emberr.Errorf(emberr.CodeConfigValidateInvalidValue,
			"config: loop.snapshot_every must be greater than 0, got %d",
			c.Loop.SnapshotEvery,
		))
	}

	return errs
}
