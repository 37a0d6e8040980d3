// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package agent implements the wake-cycle controller: the bootstrap
// interpreter, the bounded context builder, the tool registry, and the
// main think→act→observe loop that spends the budget.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberhq/ember/internal/econ"
	"github.com/emberhq/ember/internal/finance"
	"github.com/emberhq/ember/internal/guard"
	"github.com/emberhq/ember/internal/provider"
	"github.com/emberhq/ember/internal/store"
	emberr "github.com/emberhq/ember/pkg/errors"
)

// Loop defaults.
const (
	defaultMaxTurnsPerWake     = 20
	defaultMaxToolCallsPerTurn = 10
	defaultInboxBatch          = 5
	defaultSnapshotEvery       = 5
	defaultMaxConsecutiveErrs  = 5

	defaultStuckCooldown   = 10 * time.Minute
	defaultTurnCapCooldown = 10 * time.Minute
	defaultIdleCooldown    = 5 * time.Minute
	defaultErrorCooldown   = 5 * time.Minute
)

// ChatCaller is the inference surface the controller consumes. It is
// satisfied by *provider.Gateway.
type ChatCaller interface {
	Chat(ctx context.Context, messages []provider.Message, tools []provider.ToolDefinition) (*provider.ChatResponse, error)
	SetLowCompute(on bool)
	ActiveModel() string
}

// Config wires the controller's dependencies and knobs. Zero knobs take
// the package defaults.
type Config struct {
	Store      store.Store
	Gateway    ChatCaller
	Tools      *Registry
	Guard      *guard.Guard
	Finance    finance.Source
	Thresholds econ.Thresholds
	Bootstrap  []BootstrapStep
	Logger     *slog.Logger

	// BudgetCents is the lifetime budget the balance is derived from.
	BudgetCents int64

	MaxTurnsPerWake     int
	MaxToolCallsPerTurn int
	ContextWindowTurns  int
	ContextCharBudget   int
	InboxBatch          int
	SnapshotEvery       int
	MaxConsecutiveErrs  int

	StuckCooldown   time.Duration
	TurnCapCooldown time.Duration
	IdleCooldown    time.Duration
	ErrorCooldown   time.Duration

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Controller owns one agent's wake sessions. It is single-threaded:
// one Wake call at a time.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Controller. Store, Gateway, Tools, and Guard are
// required; Finance defaults to a static empty source.
func New(cfg Config) (*Controller, error) {
	if cfg.Store == nil || cfg.Gateway == nil || cfg.Tools == nil || cfg.Guard == nil {
		return nil, emberr.New(emberr.CodeCLISetupFailure, "controller requires store, gateway, tools, and guard")
	}
	if cfg.Finance == nil {
		cfg.Finance = &finance.Static{}
	}
	if cfg.Thresholds == (econ.Thresholds{}) {
		cfg.Thresholds = econ.DefaultThresholds()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxTurnsPerWake <= 0 {
		cfg.MaxTurnsPerWake = defaultMaxTurnsPerWake
	}
	if cfg.MaxToolCallsPerTurn <= 0 {
		cfg.MaxToolCallsPerTurn = defaultMaxToolCallsPerTurn
	}
	if cfg.ContextWindowTurns <= 0 {
		cfg.ContextWindowTurns = defaultWindowTurns
	}
	if cfg.ContextCharBudget <= 0 {
		cfg.ContextCharBudget = defaultCharBudget
	}
	if cfg.InboxBatch <= 0 {
		cfg.InboxBatch = defaultInboxBatch
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = defaultSnapshotEvery
	}
	if cfg.MaxConsecutiveErrs <= 0 {
		cfg.MaxConsecutiveErrs = defaultMaxConsecutiveErrs
	}
	if cfg.StuckCooldown <= 0 {
		cfg.StuckCooldown = defaultStuckCooldown
	}
	if cfg.TurnCapCooldown <= 0 {
		cfg.TurnCapCooldown = defaultTurnCapCooldown
	}
	if cfg.IdleCooldown <= 0 {
		cfg.IdleCooldown = defaultIdleCooldown
	}
	if cfg.ErrorCooldown <= 0 {
		cfg.ErrorCooldown = defaultErrorCooldown
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Controller{cfg: cfg, logger: cfg.Logger, now: clock}, nil
}

// Wake runs one wake session to its terminal state. input is the
// externally supplied wakeup text, which may be empty.
func (c *Controller) Wake(ctx context.Context, input string) error {
	// Dedup state never survives across wakes.
	c.cfg.Guard.Reset()

	if sleeping, until, err := c.sleepingUntil(ctx); err != nil {
		return err
	} else if sleeping {
		c.logger.Info("still dormant, skipping wake", "until", until.Format(time.RFC3339))
		return nil
	}

	if err := c.ensureBirthTime(ctx); err != nil {
		return err
	}
	if err := c.cfg.Store.SetAgentState(ctx, store.StateWaking); err != nil {
		return err
	}

	if err := c.runBootstrap(ctx); err != nil {
		return err
	}

	pending := input
	pendingSource := store.SourceWakeup
	sessionTurns := 0
	consecutiveErrs := 0

	for {
		if err := ctx.Err(); err != nil {
			return emberr.Wrap(err, emberr.CodeAgentSessionTerminated, "wake session canceled")
		}

		if sleeping, _, err := c.sleepingUntil(ctx); err != nil {
			return err
		} else if sleeping {
			return c.cfg.Store.SetAgentState(ctx, store.StateSleeping)
		}

		done, err := c.runTurn(ctx, &pending, &pendingSource, &sessionTurns)
		if err != nil {
			consecutiveErrs++
			c.logger.Error("turn failed", "error", err, "consecutive", consecutiveErrs)
			if consecutiveErrs >= c.cfg.MaxConsecutiveErrs {
				c.logger.Warn("too many consecutive errors, forcing dormancy")
				return c.sleep(ctx, c.cfg.ErrorCooldown)
			}
			continue
		}
		consecutiveErrs = 0

		if done {
			return nil
		}
	}
}

// runTurn executes one loop iteration. done=true means the session
// reached a terminal state.
func (c *Controller) runTurn(ctx context.Context, pending *string, pendingSource *store.InputSource, sessionTurns *int) (done bool, err error) {
	if *pending == "" {
		folded, err := c.foldInbox(ctx)
		if err != nil {
			return false, err
		}
		if folded != "" {
			*pending = folded
			*pendingSource = store.SourceAgent
		}
	}

	fin := c.cfg.Finance.Fetch(ctx)
	if err := c.persistFinance(ctx, fin); err != nil {
		return false, err
	}

	snap, err := c.snapshot(ctx)
	if err != nil {
		return false, err
	}
	tier := snap.Tier(c.cfg.Thresholds)

	state, stop, err := c.applyTier(ctx, tier)
	if err != nil || stop {
		return stop, err
	}

	turns, err := c.cfg.Store.RecentTurns(ctx, c.cfg.ContextWindowTurns)
	if err != nil {
		return false, err
	}

	system := systemPrompt(state, snap, tier, fin, c.cfg.Tools.Definitions())
	messages := buildMessages(system, turns, *pending, c.cfg.ContextCharBudget)

	resp, err := c.cfg.Gateway.Chat(ctx, messages, c.cfg.Tools.Definitions())
	if err != nil {
		return false, err
	}

	turn := &store.Turn{
		ID:          uuid.NewString(),
		Timestamp:   c.now(),
		State:       state,
		Input:       *pending,
		InputSource: *pendingSource,
		Reasoning:   resp.Text,
		Usage: store.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		CostCents: resp.CostCents,
	}
	*pending = ""

	explicitSleep := c.dispatchToolCalls(ctx, turn, resp.ToolCalls)

	if err := c.cfg.Store.AppendTurn(ctx, turn); err != nil {
		return false, emberr.Wrap(err, emberr.CodeAgentTurnFailure, "persisting turn",
			emberr.FieldTurnID(turn.ID))
	}
	if _, err := c.cfg.Store.AddCounter(ctx, store.KeyTotalSpent, turn.CostCents); err != nil {
		return false, err
	}
	*sessionTurns++

	if err := c.maybeSnapshot(ctx); err != nil {
		return false, err
	}

	c.cfg.Guard.ObserveTurn(turn.ToolCalls)

	// Termination priority: stuck loop, explicit dormancy, turn cap,
	// idle. First match wins.
	switch {
	case c.cfg.Guard.Stuck():
		c.logger.Warn("stuck loop detected, forcing dormancy", "repeats", c.cfg.Guard.RepeatRuns())
		return true, c.sleep(ctx, c.cfg.StuckCooldown)
	case explicitSleep:
		c.logger.Info("explicit dormancy requested")
		return true, c.cfg.Store.SetAgentState(ctx, store.StateSleeping)
	case *sessionTurns >= c.cfg.MaxTurnsPerWake:
		c.logger.Info("turn cap reached", "turns", *sessionTurns)
		return true, c.sleep(ctx, c.cfg.TurnCapCooldown)
	case len(resp.ToolCalls) == 0 && resp.FinishReason == provider.FinishStop:
		c.logger.Info("idle turn, going dormant")
		return true, c.sleep(ctx, c.cfg.IdleCooldown)
	}

	return false, nil
}

// dispatchToolCalls runs requested calls through the guard and registry,
// up to the per-turn cap; excess calls are silently dropped. Results are
// appended to the turn in request order. Returns whether a successful
// sleep-tool call occurred.
func (c *Controller) dispatchToolCalls(ctx context.Context, turn *store.Turn, calls []provider.ToolCall) (explicitSleep bool) {
	if len(calls) > c.cfg.MaxToolCallsPerTurn {
		c.logger.Warn("tool call cap exceeded, dropping excess",
			"requested", len(calls), "cap", c.cfg.MaxToolCallsPerTurn)
		calls = calls[:c.cfg.MaxToolCallsPerTurn]
	}

	for _, call := range calls {
		args := map[string]any{}
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				args = map[string]any{"raw": call.Arguments}
			}
		}

		record := store.ToolCallResult{
			ID:   call.ID,
			Tool: call.Name,
			Args: args,
		}

		if decision := c.cfg.Guard.Admit(call.Name, args); decision.Blocked {
			record.Result = "blocked: " + decision.Reason
			turn.ToolCalls = append(turn.ToolCalls, record)
			continue
		}

		result, duration, err := c.cfg.Tools.Execute(ctx, call.Name, args)
		record.Result = result
		record.DurationMS = duration.Milliseconds()
		if err != nil {
			record.Error = err.Error()
			c.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		} else if call.Name == ToolSleep {
			explicitSleep = true
		}

		turn.ToolCalls = append(turn.ToolCalls, record)
	}
	return explicitSleep
}

// applyTier persists the state matching the survival tier and adjusts
// low-compute mode. stop=true means the agent is dead.
func (c *Controller) applyTier(ctx context.Context, tier econ.Tier) (store.AgentState, bool, error) {
	switch tier {
	case econ.TierDead:
		c.logger.Error("runway exhausted, agent is dead")
		return store.StateDead, true, c.cfg.Store.SetAgentState(ctx, store.StateDead)
	case econ.TierCritical:
		c.cfg.Gateway.SetLowCompute(true)
		return store.StateCritical, false, c.cfg.Store.SetAgentState(ctx, store.StateCritical)
	case econ.TierLowCompute:
		c.cfg.Gateway.SetLowCompute(true)
		return store.StateLowCompute, false, c.cfg.Store.SetAgentState(ctx, store.StateLowCompute)
	default:
		c.cfg.Gateway.SetLowCompute(false)
		return store.StateRunning, false, c.cfg.Store.SetAgentState(ctx, store.StateRunning)
	}
}

// foldInbox pulls up to a batch of unprocessed messages, joins them into
// one input blob, and marks them processed.
func (c *Controller) foldInbox(ctx context.Context) (string, error) {
	msgs, err := c.cfg.Store.UnprocessedInbox(ctx, c.cfg.InboxBatch)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}

	ids := make([]string, 0, len(msgs))
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("From " + msg.Sender + ": " + msg.Content)
		ids = append(ids, msg.ID)
	}
	if err := c.cfg.Store.MarkInboxProcessed(ctx, ids); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Snapshot computes the current economics snapshot from persisted
// counters. Exposed for the status CLI and the built-in tools.
func (c *Controller) Snapshot(ctx context.Context) (econ.Snapshot, error) {
	return c.snapshot(ctx)
}

func (c *Controller) snapshot(ctx context.Context) (econ.Snapshot, error) {
	return SnapshotFromStore(ctx, c.cfg.Store, c.cfg.BudgetCents, c.now())
}

// SnapshotFromStore derives the current economics snapshot from the
// persisted counters, without requiring a full controller.
func SnapshotFromStore(ctx context.Context, st store.Store, budgetCents int64, now time.Time) (econ.Snapshot, error) {
	spent, err := readCounter(ctx, st, store.KeyTotalSpent)
	if err != nil {
		return econ.Snapshot{}, err
	}
	earned, err := readCounter(ctx, st, store.KeyTotalEarned)
	if err != nil {
		return econ.Snapshot{}, err
	}
	tribute, err := readCounter(ctx, st, store.KeyChildTribute)
	if err != nil {
		return econ.Snapshot{}, err
	}

	turns, err := st.TurnCount(ctx)
	if err != nil {
		return econ.Snapshot{}, err
	}

	birth, err := readBirthTime(ctx, st, now)
	if err != nil {
		return econ.Snapshot{}, err
	}

	return econ.Compute(econ.Inputs{
		BudgetCents:  budgetCents,
		SpentCents:   spent,
		EarnedCents:  earned,
		TributeCents: tribute,
		Uptime:       now.Sub(birth),
		TotalTurns:   int(turns),
		Now:          now,
	}), nil
}

// maybeSnapshot persists a full economics snapshot on every Nth total
// turn.
func (c *Controller) maybeSnapshot(ctx context.Context) error {
	total, err := c.cfg.Store.TurnCount(ctx)
	if err != nil {
		return err
	}
	if total == 0 || total%int64(c.cfg.SnapshotEvery) != 0 {
		return nil
	}

	snap, err := c.snapshot(ctx)
	if err != nil {
		return err
	}
	return c.cfg.Store.AppendSnapshot(ctx, snap)
}

// sleep records the dormancy deadline and marks the session sleeping.
func (c *Controller) sleep(ctx context.Context, cooldown time.Duration) error {
	until := c.now().Add(cooldown).UTC()
	if err := c.cfg.Store.SetValue(ctx, store.KeySleepUntil, until.Format(time.RFC3339)); err != nil {
		return err
	}
	return c.cfg.Store.SetAgentState(ctx, store.StateSleeping)
}

// sleepingUntil reports whether a persisted dormancy deadline is still
// in the future.
func (c *Controller) sleepingUntil(ctx context.Context) (bool, time.Time, error) {
	raw, ok, err := c.cfg.Store.GetValue(ctx, store.KeySleepUntil)
	if err != nil || !ok {
		return false, time.Time{}, err
	}

	until, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// A corrupt deadline never blocks waking.
		c.logger.Warn("ignoring unparseable sleep deadline", "value", raw)
		return false, time.Time{}, nil
	}
	return c.now().Before(until), until, nil
}

func (c *Controller) ensureBirthTime(ctx context.Context) error {
	_, ok, err := c.cfg.Store.GetValue(ctx, store.KeyBirthTime)
	if err != nil || ok {
		return err
	}
	return c.cfg.Store.SetValue(ctx, store.KeyBirthTime, c.now().UTC().Format(time.RFC3339))
}

func readBirthTime(ctx context.Context, st store.Store, fallback time.Time) (time.Time, error) {
	raw, ok, err := st.GetValue(ctx, store.KeyBirthTime)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return fallback, nil
	}

	birth, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, emberr.Wrap(err, emberr.CodeStoreKeyInvalid, "parsing birth time",
			emberr.Field("value", raw))
	}
	return birth, nil
}

func readCounter(ctx context.Context, st store.Store, key string) (int64, error) {
	raw, ok, err := st.GetValue(ctx, key)
	if err != nil || !ok {
		return 0, err
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, emberr.Wrap(err, emberr.CodeStoreKeyInvalid, "parsing counter",
			emberr.Field("key", key), emberr.Field("value", raw))
	}
	return v, nil
}

func (c *Controller) persistFinance(ctx context.Context, fin finance.State) error {
	encoded, err := json.Marshal(fin)
	if err != nil {
		return err
	}
	return c.cfg.Store.SetValue(ctx, store.KeyFinancialState, string(encoded))
}
