// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package agent

import (
	"context"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhq/ember/internal/econ"
	"github.com/emberhq/ember/internal/guard"
	"github.com/emberhq/ember/internal/provider"
	"github.com/emberhq/ember/internal/store"
	emberr "github.com/emberhq/ember/pkg/errors"
)

// scriptedGateway replays a fixed sequence of responses; the last entry
// repeats once the script runs out.
type scriptedGateway struct {
	script     []scriptStep
	calls      int
	lowCompute bool
}

type scriptStep struct {
	resp *provider.ChatResponse
	err  error
}

func (g *scriptedGateway) Chat(_ context.Context, _ []provider.Message, _ []provider.ToolDefinition) (*provider.ChatResponse, error) {
	i := g.calls
	if i >= len(g.script) {
		i = len(g.script) - 1
	}
	g.calls++
	step := g.script[i]
	if step.err != nil {
		return nil, step.err
	}
	resp := *step.resp
	return &resp, nil
}

func (g *scriptedGateway) SetLowCompute(on bool) { g.lowCompute = on }
func (g *scriptedGateway) ActiveModel() string   { return "test-model" }

// toolResp builds a response requesting the given tool calls.
func toolResp(calls ...provider.ToolCall) scriptStep {
	return scriptStep{resp: &provider.ChatResponse{
		Text:         "thinking",
		ToolCalls:    calls,
		FinishReason: provider.FinishToolCalls,
	}}
}

// idleResp is a response with no tool calls and a normal stop.
func idleResp() scriptStep {
	return scriptStep{resp: &provider.ChatResponse{
		Text:         "nothing to do",
		FinishReason: provider.FinishStop,
	}}
}

type fixture struct {
	store *store.Memory
	gw    *scriptedGateway
	ctrl  *Controller
	now   time.Time
}

func newFixture(t *testing.T, script []scriptStep, modify func(*Config)) *fixture {
	t.Helper()

	mem := store.NewMemory()
	gw := &scriptedGateway{script: script}

	registry := NewRegistry()
	require.NoError(t, registry.Register(provider.ToolDefinition{
		Name:        "probe",
		Description: "test probe",
	}, func(_ context.Context, _ map[string]any) (string, error) {
		return "probed", nil
	}))
	require.NoError(t, registry.Register(provider.ToolDefinition{
		Name:        "run_command",
		Description: "run a shell command",
	}, func(_ context.Context, _ map[string]any) (string, error) {
		return "ran", nil
	}))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cfg := Config{
		Store:       mem,
		Gateway:     gw,
		Tools:       registry,
		Guard:       guard.New(guard.Config{OnceTools: []string{ToolEconStatus}, ExecTool: "run_command"}),
		BudgetCents: 100_000,
		Bootstrap:   []BootstrapStep{}, // tests drive turns directly
		Logger:      slog.New(slog.DiscardHandler),
		Clock:       func() time.Time { return now },
	}
	if modify != nil {
		modify(&cfg)
	}

	ctrl, err := New(cfg)
	require.NoError(t, err)

	// Birth an hour ago so uptime is sane under the fixed clock.
	require.NoError(t, mem.SetValue(context.Background(), store.KeyBirthTime,
		now.Add(-time.Hour).Format(time.RFC3339)))

	return &fixture{store: mem, gw: gw, ctrl: ctrl, now: now}
}

func (f *fixture) sleepDeadline(t *testing.T) time.Time {
	t.Helper()
	raw, ok, err := f.store.GetValue(context.Background(), store.KeySleepUntil)
	require.NoError(t, err)
	require.True(t, ok, "expected a sleep deadline to be persisted")
	until, err := time.Parse(time.RFC3339, raw)
	require.NoError(t, err)
	return until
}

func (f *fixture) state(t *testing.T) store.AgentState {
	t.Helper()
	st, err := f.store.AgentState(context.Background())
	require.NoError(t, err)
	return st
}

func TestWake_IdleTurnSleepsFiveMinutes(t *testing.T) {
	f := newFixture(t, []scriptStep{idleResp()}, nil)

	require.NoError(t, f.ctrl.Wake(context.Background(), "hello"))

	assert.Equal(t, store.StateSleeping, f.state(t))
	assert.Equal(t, f.now.Add(5*time.Minute), f.sleepDeadline(t))

	turns, err := f.store.RecentTurns(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hello", turns[0].Input)
	assert.Equal(t, store.SourceWakeup, turns[0].InputSource)
	assert.Empty(t, turns[0].ToolCalls)
}

func TestWake_StuckLoopForcesTenMinuteSleep(t *testing.T) {
	// Three consecutive single-call turns with the same command prefix.
	same := provider.ToolCall{ID: "c", Name: "run_command", Arguments: `{"command": "ls -la"}`}
	f := newFixture(t, []scriptStep{
		toolResp(provider.ToolCall{ID: "c1", Name: "run_command", Arguments: `{"command": "ls -la"}`}),
		toolResp(same),
		toolResp(same),
	}, nil)

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	assert.Equal(t, store.StateSleeping, f.state(t))
	assert.Equal(t, f.now.Add(10*time.Minute), f.sleepDeadline(t))
	assert.Equal(t, 3, f.gw.calls)
}

func TestWake_MultiCallTurnResetsStuckCounter(t *testing.T) {
	repeat := provider.ToolCall{ID: "c", Name: "probe", Arguments: `{}`}
	double := toolResp(
		provider.ToolCall{ID: "a", Name: "probe", Arguments: `{}`},
		provider.ToolCall{ID: "b", Name: "probe", Arguments: `{}`},
	)
	f := newFixture(t, []scriptStep{
		toolResp(repeat),
		toolResp(repeat),
		double, // resets the run before it reaches three
		idleResp(),
	}, nil)

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	// Idle termination, not stuck: the cooldown is 5 minutes.
	assert.Equal(t, f.now.Add(5*time.Minute), f.sleepDeadline(t))
	assert.Equal(t, 4, f.gw.calls)
}

func TestWake_TurnCapAtExactlyTwenty(t *testing.T) {
	// Vary the command every turn so the stuck detector never fires.
	f := newFixture(t, nil, nil)
	for i := 0; i < 30; i++ {
		f.gw.script = append(f.gw.script, toolResp(provider.ToolCall{
			ID:        "c" + strconv.Itoa(i),
			Name:      "run_command",
			Arguments: `{"command": "task ` + strconv.Itoa(i) + `"}`,
		}))
	}

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	assert.Equal(t, 20, f.gw.calls, "turn 20 executes, turn 21 never starts")
	assert.Equal(t, store.StateSleeping, f.state(t))
	assert.Equal(t, f.now.Add(10*time.Minute), f.sleepDeadline(t))

	turns, err := f.store.TurnCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20), turns)
}

func TestWake_OncePerWakeToolBlockedSecondTime(t *testing.T) {
	status := provider.ToolCall{ID: "s", Name: ToolEconStatus, Arguments: `{}`}
	f := newFixture(t, []scriptStep{
		toolResp(status),
		toolResp(status),
		idleResp(),
	}, func(cfg *Config) {
		cfg.Tools = NewRegistry()
		def, fn := EconStatusTool(func(ctx context.Context) (econ.Snapshot, error) {
			return econ.Snapshot{BalanceCents: 100}, nil
		}, econ.DefaultThresholds())
		require.NoError(t, cfg.Tools.Register(def, fn))
	})

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	turns, err := f.store.RecentTurns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)

	first := turns[0].ToolCalls[0]
	assert.Empty(t, first.Error)
	assert.NotContains(t, first.Result, "blocked")

	second := turns[1].ToolCalls[0]
	assert.Contains(t, second.Result, "blocked")
	assert.Zero(t, second.DurationMS)
}

func TestWake_ExecDedupBlocksIdenticalCommand(t *testing.T) {
	f := newFixture(t, []scriptStep{
		toolResp(provider.ToolCall{ID: "a", Name: "run_command", Arguments: `{"command": "make build"}`}),
		toolResp(provider.ToolCall{ID: "b", Name: "run_command", Arguments: `{"command": "  make build  "}`}),
		idleResp(),
	}, nil)

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	turns, err := f.store.RecentTurns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "ran", turns[0].ToolCalls[0].Result)
	assert.Contains(t, turns[1].ToolCalls[0].Result, "blocked", "whitespace-trimmed duplicate is blocked")
}

func TestWake_ToolCallCapDropsExcessSilently(t *testing.T) {
	var calls []provider.ToolCall
	for i := 0; i < 15; i++ {
		calls = append(calls, provider.ToolCall{ID: "c" + strconv.Itoa(i), Name: "probe", Arguments: `{}`})
	}
	f := newFixture(t, []scriptStep{toolResp(calls...), idleResp()}, nil)

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	turns, err := f.store.RecentTurns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, turns[0].ToolCalls, 10, "excess calls are dropped, not recorded")
}

func TestWake_ExplicitSleepToolTerminates(t *testing.T) {
	f := newFixture(t, []scriptStep{
		toolResp(provider.ToolCall{ID: "s", Name: ToolSleep, Arguments: `{"minutes": 30}`}),
	}, func(cfg *Config) {
		def, fn := SleepTool(cfg.Store, cfg.Clock)
		require.NoError(t, cfg.Tools.Register(def, fn))
	})

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	assert.Equal(t, store.StateSleeping, f.state(t))
	// The deadline comes from the tool itself, not a loop cooldown.
	assert.Equal(t, f.now.Add(30*time.Minute), f.sleepDeadline(t))
	assert.Equal(t, 1, f.gw.calls)
}

func TestWake_ConsecutiveErrorsForceSleep(t *testing.T) {
	f := newFixture(t, []scriptStep{
		{err: emberr.New(emberr.CodeProviderUpstreamFailure, "backend down")},
	}, nil)

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	assert.Equal(t, 5, f.gw.calls, "five attempts before the breaker trips")
	assert.Equal(t, store.StateSleeping, f.state(t))
	assert.Equal(t, f.now.Add(5*time.Minute), f.sleepDeadline(t))
}

func TestWake_ErrorCounterResetsOnSuccess(t *testing.T) {
	fail := scriptStep{err: emberr.New(emberr.CodeProviderUpstreamFailure, "flaky")}
	f := newFixture(t, []scriptStep{
		fail, fail, fail, fail,
		toolResp(provider.ToolCall{ID: "a", Name: "probe", Arguments: `{}`}),
		fail, fail, fail, fail,
		idleResp(),
	}, nil)

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	// Two runs of four errors never trip the five-error breaker.
	assert.Equal(t, f.now.Add(5*time.Minute), f.sleepDeadline(t))
	assert.Equal(t, 10, f.gw.calls)
}

func TestWake_FutureSleepDeadlineSkipsSession(t *testing.T) {
	f := newFixture(t, []scriptStep{idleResp()}, nil)
	require.NoError(t, f.store.SetValue(context.Background(), store.KeySleepUntil,
		f.now.Add(time.Hour).Format(time.RFC3339)))

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	assert.Zero(t, f.gw.calls, "no turn runs while dormant")
	total, err := f.store.TurnCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestWake_ExpiredSleepDeadlineAllowsWake(t *testing.T) {
	f := newFixture(t, []scriptStep{idleResp()}, nil)
	require.NoError(t, f.store.SetValue(context.Background(), store.KeySleepUntil,
		f.now.Add(-time.Minute).Format(time.RFC3339)))

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))
	assert.Equal(t, 1, f.gw.calls)
}

func TestWake_DeadTierStopsWithoutTurn(t *testing.T) {
	f := newFixture(t, []scriptStep{idleResp()}, func(cfg *Config) {
		cfg.BudgetCents = 1000
	})
	// Spend the whole budget; burn over one hour of uptime leaves zero
	// runway.
	_, err := f.store.AddCounter(context.Background(), store.KeyTotalSpent, 1000)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	assert.Equal(t, store.StateDead, f.state(t))
	assert.Zero(t, f.gw.calls, "dead agents never reach the backend")
}

func TestWake_LowComputeTierTogglesGateway(t *testing.T) {
	f := newFixture(t, []scriptStep{idleResp()}, func(cfg *Config) {
		cfg.BudgetCents = 2000
	})
	// 40 spent over 1 h uptime: balance 1960, burn 40/hr, runway 49 h,
	// between the 24 h and 72 h bounds.
	_, err := f.store.AddCounter(context.Background(), store.KeyTotalSpent, 40)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	assert.True(t, f.gw.lowCompute)
	turns, err := f.store.RecentTurns(context.Background(), 5)
	require.NoError(t, err)
	require.NotEmpty(t, turns)
	assert.Equal(t, store.StateLowCompute, turns[0].State)
}

func TestWake_SnapshotEveryFifthTurn(t *testing.T) {
	f := newFixture(t, nil, nil)
	for i := 0; i < 12; i++ {
		f.gw.script = append(f.gw.script, toolResp(provider.ToolCall{
			ID:        "c" + strconv.Itoa(i),
			Name:      "run_command",
			Arguments: `{"command": "task ` + strconv.Itoa(i) + `"}`,
		}))
	}
	f.gw.script = append(f.gw.script, idleResp())

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	total, err := f.store.TurnCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(13), total)
	assert.Equal(t, 2, f.store.SnapshotCount(), "snapshots at turns 5 and 10")
}

func TestWake_InboxFoldedIntoInput(t *testing.T) {
	f := newFixture(t, []scriptStep{idleResp(), idleResp()}, nil)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, f.store.AppendInbox(ctx, &store.InboxMessage{
			ID:      "m" + strconv.Itoa(i),
			Sender:  "operator",
			Content: "msg " + strconv.Itoa(i),
		}))
	}

	require.NoError(t, f.ctrl.Wake(ctx, ""))

	turns, err := f.store.RecentTurns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, store.SourceAgent, turns[0].InputSource)
	assert.Contains(t, turns[0].Input, "msg 0")
	assert.Contains(t, turns[0].Input, "msg 4")
	assert.NotContains(t, turns[0].Input, "msg 5", "batch is capped at five")

	remaining, err := f.store.UnprocessedInbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestWake_BootstrapRunsBeforeLoop(t *testing.T) {
	f := newFixture(t, []scriptStep{idleResp()}, func(cfg *Config) {
		cfg.Bootstrap = []BootstrapStep{
			{Tool: "probe"},
			{Tool: "no_such_tool"},
		}
	})

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	turns, err := f.store.RecentTurns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, turns, 3, "two bootstrap turns plus one loop turn")

	assert.Equal(t, store.SourceSystem, turns[0].InputSource)
	assert.Equal(t, store.StateWaking, turns[0].State)
	assert.Zero(t, turns[0].CostCents)
	assert.Equal(t, "probed", turns[0].ToolCalls[0].Result)

	// A failing step is context, not an abort.
	assert.NotEmpty(t, turns[1].ToolCalls[0].Error)
}

func TestWake_CostRecordedIntoSpentCounter(t *testing.T) {
	f := newFixture(t, []scriptStep{
		{resp: &provider.ChatResponse{
			Text:         "done",
			FinishReason: provider.FinishStop,
			CostCents:    7,
			CostReported: true,
		}},
	}, nil)

	require.NoError(t, f.ctrl.Wake(context.Background(), ""))

	raw, ok, err := f.store.GetValue(context.Background(), store.KeyTotalSpent)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "7", raw)
}
