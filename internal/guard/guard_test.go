// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package guard_test

import (
	"strings"
	"testing"

	"github.com/emberhq/ember/internal/guard"
	"github.com/emberhq/ember/internal/store"
	"github.com/stretchr/testify/assert"
)

func newGuard() *guard.Guard {
	return guard.New(guard.Config{
		OnceTools: []string{"check_balance", "system_status"},
		ExecTool:  "exec",
	})
}

func TestAdmit_OncePerWake(t *testing.T) {
	g := newGuard()

	first := g.Admit("check_balance", nil)
	assert.False(t, first.Blocked)

	second := g.Admit("check_balance", nil)
	assert.True(t, second.Blocked)
	assert.Contains(t, second.Reason, "different action")

	// Other once-tools are tracked independently.
	assert.False(t, g.Admit("system_status", nil).Blocked)
}

func TestAdmit_OncePerWake_ResetsBetweenSessions(t *testing.T) {
	g := newGuard()

	assert.False(t, g.Admit("check_balance", nil).Blocked)
	assert.True(t, g.Admit("check_balance", nil).Blocked)

	g.Reset()
	assert.False(t, g.Admit("check_balance", nil).Blocked, "dedup state must not survive a wake")
}

func TestAdmit_ExecDedup(t *testing.T) {
	g := newGuard()

	args := func(cmd string) map[string]any { return map[string]any{"command": cmd} }

	assert.False(t, g.Admit("exec", args("ls -la")).Blocked)
	assert.True(t, g.Admit("exec", args("ls -la")).Blocked, "identical command blocked")
	assert.True(t, g.Admit("exec", args("  ls -la  ")).Blocked, "dedup key is the trimmed text")
	assert.False(t, g.Admit("exec", args("ls -lA")).Blocked, "one changed character executes")
}

func TestAdmit_ExecDedupIgnoresOtherTools(t *testing.T) {
	g := newGuard()

	assert.False(t, g.Admit("write_file", map[string]any{"command": "same"}).Blocked)
	assert.False(t, g.Admit("write_file", map[string]any{"command": "same"}).Blocked)
}

func TestObserveTurn_RepetitionCounter(t *testing.T) {
	g := newGuard()

	single := func(tool, cmd string) []store.ToolCallResult {
		return []store.ToolCallResult{{Tool: tool, Args: map[string]any{"command": cmd}}}
	}

	g.ObserveTurn(single("exec", "curl example.com"))
	assert.False(t, g.Stuck())
	g.ObserveTurn(single("exec", "curl example.com"))
	assert.False(t, g.Stuck())
	g.ObserveTurn(single("exec", "curl example.com"))
	assert.True(t, g.Stuck(), "three identical single-call turns are stuck")
}

func TestObserveTurn_MultiCallTurnResetsCounter(t *testing.T) {
	g := newGuard()

	same := []store.ToolCallResult{{Tool: "exec", Args: map[string]any{"command": "curl example.com"}}}
	two := []store.ToolCallResult{{Tool: "exec"}, {Tool: "check_balance"}}

	g.ObserveTurn(same)
	g.ObserveTurn(same)
	g.ObserveTurn(two) // resets to 0
	assert.Zero(t, g.RepeatRuns())
	g.ObserveTurn(same)
	g.ObserveTurn(same)
	assert.False(t, g.Stuck(), "run restarted after the two-call turn")
}

func TestObserveTurn_DifferentFingerprintRestartsAtOne(t *testing.T) {
	g := newGuard()

	g.ObserveTurn([]store.ToolCallResult{{Tool: "check_balance"}})
	g.ObserveTurn([]store.ToolCallResult{{Tool: "check_balance"}})
	g.ObserveTurn([]store.ToolCallResult{{Tool: "system_status"}})
	assert.Equal(t, 1, g.RepeatRuns())
}

func TestFingerprint_ExecUsesCommandHead(t *testing.T) {
	g := newGuard()

	long := strings.Repeat("a", 100)
	shared := strings.Repeat("a", 80)

	fp1 := g.Fingerprint("exec", map[string]any{"command": long})
	fp2 := g.Fingerprint("exec", map[string]any{"command": shared + "zzz"})
	assert.Equal(t, fp1, fp2, "only the first 80 characters participate")

	fp3 := g.Fingerprint("exec", map[string]any{"command": "short"})
	assert.NotEqual(t, fp1, fp3)

	// Non-exec tools fingerprint on name alone.
	assert.Equal(t, "check_balance", g.Fingerprint("check_balance", map[string]any{"command": "x"}))
}
