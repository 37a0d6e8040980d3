// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package guard holds the per-wake-session admission state: status tools
// that may fire only once, shell-command dedup, and the
// consecutive-repetition counter behind stuck-loop detection.
package guard

import (
	"fmt"
	"strings"

	"github.com/emberhq/ember/internal/store"
)

// Defaults for the admission rules.
const (
	DefaultStuckThreshold = 3
	DefaultExecPrefixLen  = 80
)

// Config declares which tools the guard watches.
type Config struct {
	// OnceTools are status/diagnostic tools limited to one execution
	// per wake session.
	OnceTools []string

	// ExecTool is the shell-execution tool whose trimmed command text
	// is deduplicated within a session.
	ExecTool string

	// StuckThreshold is how many consecutive identical single-call
	// turns force dormancy. Zero means DefaultStuckThreshold.
	StuckThreshold int

	// ExecPrefixLen bounds how much of the command participates in the
	// repetition fingerprint. Zero means DefaultExecPrefixLen.
	ExecPrefixLen int
}

// Decision is the guard's verdict on one requested tool call.
type Decision struct {
	Blocked bool
	Reason  string
}

// Guard tracks one wake session's admission state. Not safe for
// concurrent use; the wake loop is single-threaded.
type Guard struct {
	cfg        Config
	onceTools  map[string]bool
	firedOnce  map[string]bool
	seenCmds   map[string]bool
	lastPrint  string
	repeatRuns int
}

// New creates a Guard with empty session state.
func New(cfg Config) *Guard {
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = DefaultStuckThreshold
	}
	if cfg.ExecPrefixLen <= 0 {
		cfg.ExecPrefixLen = DefaultExecPrefixLen
	}

	g := &Guard{cfg: cfg, onceTools: make(map[string]bool, len(cfg.OnceTools))}
	for _, name := range cfg.OnceTools {
		g.onceTools[name] = true
	}
	g.Reset()
	return g
}

// Reset discards all per-session state. Called at the start of each wake
// session; dedup state never survives across wakes.
func (g *Guard) Reset() {
	g.firedOnce = make(map[string]bool)
	g.seenCmds = make(map[string]bool)
	g.lastPrint = ""
	g.repeatRuns = 0
}

// Admit decides whether a tool call may execute this session. An admitted
// call is recorded immediately, so a later identical call is blocked.
func (g *Guard) Admit(tool string, args map[string]any) Decision {
	if g.onceTools[tool] {
		if g.firedOnce[tool] {
			return Decision{
				Blocked: true,
				Reason:  fmt.Sprintf("%s already ran this wake; choose a different action", tool),
			}
		}
		g.firedOnce[tool] = true
	}

	if tool == g.cfg.ExecTool {
		cmd := strings.TrimSpace(commandArg(args))
		if cmd != "" {
			if g.seenCmds[cmd] {
				return Decision{
					Blocked: true,
					Reason:  "identical command already ran this wake; try something different",
				}
			}
			g.seenCmds[cmd] = true
		}
	}

	return Decision{}
}

// ObserveTurn feeds one completed turn's recorded tool calls into the
// repetition counter. A turn with zero or more than one call resets the
// counter; a single-call turn extends or restarts the run depending on
// whether its fingerprint matches the previous turn's.
func (g *Guard) ObserveTurn(calls []store.ToolCallResult) {
	if len(calls) != 1 {
		g.lastPrint = ""
		g.repeatRuns = 0
		return
	}

	print := g.Fingerprint(calls[0].Tool, calls[0].Args)
	if print == g.lastPrint {
		g.repeatRuns++
		return
	}
	g.lastPrint = print
	g.repeatRuns = 1
}

// Stuck reports whether enough consecutive identical single-call turns
// have accumulated to force dormancy.
func (g *Guard) Stuck() bool {
	return g.repeatRuns >= g.cfg.StuckThreshold
}

// RepeatRuns exposes the current run length for logging.
func (g *Guard) RepeatRuns() int {
	return g.repeatRuns
}

// Fingerprint is the identity of a tool call for repetition tracking:
// the tool name, extended for the exec tool with the head of the command.
func (g *Guard) Fingerprint(tool string, args map[string]any) string {
	if tool != g.cfg.ExecTool {
		return tool
	}

	cmd := strings.TrimSpace(commandArg(args))
	if len(cmd) > g.cfg.ExecPrefixLen {
		cmd = cmd[:g.cfg.ExecPrefixLen]
	}
	return tool + ":" + cmd
}

func commandArg(args map[string]any) string {
	if args == nil {
		return ""
	}
	if cmd, ok := args["command"].(string); ok {
		return cmd
	}
	return ""
}
