// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberhq/ember/internal/agent"
	"github.com/emberhq/ember/internal/config"
	"github.com/emberhq/ember/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show agent state and economics",
		Long:  "Print the persisted agent state, the current dormancy deadline if any, and the latest economics snapshot.",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return err
	}

	st, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	state, err := st.AgentState(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "State: %s\n", state)

	if until, ok, err := st.GetValue(ctx, store.KeySleepUntil); err != nil {
		return err
	} else if ok {
		fmt.Fprintf(out, "Dormant until: %s\n", until)
	}

	snap, err := agent.SnapshotFromStore(ctx, st, cfg.Economics.BudgetCents, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Balance: %d cents (budget %d, spent %d, earned %d)\n",
		snap.BalanceCents, snap.BudgetCents, snap.SpentCents, snap.EarnedCents)
	fmt.Fprintf(out, "Burn: %.1f c/hr | Earn: %.1f c/hr | Runway: %.1f h\n",
		snap.BurnPerHour, snap.EarnPerHour, snap.RunwayHours)
	fmt.Fprintf(out, "Turns: %d | Uptime: %.1f h | Cost/turn: %.1f c\n",
		snap.TotalTurns, snap.UptimeHours, snap.CostPerTurnCents)

	if latest, err := st.LatestSnapshot(ctx); err != nil {
		return err
	} else if latest != nil {
		fmt.Fprintf(out, "Last recorded snapshot: %s\n", latest.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}

	return nil
}
