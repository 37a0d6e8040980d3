// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emberhq/ember/internal/config"
	"github.com/emberhq/ember/internal/store"
	emberr "github.com/emberhq/ember/pkg/errors"
)

func newCreditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credit <cents>",
		Short: "Record earned income in cents",
		Long:  "Add to the agent's earned total. Earnings extend runway: balance is budget minus spent plus earned.",
		Args:  cobra.ExactArgs(1),
		RunE:  runCredit,
	}

	cmd.Flags().Bool("tribute", false, "record the amount as child tribute as well")

	return cmd
}

func runCredit(cmd *cobra.Command, args []string) error {
	cents, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || cents <= 0 {
		return emberr.New(emberr.CodeCLIInputInvalid, "credit requires a positive integer cent amount",
			emberr.Field("value", args[0]))
	}

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
	total, err := st.AddCounter(ctx, store.KeyTotalEarned, cents)
	if err != nil {
		return err
	}
	if tribute, _ := cmd.Flags().GetBool("tribute"); tribute {
		if _, err := st.AddCounter(ctx, store.KeyChildTribute, cents); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d cents; total earned %d cents\n", cents, total)
	return nil
}
