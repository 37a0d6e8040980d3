// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/emberhq/ember/internal/config"
)

func newWakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wake [input...]",
		Short: "Run one wake session to its terminal state",
		Long:  "Wake the agent and run the main loop until it goes dormant, dies, or hits a termination condition. Any arguments are joined into the wakeup input.",
		RunE:  runWake,
	}
	return cmd
}

func runWake(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)

	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return err
	}

	sys, err := buildSystem(cfg, logger)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	input := strings.Join(args, " ")
	return sys.controller.Wake(ctx, input)
}
