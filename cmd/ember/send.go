// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/emberhq/ember/internal/config"
	"github.com/emberhq/ember/internal/store"
	emberr "github.com/emberhq/ember/pkg/errors"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Queue a message for the agent's next wake",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSend,
	}

	cmd.Flags().String("from", "operator", "sender tag recorded on the message")

	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	content := strings.TrimSpace(strings.Join(args, " "))
	if content == "" {
		return emberr.New(emberr.CodeCLIInputInvalid, "message must not be empty")
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

	sender, _ := cmd.Flags().GetString("from")
	msg := &store.InboxMessage{
		ID:         uuid.NewString(),
		Sender:     sender,
		Content:    content,
		ReceivedAt: time.Now().UTC(),
	}
	if err := st.AppendInbox(cmd.Context(), msg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Queued message %s\n", msg.ID)
	return nil
}
