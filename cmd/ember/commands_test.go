// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()

	names := make(map[string]bool)
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}

	for _, expected := range []string{"wake", "status", "send", "credit", "version"} {
		assert.True(t, names[expected], "missing subcommand %s", expected)
	}
}

func TestVersionCmd(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "ember")
	assert.Contains(t, out.String(), "dev")
}

func testConfigFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ember.yaml")
	content := `
storage:
  backend: sqlite
  path: ` + filepath.Join(dir, "ember.db") + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSendThenStatus(t *testing.T) {
	cfgPath := testConfigFile(t)

	send := NewRootCmd()
	var sendOut bytes.Buffer
	send.SetOut(&sendOut)
	send.SetArgs([]string{"send", "--config", cfgPath, "look", "at", "this"})
	require.NoError(t, send.Execute())
	assert.Contains(t, sendOut.String(), "Queued message")

	status := NewRootCmd()
	var statusOut bytes.Buffer
	status.SetOut(&statusOut)
	status.SetArgs([]string{"status", "--config", cfgPath})
	require.NoError(t, status.Execute())
	assert.Contains(t, statusOut.String(), "State: waking")
	assert.Contains(t, statusOut.String(), "Balance:")
}

func TestCreditCmd(t *testing.T) {
	cfgPath := testConfigFile(t)

	first := NewRootCmd()
	var firstOut bytes.Buffer
	first.SetOut(&firstOut)
	first.SetArgs([]string{"credit", "--config", cfgPath, "250"})
	require.NoError(t, first.Execute())
	assert.Contains(t, firstOut.String(), "total earned 250 cents")

	second := NewRootCmd()
	var secondOut bytes.Buffer
	second.SetOut(&secondOut)
	second.SetArgs([]string{"credit", "--config", cfgPath, "50", "--tribute"})
	require.NoError(t, second.Execute())
	assert.Contains(t, secondOut.String(), "total earned 300 cents")
}

func TestCreditCmd_RejectsNonPositiveAmount(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"credit", "0"})
	require.Error(t, root.Execute())
}

func TestWakeCmd_FailsWithoutBackend(t *testing.T) {
	cfgPath := testConfigFile(t)

	root := NewRootCmd()
	root.SetArgs([]string{"wake", "--config", cfgPath})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no inference backend configured")
}
