// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package agent

import (
	"context"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/emberhq/ember/internal/store"
	emberr "github.com/emberhq/ember/pkg/errors"
)

// BootstrapStep is one entry of the declarative bootstrap script: a tool
// name and its arguments.
type BootstrapStep struct {
	Tool string         `yaml:"tool"`
	Args map[string]any `yaml:"args,omitempty"`
}

// DefaultBootstrap is the compiled-in script: an economics report and a
// bounty scan, enough situational context to act on.
func DefaultBootstrap() []BootstrapStep {
	return []BootstrapStep{
		{Tool: ToolEconStatus},
		{Tool: ToolScan},
	}
}

// LoadBootstrap reads an ordered bootstrap script from a YAML file.
func LoadBootstrap(path string) ([]BootstrapStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, emberr.Wrap(err, emberr.CodeAgentBootstrapInvalid, "reading bootstrap script",
			emberr.Field("path", path))
	}

	var steps []BootstrapStep
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, emberr.Wrap(err, emberr.CodeAgentBootstrapInvalid, "parsing bootstrap script",
			emberr.Field("path", path))
	}

	for i, step := range steps {
		if step.Tool == "" {
			return nil, emberr.New(emberr.CodeAgentBootstrapInvalid, "bootstrap step missing tool name",
				emberr.Field("step", i))
		}
	}
	return steps, nil
}

// runBootstrap executes the script directly against the tool registry,
// bypassing both the inference gateway and the admission guard. Each
// step becomes a synthetic zero-cost system turn; a failing step is
// captured as context, never an abort.
func (c *Controller) runBootstrap(ctx context.Context) error {
	for _, step := range c.cfg.Bootstrap {
		result, duration, err := c.cfg.Tools.Execute(ctx, step.Tool, step.Args)

		call := store.ToolCallResult{
			ID:         uuid.NewString(),
			Tool:       step.Tool,
			Args:       step.Args,
			Result:     result,
			DurationMS: duration.Milliseconds(),
		}
		if err != nil {
			call.Error = err.Error()
			c.logger.Warn("bootstrap step failed", "tool", step.Tool, "error", err)
		}

		turn := &store.Turn{
			ID:          uuid.NewString(),
			Timestamp:   c.now(),
			State:       store.StateWaking,
			Input:       "bootstrap: " + step.Tool,
			InputSource: store.SourceSystem,
			ToolCalls:   []store.ToolCallResult{call},
		}
		if err := c.cfg.Store.AppendTurn(ctx, turn); err != nil {
			return emberr.Wrap(err, emberr.CodeAgentTurnFailure, "persisting bootstrap turn",
				emberr.FieldTool(step.Tool))
		}
	}
	return nil
}
