// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package provider

import (
	"context"
	"strings"
	"sync"

	emberr "github.com/emberhq/ember/pkg/errors"
)

// Route maps a model-family prefix to a registered backend name. Routing
// is an explicit configuration-time capability table; the gateway never
// infers a backend from model names beyond this table.
type Route struct {
	Prefix  string
	Backend string
}

// GatewayConfig declares the active model, token ceilings, the low-compute
// fallbacks, and the routing table.
type GatewayConfig struct {
	Model     string
	MaxTokens int

	// Low-compute mode swaps to a cheaper model and a reduced ceiling.
	LowComputeModel     string
	LowComputeMaxTokens int

	Temperature    *float64
	Routes         []Route
	DefaultBackend string
}

// Gateway is the single entry point for inference: it resolves the
// backend for the active model, applies the low-compute toggle, and
// guarantees every response carries a cost figure (backend-reported when
// available, locally estimated otherwise).
type Gateway struct {
	cfg      GatewayConfig
	pricing  *PriceTable
	backends map[string]Backend

	mu         sync.Mutex
	lowCompute bool
}

// NewGateway creates a Gateway. Backends are registered separately.
func NewGateway(cfg GatewayConfig, pricing *PriceTable) (*Gateway, error) {
	if cfg.Model == "" {
		return nil, emberr.New(emberr.CodeProviderRequestInvalid, "gateway requires a model")
	}
	if cfg.LowComputeModel == "" {
		cfg.LowComputeModel = cfg.Model
	}
	if cfg.LowComputeMaxTokens <= 0 || cfg.LowComputeMaxTokens > cfg.MaxTokens {
		cfg.LowComputeMaxTokens = cfg.MaxTokens
	}

	return &Gateway{
		cfg:      cfg,
		pricing:  pricing,
		backends: make(map[string]Backend),
	}, nil
}

// RegisterBackend adds a backend under its routing name.
func (g *Gateway) RegisterBackend(name string, b Backend) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.backends[name] = b
}

// SetLowCompute toggles low-compute mode. The toggle is an explicit
// two-state switch: turning it on twice is the same as once, and turning
// it off restores the original model and ceiling.
func (g *Gateway) SetLowCompute(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lowCompute = on
}

// LowCompute reports the current mode.
func (g *Gateway) LowCompute() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lowCompute
}

// ActiveModel returns the model the next Chat call will use.
func (g *Gateway) ActiveModel() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lowCompute {
		return g.cfg.LowComputeModel
	}
	return g.cfg.Model
}

func (g *Gateway) activeRequest() (model string, maxTokens int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lowCompute {
		return g.cfg.LowComputeModel, g.cfg.LowComputeMaxTokens
	}
	return g.cfg.Model, g.cfg.MaxTokens
}

// resolve selects the backend for a model from the routing table: the
// first matching prefix whose backend is registered wins, then the
// default backend.
func (g *Gateway) resolve(model string) (Backend, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, route := range g.cfg.Routes {
		if !strings.HasPrefix(model, route.Prefix) {
			continue
		}
		if b, ok := g.backends[route.Backend]; ok {
			return b, nil
		}
	}

	if b, ok := g.backends[g.cfg.DefaultBackend]; ok {
		return b, nil
	}

	return nil, emberr.New(
		emberr.CodeProviderNoDefault,
		"no backend routes model and no default backend registered",
		emberr.FieldModel(model),
	)
}

// Chat performs one inference call with the active model and ceiling.
// The returned response always has CostCents populated: the live
// backend-reported figure when present, the local estimate otherwise.
func (g *Gateway) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*ChatResponse, error) {
	model, maxTokens := g.activeRequest()

	backend, err := g.resolve(model)
	if err != nil {
		return nil, err
	}

	resp, err := backend.Chat(ctx, ChatRequest{
		Model:       model,
		Messages:    messages,
		Tools:       tools,
		Temperature: g.cfg.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, emberr.Wrap(err, emberr.CodeProviderUpstreamFailure, "chat call failed",
			emberr.FieldBackend(backend.Name()), emberr.FieldModel(model))
	}

	if !resp.CostReported && g.pricing != nil {
		resp.CostCents = g.pricing.EstimateCents(model, resp.Usage)
	}
	return resp, nil
}
