// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package finance queries external financial state: the agent's credit
// balance and its token balance. The two queries are independently
// failure-tolerant; a failed fetch is reported as an explicit flag on
// the outcome rather than a silent zero, so callers can distinguish
// "genuinely zero" from "fetch failed".
package finance

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	emberr "github.com/emberhq/ember/pkg/errors"
)

// maxResponseBytes bounds finance endpoint responses.
const maxResponseBytes = 1 << 20

// State is the latest known financial state. BalanceOK and TokensOK
// record whether the corresponding fetch succeeded; when false the
// paired value is a stale-or-zero default and must not be treated as a
// measurement.
type State struct {
	BalanceCents int64     `json:"balance_cents"`
	BalanceOK    bool      `json:"balance_ok"`
	TokenBalance float64   `json:"token_balance"`
	TokensOK     bool      `json:"tokens_ok"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Source provides financial state. Implementations must tolerate
// partial failure: a broken token endpoint must not take down the
// balance query, and vice versa.
type Source interface {
	Fetch(ctx context.Context) State
}

// Config holds the finance endpoints. Either URL may be empty, in
// which case its query is skipped and reported as failed.
type Config struct {
	BalanceURL string
	TokenURL   string
	Timeout    time.Duration
}

// Client fetches financial state over HTTP. Both endpoints are
// expected to return a small JSON document; see balanceResponse and
// tokenResponse for the accepted shapes.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

var _ Source = (*Client)(nil)

// NewClient creates a finance client. A zero timeout defaults to 10s.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type balanceResponse struct {
	BalanceCents int64 `json:"balance_cents"`
}

type tokenResponse struct {
	Balance float64 `json:"balance"`
}

// Fetch queries both endpoints. Each failure is logged and recorded in
// the outcome flags; Fetch itself never fails.
func (c *Client) Fetch(ctx context.Context) State {
	st := State{CheckedAt: time.Now().UTC()}

	if cents, err := c.fetchBalance(ctx); err != nil {
		c.logger.Warn("balance fetch failed", "error", err)
	} else {
		st.BalanceCents = cents
		st.BalanceOK = true
	}

	if tokens, err := c.fetchTokens(ctx); err != nil {
		c.logger.Warn("token balance fetch failed", "error", err)
	} else {
		st.TokenBalance = tokens
		st.TokensOK = true
	}

	return st
}

func (c *Client) fetchBalance(ctx context.Context) (int64, error) {
	var out balanceResponse
	if err := c.getJSON(ctx, c.cfg.BalanceURL, &out); err != nil {
		return 0, err
	}
	return out.BalanceCents, nil
}

func (c *Client) fetchTokens(ctx context.Context) (float64, error) {
	var out tokenResponse
	if err := c.getJSON(ctx, c.cfg.TokenURL, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	if url == "" {
		return emberr.New(emberr.CodeFinanceFetchFailure, "endpoint not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return emberr.Wrap(err, emberr.CodeFinanceFetchFailure, "building request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return emberr.Wrap(err, emberr.CodeFinanceFetchFailure, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return emberr.New(emberr.CodeFinanceFetchFailure, "unexpected status",
			emberr.Field("status", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return emberr.Wrap(err, emberr.CodeFinanceFetchFailure, "reading response")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return emberr.Wrap(err, emberr.CodeFinanceFetchFailure, "decoding response")
	}
	return nil
}

// Static is a Source returning a fixed state, used when no finance
// endpoints are configured.
type Static struct {
	State State
}

var _ Source = (*Static)(nil)

// Fetch returns the fixed state with a fresh CheckedAt.
func (s *Static) Fetch(_ context.Context) State {
	st := s.State
	st.CheckedAt = time.Now().UTC()
	return st
}
