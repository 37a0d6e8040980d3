// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package scan implements the bounty scan: a fan-out query over a set
// of opportunity sources with a TTL cache in front. All mutable state
// is owned by the Scanner instance so multiple agents in one process
// never share caches.
package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Opportunity is one unit of potential income discovered by a source.
type Opportunity struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Title       string `json:"title"`
	RewardCents int64  `json:"reward_cents"`
	URL         string `json:"url,omitempty"`
}

// Source fetches opportunities from one origin.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Opportunity, error)
}

// Scanner queries all sources concurrently and merges the results.
// A failed source contributes nothing; it never fails the scan.
type Scanner struct {
	sources []Source
	ttl     time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	cached    []Opportunity
	fetchedAt time.Time
	now       func() time.Time
}

// NewScanner creates a Scanner over the given sources. A zero ttl
// defaults to 5 minutes.
func NewScanner(sources []Source, ttl time.Duration, logger *slog.Logger) *Scanner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		sources: sources,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// Scan returns current opportunities, serving from cache while it is
// fresh. Per-source failures are logged and skipped.
func (s *Scanner) Scan(ctx context.Context) []Opportunity {
	s.mu.Lock()
	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		out := make([]Opportunity, len(s.cached))
		copy(out, s.cached)
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()

	merged := s.fetchAll(ctx)

	s.mu.Lock()
	s.cached = merged
	s.fetchedAt = s.now()
	out := make([]Opportunity, len(merged))
	copy(out, merged)
	s.mu.Unlock()
	return out
}

// Invalidate drops the cache so the next Scan hits the sources.
func (s *Scanner) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.fetchedAt = time.Time{}
}

func (s *Scanner) fetchAll(ctx context.Context) []Opportunity {
	results := make([][]Opportunity, len(s.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range s.sources {
		g.Go(func() error {
			opps, err := src.Fetch(gctx)
			if err != nil {
				s.logger.Warn("scan source failed", "source", src.Name(), "error", err)
				return nil
			}
			results[i] = opps
			return nil
		})
	}
	// Sources never return errors to the group, so Wait only gathers.
	_ = g.Wait()

	var merged []Opportunity
	for _, r := range results {
		merged = append(merged, r...)
	}
	if merged == nil {
		merged = []Opportunity{}
	}
	return merged
}
