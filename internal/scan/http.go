// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package scan

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	emberr "github.com/emberhq/ember/pkg/errors"
)

const maxSourceBytes = 4 << 20

// HTTPSource fetches opportunities from an endpoint returning a JSON
// array of Opportunity objects.
type HTTPSource struct {
	name   string
	url    string
	client *http.Client
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates a source over the given endpoint. The source
// name is the endpoint's hostname.
func NewHTTPSource(rawURL string, timeout time.Duration) (*HTTPSource, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, emberr.New(emberr.CodeConfigValidateInvalidValue, "scan source requires a valid URL",
			emberr.Field("url", rawURL))
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPSource{
		name:   parsed.Host,
		url:    rawURL,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Fetch(ctx context.Context) ([]Opportunity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, emberr.New(emberr.CodeProviderUpstreamFailure, "scan source returned unexpected status",
			emberr.Field("source", s.name), emberr.Field("status", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, err
	}

	var opps []Opportunity
	if err := json.Unmarshal(body, &opps); err != nil {
		return nil, err
	}
	for i := range opps {
		if opps[i].Source == "" {
			opps[i].Source = s.name
		}
	}
	return opps, nil
}
