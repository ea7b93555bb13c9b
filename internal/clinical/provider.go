// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clinical fetches per-gene clinical priorities from the
// classification engine.
package clinical

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// =============================================================================
// TYPES
// =============================================================================

// Priority is the classification engine's triage output for one gene.
type Priority struct {
	Score float64 `json:"score"` // 0..100
	Tier  string  `json:"tier"`
	Rank  int     `json:"rank"`
}

// Provider supplies the per-gene clinical priority map for a session. The
// variant/ACMG classification engine behind it is an external collaborator;
// this client never computes classifications itself.
type Provider interface {
	Priorities(ctx context.Context, sessionID string) (map[string]Priority, error)
}

// ErrUnavailable indicates the classification engine could not be reached.
var ErrUnavailable = errors.New("classification engine unavailable")

// =============================================================================
// HTTP PROVIDER
// =============================================================================

// HTTPProvider fetches priorities over the backend REST API.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPProvider creates a provider against the given backend base URL.
func NewHTTPProvider(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Priorities fetches the clinical priority map for a session.
func (p *HTTPProvider) Priorities(ctx context.Context, sessionID string) (map[string]Priority, error) {
	url := p.baseURL + "/api/v1/sessions/" + sessionID + "/classification"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// No classification run yet for this session: rank on literature only.
		return map[string]Priority{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, errors.Join(ErrUnavailable, errors.New("unexpected status "+resp.Status))
	}

	var payload struct {
		Genes map[string]Priority `json:"genes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if payload.Genes == nil {
		payload.Genes = map[string]Priority{}
	}
	return payload.Genes, nil
}

// =============================================================================
// CACHED PROVIDER
// =============================================================================

// Default TTLs for the priority cache. Classifications change rarely within a
// session, and ranking re-runs on every item update.
const (
	DefaultTTL           = 10 * time.Minute
	DefaultPurgeInterval = 5 * time.Minute
)

// CachedProvider memoizes priority maps per session with a TTL so repeated
// ranking passes do not re-query the classification engine.
type CachedProvider struct {
	inner Provider
	cache *gocache.Cache
}

// NewCachedProvider wraps a provider with a TTL cache.
func NewCachedProvider(inner Provider, ttl, purgeInterval time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if purgeInterval <= 0 {
		purgeInterval = DefaultPurgeInterval
	}
	return &CachedProvider{
		inner: inner,
		cache: gocache.New(ttl, purgeInterval),
	}
}

// Priorities returns the cached map for a session, querying the inner
// provider on miss. Failures are not cached.
func (c *CachedProvider) Priorities(ctx context.Context, sessionID string) (map[string]Priority, error) {
	if x, found := c.cache.Get(sessionID); found {
		return x.(map[string]Priority), nil
	}

	priorities, err := c.inner.Priorities(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	c.cache.Set(sessionID, priorities, gocache.DefaultExpiration)
	return priorities, nil
}

// Invalidate drops the cached map for a session, forcing a refetch on the
// next ranking pass.
func (c *CachedProvider) Invalidate(sessionID string) {
	c.cache.Delete(sessionID)
}
