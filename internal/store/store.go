// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/genolens/internal/api"
	"github.com/jeranaias/genolens/internal/archive"
	"github.com/jeranaias/genolens/internal/feed"
	"github.com/jeranaias/genolens/internal/sessioncache"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is a domain store's position in the load lifecycle.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusNoData  Status = "no_data"
)

// =============================================================================
// BACKEND CONTRACT
// =============================================================================

// Backend is the slice of the API client the store needs.
type Backend interface {
	RunCompute(ctx context.Context, sessionID string, domain feed.Domain, params map[string]string) (*api.ComputeResult, error)
	OpenFeed(ctx context.Context, sessionID string, domain feed.Domain) (io.ReadCloser, error)
}

// Observer receives the store's status and a snapshot copy after every state
// change. It is invoked with the store lock held; observers should copy and
// return.
type Observer[T any] func(status Status, snap feed.Snapshot[T])

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds configuration for one domain store.
type Config[T any] struct {
	// Domain this store serves.
	Domain feed.Domain

	// EntityType is the feed record discriminator for this domain.
	EntityType string

	// BatchSize between intermediate snapshot publications.
	BatchSize int

	// PublishLimit caps intermediate publish cadence. Zero means unlimited.
	PublishLimit rate.Limit

	// Backend performs compute triggers and opens feeds.
	Backend Backend

	// Archive persists terminal snapshots. Optional.
	Archive *archive.Archive

	// CacheSize bounds the session snapshot cache. Non-positive uses the
	// default.
	CacheSize int

	// Observer for status and snapshot updates. Optional.
	Observer Observer[T]

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// =============================================================================
// SESSION RESULT STORE
// =============================================================================

// Store orchestrates one result domain across sessions: it owns the live
// snapshot, the bounded session cache, and the load lifecycle. A session
// change saves the outgoing session's results into the cache and serves the
// incoming session from cache, archive, or a fresh load.
//
// The store and its cache are mutated only from the control flow driving
// session transitions and loads; the mutex guards concurrent observers and
// the single-flight load check.
type Store[T any] struct {
	domain     feed.Domain
	entityType string
	batchSize  int
	limit      rate.Limit
	backend    Backend
	arch       *archive.Archive
	observer   Observer[T]
	logger     *zap.Logger

	mu         sync.Mutex
	status     Status
	sessionID  string
	live       feed.Snapshot[T]
	cache      *sessioncache.Cache[T]
	loading    bool
	cancelLoad context.CancelFunc

	// hasLoadedOnce tracks whether the current session has completed a load,
	// which is what arms automatic re-triggering on input changes.
	hasLoadedOnce bool
}

// New creates a domain store.
func New[T any](cfg Config[T]) *Store[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store[T]{
		domain:     cfg.Domain,
		entityType: cfg.EntityType,
		batchSize:  cfg.BatchSize,
		limit:      cfg.PublishLimit,
		backend:    cfg.Backend,
		arch:       cfg.Archive,
		observer:   cfg.Observer,
		logger:     logger.With(zap.String("domain", cfg.Domain.String())),
		status:     StatusIdle,
		cache:      sessioncache.New[T](cfg.CacheSize),
	}
}

// =============================================================================
// SESSION TRANSITIONS
// =============================================================================

// OnSessionChanged performs the save/restore/clear transition from one session
// to the next. Called exactly once per transition.
//
// The outgoing session's live results, if any, are cached. The incoming
// session is served from cache when possible (no network call), then from the
// archive, otherwise the store resets to idle and the caller decides whether
// to trigger a compute-and-load.
func (s *Store[T]) OnSessionChanged(prev, next string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// An in-flight load belongs to the outgoing session; stop it before its
	// results can land in the new session's live state.
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}

	if prev != "" && !s.live.IsEmpty() {
		s.cache.Put(prev, s.live)
	}

	s.sessionID = next
	s.hasLoadedOnce = false

	if next == "" {
		s.clearLiveLocked(StatusIdle)
		return
	}

	if entry, ok := s.cache.Get(next); ok {
		s.live = entry.Snapshot
		s.status = StatusSuccess
		s.hasLoadedOnce = true
		s.notifyLocked()
		return
	}

	if snap, err := archive.Load[T](context.Background(), s.arch, next, s.domain); err == nil {
		s.live = *snap
		s.cache.Put(next, *snap)
		s.status = StatusSuccess
		s.hasLoadedOnce = true
		s.notifyLocked()
		return
	}

	s.clearLiveLocked(StatusIdle)
}

// Clear wipes a session's results everywhere: cache, archive, and live state
// when the session is current. Other sessions are untouched.
func (s *Store[T]) Clear(ctx context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Remove(sessionID)
	if s.arch != nil {
		if err := s.arch.Delete(ctx, sessionID); err != nil {
			s.logger.Warn("failed to delete archived snapshots",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	if sessionID == s.sessionID {
		if s.cancelLoad != nil {
			s.cancelLoad()
			s.cancelLoad = nil
		}
		s.hasLoadedOnce = false
		s.clearLiveLocked(StatusIdle)
	}
}

// =============================================================================
// COMPUTE AND LOAD
// =============================================================================

// RunCompute asks the backend to (re)compute and persist results for this
// domain. It does not populate client state; call LoadAll afterwards to
// stream the produced results.
func (s *Store[T]) RunCompute(ctx context.Context, sessionID string, params map[string]string) (*api.ComputeResult, error) {
	s.setStatus(StatusPending)

	result, err := s.backend.RunCompute(ctx, sessionID, s.domain, params)
	if err != nil {
		s.setStatus(StatusError)
		return nil, err
	}
	return result, nil
}

// LoadAll streams the full result feed for a session and returns the terminal
// snapshot directly. Intermediate snapshots are published to the observer;
// only the returned value and the terminal publish are authoritative.
//
// A second LoadAll while one is in flight for this domain is rejected with
// ErrLoadInFlight rather than racing two loaders against the same live state.
func (s *Store[T]) LoadAll(ctx context.Context, sessionID string) (*feed.Snapshot[T], error) {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		s.logger.Warn("load already in flight, rejecting", zap.String("session_id", sessionID))
		return nil, feed.ErrLoadInFlight
	}
	s.loading = true
	s.sessionID = sessionID
	s.live = feed.Snapshot[T]{}
	s.status = StatusLoading

	loadCtx, cancel := context.WithCancel(ctx)
	s.cancelLoad = cancel
	s.notifyLocked()
	s.mu.Unlock()

	snap, err := s.runLoad(loadCtx, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Session changed mid-load; the transition already reset state.
			return nil, err
		}
		s.status = StatusError
		s.notifyLocked()
		return nil, err
	}

	// The load may have been started for a session that is no longer current.
	// Its results are still cached, but must not leak into the live state.
	if s.sessionID != sessionID {
		s.cache.Put(sessionID, *snap)
		return snap, nil
	}

	s.live = *snap
	s.hasLoadedOnce = true
	if snap.IsEmpty() {
		s.status = StatusNoData
	} else {
		s.status = StatusSuccess
		s.cache.Put(sessionID, *snap)
	}
	s.notifyLocked()

	if err := archive.Save(context.Background(), s.arch, sessionID, s.domain, snap); err != nil {
		s.logger.Warn("failed to archive snapshot", zap.Error(err))
	}

	return snap, nil
}

// runLoad opens the feed and drives a loader over it.
func (s *Store[T]) runLoad(ctx context.Context, sessionID string) (*feed.Snapshot[T], error) {
	body, err := s.backend.OpenFeed(ctx, sessionID, s.domain)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	loader := feed.NewLoader[T](feed.LoaderConfig{
		EntityType:   s.entityType,
		BatchSize:    s.batchSize,
		PublishLimit: s.limit,
		Logger:       s.logger,
	})

	return loader.Run(ctx, body, func(snap feed.Snapshot[T]) {
		s.mu.Lock()
		if s.sessionID == sessionID {
			s.live = snap
			s.notifyLocked()
		}
		s.mu.Unlock()
	})
}

// NotifyInputChanged re-runs compute and load when the matching input changed
// after this session has already loaded results at least once. The very first
// input change never triggers work; it reports false and the caller waits for
// an explicit load. Returns whether a re-run happened.
func (s *Store[T]) NotifyInputChanged(ctx context.Context, sessionID string, params map[string]string) (bool, error) {
	s.mu.Lock()
	armed := s.hasLoadedOnce && s.sessionID == sessionID
	s.mu.Unlock()
	if !armed {
		return false, nil
	}

	if _, err := s.RunCompute(ctx, sessionID, params); err != nil {
		return true, err
	}
	_, err := s.LoadAll(ctx, sessionID)
	return true, err
}

// =============================================================================
// OBSERVATION
// =============================================================================

// Status returns the store's current lifecycle status.
func (s *Store[T]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SessionID returns the current session, if any.
func (s *Store[T]) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Live returns a copy of the live snapshot.
func (s *Store[T]) Live() feed.Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Clone()
}

// CacheStats returns the session cache's hit/miss counters.
func (s *Store[T]) CacheStats() sessioncache.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Stats()
}

// CachedSessions returns the cached session IDs, oldest first.
func (s *Store[T]) CachedSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Sessions()
}

// =============================================================================
// INTERNAL
// =============================================================================

func (s *Store[T]) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.notifyLocked()
}

func (s *Store[T]) clearLiveLocked(status Status) {
	s.live = feed.Snapshot[T]{}
	s.status = status
	s.notifyLocked()
}

func (s *Store[T]) notifyLocked() {
	if s.observer != nil {
		s.observer(s.status, s.live.Clone())
	}
}
