// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package service exposes the client core as one facade: compute-and-load
// across result domains, combined ranking, session transitions and the chat
// turn lifecycle.
package service

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jeranaias/genolens/internal/archive"
	"github.com/jeranaias/genolens/internal/chat"
	"github.com/jeranaias/genolens/internal/clinical"
	"github.com/jeranaias/genolens/internal/feed"
	"github.com/jeranaias/genolens/internal/rank"
	"github.com/jeranaias/genolens/internal/store"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrTurnInFlight rejects a chat message while a previous turn is still
// streaming.
var ErrTurnInFlight = errors.New("a chat turn is already in flight")

// =============================================================================
// BACKEND CONTRACT
// =============================================================================

// Backend is the full API surface the service consumes.
type Backend interface {
	store.Backend
	OpenChatStream(ctx context.Context, sessionID, message string) (io.ReadCloser, error)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the service's collaborators.
type Config struct {
	Backend  Backend
	Clinical clinical.Provider
	Archive  *archive.Archive

	// GeneBatchSize and PublicationBatchSize override the per-domain
	// publish batching. Non-positive values use the feed defaults.
	GeneBatchSize        int
	PublicationBatchSize int

	// PublishLimit caps each loader's intermediate publish cadence.
	PublishLimit rate.Limit

	// CacheSize bounds each domain's session snapshot cache. Non-positive
	// uses the session cache default.
	CacheSize int

	// OnGenes and OnLiterature observe domain store updates. Optional.
	OnGenes      store.Observer[feed.GeneAggregate]
	OnLiterature store.Observer[feed.Publication]

	// OnTranscript fires after every transcript mutation. Optional.
	OnTranscript func()

	Logger *zap.Logger
}

// =============================================================================
// SERVICE
// =============================================================================

// Service is the consumer-facing core. The gene feed, the literature feed and
// the chat stream may all be in flight simultaneously; they share no mutable
// state, so an error in one never corrupts another.
type Service struct {
	backend  Backend
	clinical clinical.Provider
	logger   *zap.Logger

	genes      *store.Store[feed.GeneAggregate]
	literature *store.Store[feed.Publication]

	onTranscript func()

	mu         sync.Mutex
	sessionID  string
	machine    *chat.Machine
	turnActive bool
	cancelTurn context.CancelFunc
}

// New wires the service from its collaborators.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		backend:      cfg.Backend,
		clinical:     cfg.Clinical,
		logger:       logger,
		onTranscript: cfg.OnTranscript,
	}

	geneBatch := cfg.GeneBatchSize
	if geneBatch <= 0 {
		geneBatch = feed.GeneBatchSize
	}
	pubBatch := cfg.PublicationBatchSize
	if pubBatch <= 0 {
		pubBatch = feed.PublicationBatchSize
	}

	s.genes = store.New(store.Config[feed.GeneAggregate]{
		Domain:       feed.DomainGenes,
		EntityType:   feed.RecordGene,
		BatchSize:    geneBatch,
		PublishLimit: cfg.PublishLimit,
		Backend:      cfg.Backend,
		Archive:      cfg.Archive,
		CacheSize:    cfg.CacheSize,
		Observer:     cfg.OnGenes,
		Logger:       logger,
	})
	s.literature = store.New(store.Config[feed.Publication]{
		Domain:       feed.DomainLiterature,
		EntityType:   feed.RecordPublication,
		BatchSize:    pubBatch,
		PublishLimit: cfg.PublishLimit,
		Backend:      cfg.Backend,
		Archive:      cfg.Archive,
		CacheSize:    cfg.CacheSize,
		Observer:     cfg.OnLiterature,
		Logger:       logger,
	})

	s.machine = chat.NewMachine(chat.NewTranscript(), logger, cfg.OnTranscript)
	return s
}

// =============================================================================
// COMPUTE AND LOAD
// =============================================================================

// RunAnalysis triggers compute and streams results for both domains
// concurrently. The two feeds are independent streams; a failure in one
// cancels the other via the group context but never touches its live state.
func (s *Service) RunAnalysis(ctx context.Context, sessionID string, params map[string]string) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if _, err := s.genes.RunCompute(gctx, sessionID, params); err != nil {
			return err
		}
		_, err := s.genes.LoadAll(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		if _, err := s.literature.RunCompute(gctx, sessionID, params); err != nil {
			return err
		}
		_, err := s.literature.LoadAll(gctx, sessionID)
		return err
	})

	return g.Wait()
}

// LoadAll streams both domains' existing results without recomputing.
func (s *Service) LoadAll(ctx context.Context, sessionID string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.genes.LoadAll(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		_, err := s.literature.LoadAll(gctx, sessionID)
		return err
	})
	return g.Wait()
}

// NotifyInputChanged forwards a matching-input change to both domain stores,
// which re-run compute and load only for sessions that have loaded before.
func (s *Service) NotifyInputChanged(ctx context.Context, sessionID string, params map[string]string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.genes.NotifyInputChanged(gctx, sessionID, params)
		return err
	})
	g.Go(func() error {
		_, err := s.literature.NotifyInputChanged(gctx, sessionID, params)
		return err
	})
	return g.Wait()
}

// =============================================================================
// RANKING
// =============================================================================

// Ranked derives the combined literature-and-clinical ranking for the current
// session's publications. When the classification engine is unreachable the
// ranking degrades to literature relevance alone instead of failing.
func (s *Service) Ranked(ctx context.Context) []rank.Group[feed.Publication] {
	sessionID := s.literature.SessionID()
	items := s.literature.Live().Items

	var priorities map[string]clinical.Priority
	if s.clinical != nil && sessionID != "" {
		var err error
		priorities, err = s.clinical.Priorities(ctx, sessionID)
		if err != nil {
			s.logger.Warn("clinical priorities unavailable, ranking on literature only",
				zap.String("session_id", sessionID), zap.Error(err))
			priorities = nil
		}
	}

	return rank.Combine(items, priorities)
}

// =============================================================================
// CHAT
// =============================================================================

// SendMessage runs one chat turn to completion: appends the user message,
// opens the assistant stream and reconciles its events into the transcript.
// A second call while a turn is streaming is rejected with ErrTurnInFlight.
func (s *Service) SendMessage(ctx context.Context, sessionID, text string) error {
	s.mu.Lock()
	if s.turnActive {
		s.mu.Unlock()
		s.logger.Warn("chat turn already in flight, rejecting", zap.String("session_id", sessionID))
		return ErrTurnInFlight
	}
	s.turnActive = true
	turnCtx, cancel := context.WithCancel(ctx)
	s.cancelTurn = cancel
	machine := s.machine
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.turnActive = false
		if s.cancelTurn != nil {
			s.cancelTurn()
			s.cancelTurn = nil
		}
		s.mu.Unlock()
	}()

	machine.Begin(text)

	body, err := s.backend.OpenChatStream(turnCtx, sessionID, text)
	if err != nil {
		machine.Apply(chat.Event{Type: chat.EventError, Message: "Could not reach the assistant. Please try again."})
		return err
	}
	defer body.Close()

	reader := chat.NewReader(machine, s.logger)
	return reader.Consume(turnCtx, body)
}

// AbortTurn cancels the in-flight chat turn, if any, leaving the transcript
// in its partial state.
func (s *Service) AbortTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelTurn != nil {
		s.cancelTurn()
		s.cancelTurn = nil
	}
}

// Transcript returns a snapshot copy of the chat transcript.
func (s *Service) Transcript() []chat.Entry {
	s.mu.Lock()
	machine := s.machine
	s.mu.Unlock()
	return machine.Entries()
}

// ChatState returns the turn machine's current state.
func (s *Service) ChatState() chat.State {
	s.mu.Lock()
	machine := s.machine
	s.mu.Unlock()
	return machine.State()
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// OnSessionChanged propagates a session transition: the in-flight chat turn
// is aborted, each domain store saves and restores its results, and a fresh
// transcript is armed for the incoming session.
func (s *Service) OnSessionChanged(prev, next string) {
	s.AbortTurn()

	s.genes.OnSessionChanged(prev, next)
	s.literature.OnSessionChanged(prev, next)

	s.mu.Lock()
	s.sessionID = next
	s.machine = chat.NewMachine(chat.NewTranscript(), s.logger, s.onTranscript)
	s.mu.Unlock()
}

// Clear wipes one session's results from every domain, the snapshot archive
// and the clinical priority cache. Other sessions are untouched.
func (s *Service) Clear(ctx context.Context, sessionID string) {
	s.genes.Clear(ctx, sessionID)
	s.literature.Clear(ctx, sessionID)

	if inv, ok := s.clinical.(interface{ Invalidate(string) }); ok {
		inv.Invalidate(sessionID)
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Genes returns the phenotype-matched gene store.
func (s *Service) Genes() *store.Store[feed.GeneAggregate] {
	return s.genes
}

// Literature returns the publication store.
func (s *Service) Literature() *store.Store[feed.Publication] {
	return s.literature
}
