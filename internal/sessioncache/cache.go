// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sessioncache bounds per-session result snapshots for fast switching.
package sessioncache

import (
	"github.com/jeranaias/genolens/internal/feed"
)

// =============================================================================
// SESSION RESULT CACHE
// =============================================================================

// DefaultMaxSessions is how many session snapshots are retained per domain.
// Sized for a user alternating among a few open analysis tabs.
const DefaultMaxSessions = 3

// Entry is one cached snapshot keyed by session identifier.
type Entry[T any] struct {
	SessionID string
	Snapshot  feed.Snapshot[T]
}

// Cache is a bounded, insertion-ordered map from session ID to the
// last-known-good snapshot for one domain. Eviction removes the oldest
// un-touched entry once the bound is exceeded; a Get hit re-inserts the entry
// as most recent so sessions the user is alternating between are never
// evicted.
//
// The cache is not internally locked: it is owned by a single result store
// and only ever touched from the control flow driving session transitions.
type Cache[T any] struct {
	maxEntries int
	// order holds session IDs oldest first; entries mirrors it keyed by ID.
	order   []string
	entries map[string]*Entry[T]

	hits   int
	misses int
}

// Stats holds cache hit/miss counters.
type Stats struct {
	Hits    int
	Misses  int
	Entries int
}

// New creates a cache bounded to maxEntries snapshots. Non-positive values
// fall back to DefaultMaxSessions.
func New[T any](maxEntries int) *Cache[T] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxSessions
	}
	return &Cache[T]{
		maxEntries: maxEntries,
		entries:    make(map[string]*Entry[T]),
	}
}

// Get returns the cached entry for a session, touching its recency on hit.
func (c *Cache[T]) Get(sessionID string) (*Entry[T], bool) {
	entry, ok := c.entries[sessionID]
	if !ok {
		c.misses++
		return nil, false
	}
	c.touch(sessionID)
	c.hits++
	return entry, true
}

// Put inserts or replaces the snapshot for a session and evicts the oldest
// entries beyond the bound. Empty snapshots are never stored: caching a
// never-populated result set would later masquerade as a loaded session.
func (c *Cache[T]) Put(sessionID string, snap feed.Snapshot[T]) {
	if sessionID == "" || snap.IsEmpty() {
		return
	}

	if _, exists := c.entries[sessionID]; exists {
		c.entries[sessionID].Snapshot = snap
		c.touch(sessionID)
		return
	}

	c.entries[sessionID] = &Entry[T]{SessionID: sessionID, Snapshot: snap}
	c.order = append(c.order, sessionID)

	for len(c.entries) > c.maxEntries {
		oldest := c.order[0]
		c.removeFromOrder(oldest)
		delete(c.entries, oldest)
	}
}

// Remove deletes the entry for a session, if present.
func (c *Cache[T]) Remove(sessionID string) {
	if _, ok := c.entries[sessionID]; !ok {
		return
	}
	c.removeFromOrder(sessionID)
	delete(c.entries, sessionID)
}

// Len returns the number of cached sessions.
func (c *Cache[T]) Len() int {
	return len(c.entries)
}

// Sessions returns the cached session IDs, oldest first.
func (c *Cache[T]) Sessions() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Stats returns hit/miss counters.
func (c *Cache[T]) Stats() Stats {
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

// =============================================================================
// RECENCY BOOKKEEPING
// =============================================================================

// touch moves a session to the most-recent end of the order.
func (c *Cache[T]) touch(sessionID string) {
	c.removeFromOrder(sessionID)
	c.order = append(c.order, sessionID)
}

// removeFromOrder deletes a session from the order slice.
func (c *Cache[T]) removeFromOrder(sessionID string) {
	for i, id := range c.order {
		if id == sessionID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
