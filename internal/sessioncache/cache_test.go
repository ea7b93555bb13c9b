// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sessioncache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/genolens/internal/feed"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func snapWithItems(n int) feed.Snapshot[feed.Publication] {
	items := make([]feed.Publication, n)
	for i := range items {
		items[i] = feed.Publication{PMID: "PM", RelevanceScore: 0.5}
	}
	return feed.Snapshot[feed.Publication]{Items: items, Progress: 100}
}

// =============================================================================
// BASIC OPERATIONS
// =============================================================================

func TestGetMiss(t *testing.T) {
	c := New[feed.Publication](3)

	entry, ok := c.Get("absent")
	assert.False(t, ok)
	assert.Nil(t, entry)
	assert.Equal(t, 1, c.Stats().Misses)
}

func TestPutAndGet(t *testing.T) {
	c := New[feed.Publication](3)
	c.Put("A", snapWithItems(5))

	entry, ok := c.Get("A")
	require.True(t, ok)
	assert.Equal(t, "A", entry.SessionID)
	assert.Len(t, entry.Snapshot.Items, 5)
	assert.Equal(t, 1, c.Stats().Hits)
}

func TestPutReplacesExisting(t *testing.T) {
	c := New[feed.Publication](3)
	c.Put("A", snapWithItems(1))
	c.Put("A", snapWithItems(7))

	entry, ok := c.Get("A")
	require.True(t, ok)
	assert.Len(t, entry.Snapshot.Items, 7)
	assert.Equal(t, 1, c.Len())
}

func TestEmptySnapshotIsNeverStored(t *testing.T) {
	c := New[feed.Publication](3)
	c.Put("A", feed.Snapshot[feed.Publication]{Progress: 100})

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("A")
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	c := New[feed.Publication](3)
	c.Put("A", snapWithItems(1))
	c.Put("B", snapWithItems(1))

	c.Remove("A")
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []string{"B"}, c.Sessions())

	// Removing an absent session is a no-op.
	c.Remove("zzz")
	assert.Equal(t, 1, c.Len())
}

// =============================================================================
// EVICTION
// =============================================================================

func TestBoundEvictsOldestInsertions(t *testing.T) {
	// Five distinct sessions with no intervening gets leave the last three.
	c := New[feed.Publication](3)
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		c.Put(id, snapWithItems(1))
	}

	assert.Equal(t, []string{"C", "D", "E"}, c.Sessions())
	assert.Equal(t, 3, c.Len())
}

func TestGetTouchProtectsActiveSession(t *testing.T) {
	// A,B,C then get(A) then D must evict B, the oldest untouched entry.
	c := New[feed.Publication](3)
	c.Put("A", snapWithItems(1))
	c.Put("B", snapWithItems(1))
	c.Put("C", snapWithItems(1))

	_, ok := c.Get("A")
	require.True(t, ok)

	c.Put("D", snapWithItems(1))

	assert.Equal(t, 3, c.Len())
	assert.ElementsMatch(t, []string{"A", "C", "D"}, c.Sessions())
	_, ok = c.Get("B")
	assert.False(t, ok)
}

func TestReplacementDoesNotGrowCache(t *testing.T) {
	c := New[feed.Publication](3)
	c.Put("A", snapWithItems(1))
	c.Put("B", snapWithItems(1))
	c.Put("C", snapWithItems(1))
	c.Put("B", snapWithItems(9))
	c.Put("D", snapWithItems(1))

	// Replacing B touched it, so A (oldest untouched) was evicted.
	assert.Equal(t, 3, c.Len())
	assert.ElementsMatch(t, []string{"B", "C", "D"}, c.Sessions())
}

func TestDefaultBound(t *testing.T) {
	c := New[feed.Publication](0)
	for _, id := range []string{"A", "B", "C", "D"} {
		c.Put(id, snapWithItems(1))
	}
	assert.Equal(t, DefaultMaxSessions, c.Len())
}
