// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package archive persists terminal result snapshots to a local SQLite
// database, so a session evicted from the in-memory cache can be restored
// without re-streaming the feed.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/genolens/internal/feed"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound      = errors.New("snapshot not found")
	ErrDatabaseError = errors.New("database error")
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	session_id TEXT NOT NULL,
	domain     TEXT NOT NULL,
	items      BLOB NOT NULL,
	counters   BLOB NOT NULL,
	saved_at   INTEGER NOT NULL,
	PRIMARY KEY (session_id, domain)
);
`

// =============================================================================
// ARCHIVE
// =============================================================================

// Archive stores one terminal snapshot per (session, domain) pair. Writes
// replace any previous snapshot for the same key.
type Archive struct {
	db *sql.DB
}

// Open creates or opens the snapshot archive at the given path.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// Close releases the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// put stores raw snapshot JSON for a (session, domain) key.
func (a *Archive) put(ctx context.Context, sessionID string, domain feed.Domain, items, counters []byte) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, domain, items, counters, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, domain) DO UPDATE SET
			items = excluded.items,
			counters = excluded.counters,
			saved_at = excluded.saved_at`,
		sessionID, string(domain), items, counters, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// get loads raw snapshot JSON for a (session, domain) key.
func (a *Archive) get(ctx context.Context, sessionID string, domain feed.Domain) (items, counters []byte, err error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT items, counters FROM snapshots WHERE session_id = ? AND domain = ?`,
		sessionID, string(domain))
	if err := row.Scan(&items, &counters); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return items, counters, nil
}

// Delete removes all archived snapshots for a session, across domains.
func (a *Archive) Delete(ctx context.Context, sessionID string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM snapshots WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Sessions lists the session IDs currently present in the archive.
func (a *Archive) Sessions(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM snapshots ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// TYPED SNAPSHOT ACCESS
// =============================================================================

// Save archives a terminal snapshot. Empty snapshots are skipped; an archived
// snapshot always carries data worth restoring.
func Save[T any](ctx context.Context, a *Archive, sessionID string, domain feed.Domain, snap *feed.Snapshot[T]) error {
	if a == nil || snap == nil || snap.IsEmpty() {
		return nil
	}

	items, err := json.Marshal(snap.Items)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot items: %w", err)
	}
	counters, err := json.Marshal(snap.SummaryCounters)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot counters: %w", err)
	}
	return a.put(ctx, sessionID, domain, items, counters)
}

// Load restores an archived snapshot, or ErrNotFound. Restored snapshots are
// terminal, so Progress is always 100.
func Load[T any](ctx context.Context, a *Archive, sessionID string, domain feed.Domain) (*feed.Snapshot[T], error) {
	if a == nil {
		return nil, ErrNotFound
	}

	items, counters, err := a.get(ctx, sessionID, domain)
	if err != nil {
		return nil, err
	}

	snap := &feed.Snapshot[T]{Progress: 100}
	if err := json.Unmarshal(items, &snap.Items); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot items: %w", err)
	}
	if err := json.Unmarshal(counters, &snap.SummaryCounters); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot counters: %w", err)
	}
	return snap, nil
}
