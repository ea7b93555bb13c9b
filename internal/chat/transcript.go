// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLES AND ENTRY KINDS
// =============================================================================

// Role represents the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// EntryKind distinguishes streamed text from structured tool results.
type EntryKind string

const (
	KindText       EntryKind = "text"
	KindToolResult EntryKind = "tool_result"
)

// =============================================================================
// TRANSCRIPT ENTRY
// =============================================================================

// Entry is one transcript element. Text entries mutate while streaming and
// freeze afterwards; tool result entries are immutable once appended.
//
// IDs are assigned locally by the reader, not by the server, and stay stable
// across re-renders of the same transcript.
type Entry struct {
	ID        string    `json:"id"`
	Kind      EntryKind `json:"kind"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Text entries.
	Content     string `json:"content,omitempty"`
	IsStreaming bool   `json:"is_streaming,omitempty"`

	// Tool result entries.
	Tool    ToolKind        `json:"tool,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// newEntryID creates a locally unique transcript entry ID.
func newEntryID() string {
	return "ent_" + uuid.NewString()
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is the ordered, append-only reconciliation target for one chat
// session. It is mutated only by the turn machine; readers get copies.
type Transcript struct {
	entries []*Entry
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// append adds an entry and returns it.
func (t *Transcript) append(e *Entry) *Entry {
	t.entries = append(t.entries, e)
	return e
}

// byID returns the entry with the given ID, or nil.
func (t *Transcript) byID(id string) *Entry {
	for _, e := range t.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	return len(t.entries)
}

// Entries returns a snapshot copy of the transcript. Entry values are copied
// so observers never see in-place streaming mutation.
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

// Render returns a plain-text rendition for logs and the CLI. Markup
// rendering is a consumer concern, not handled here.
func (t *Transcript) Render() string {
	var sb strings.Builder
	for _, e := range t.entries {
		switch e.Kind {
		case KindToolResult:
			sb.WriteString("[" + string(e.Tool) + " result]\n")
		default:
			sb.WriteString(string(e.Role) + ": " + e.Content + "\n")
		}
	}
	return sb.String()
}
