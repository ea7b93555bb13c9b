// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "encoding/json"

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType discriminates the multiplexed conversational stream. Within one
// logical turn events arrive in causal order: conversation_started, tokens,
// tool invocations and results, round completions, then complete or error.
type EventType string

const (
	EventConversationStarted EventType = "conversation_started"
	EventToken               EventType = "token"
	EventToolStarted         EventType = "tool_invocation_started"
	EventToolResult          EventType = "tool_result"
	EventRoundComplete       EventType = "round_complete"
	EventComplete            EventType = "complete"
	EventError               EventType = "error"
)

// ToolKind identifies which assistant tool an invocation or result belongs to.
type ToolKind string

const (
	// ToolQuery is a structured database query against the session's results.
	ToolQuery ToolKind = "query"

	// ToolLiterature is a literature search.
	ToolLiterature ToolKind = "literature"
)

// Event is one parsed stream payload. Fields are populated per type:
// ConversationID for conversation_started, Text for token, Tool for the tool
// events, Payload for tool_result, Message for error.
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Text           string          `json:"text,omitempty"`
	Tool           ToolKind        `json:"tool,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Message        string          `json:"message,omitempty"`
}
