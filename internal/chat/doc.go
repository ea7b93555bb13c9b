// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat consumes the conversational stream and reconciles it into a
// transcript.
//
// The assistant's stream multiplexes plain-text generation with structured
// tool invocations (database queries, literature searches) across multiple
// rounds within one logical turn. The Reader demultiplexes framed events and
// drives a turn Machine that attributes every token and tool result to the
// right transcript entry, surviving mid-stream errors.
//
// # Key Types
//
//   - Event: one parsed stream payload, tagged by EventType
//   - Transcript: ordered append-only sequence of entries
//   - Machine: per-session turn state machine owning the cursor
//   - Reader: sequential stream consumer (SSE or NDJSON framing)
//
// # Guarantees
//
// Transcript order always matches event arrival order. At most one text
// entry is streaming at any instant. Tool result entries never mutate after
// insertion. Aborting the stream leaves the transcript in its partial state
// with no rollback.
package chat
