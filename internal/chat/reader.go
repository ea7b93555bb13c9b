// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// TURN STATISTICS
// =============================================================================

// TurnStats holds diagnostics collected while consuming one turn.
type TurnStats struct {
	Tokens            int
	ToolResults       int
	Rounds            int
	ParseFailures     int
	FirstTokenLatency time.Duration
	Duration          time.Duration
}

// =============================================================================
// STREAM READER
// =============================================================================

// doneSentinel ends an SSE-encoded stream.
var doneSentinel = []byte("[DONE]")

// Reader consumes the conversational stream and drives a turn machine. It
// accepts both SSE framing ("data: {...}" with blank-line separators and a
// [DONE] sentinel) and bare NDJSON lines; every payload decodes to the same
// Event shape either way.
//
// One Reader run is one sequential read loop: events are applied strictly in
// arrival order.
type Reader struct {
	machine *Machine
	logger  *zap.Logger
	stats   TurnStats
}

// NewReader creates a reader over a turn machine.
func NewReader(machine *Machine, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{machine: machine, logger: logger}
}

// Consume reads the stream until completion, error, or cancellation.
//
// Unparseable lines are logged and skipped; the stream continues. A transport
// failure mid-turn is surfaced both as a returned error and as an error event
// applied to the machine, so the transcript shows the failure instead of the
// turn silently disappearing. Cancellation stops dispatch immediately and
// returns nil, leaving the transcript in its partial state; callers display
// it as-is.
func (r *Reader) Consume(ctx context.Context, body io.Reader) error {
	start := time.Now()
	defer func() { r.stats.Duration = time.Since(start) }()

	reader := bufio.NewReader(body)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if done := r.handleLine(line, start); done {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Stream ended without an explicit completion event; close
				// out the turn so no entry is left streaming forever.
				if !r.machine.State().terminal() {
					r.machine.Apply(Event{Type: EventComplete})
				}
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			r.machine.Apply(Event{Type: EventError, Message: "The connection was interrupted while the assistant was responding."})
			return fmt.Errorf("chat stream read failed: %w", err)
		}
	}
}

// Stats returns diagnostics from the most recent Consume.
func (r *Reader) Stats() TurnStats {
	return r.stats
}

// =============================================================================
// LINE HANDLING
// =============================================================================

// handleLine decodes one stream line and applies it. Returns true when the
// stream is logically finished.
func (r *Reader) handleLine(line []byte, start time.Time) bool {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return false // SSE event separator
	}

	// SSE framing: strip the data field prefix; ignore other fields.
	if bytes.HasPrefix(line, []byte("data:")) {
		line = bytes.TrimSpace(line[5:])
		if len(line) == 0 {
			return false
		}
	} else if bytes.HasPrefix(line, []byte(":")) ||
		bytes.HasPrefix(line, []byte("event:")) ||
		bytes.HasPrefix(line, []byte("id:")) ||
		bytes.HasPrefix(line, []byte("retry:")) {
		return false
	}

	if bytes.Equal(line, doneSentinel) {
		if !r.machine.State().terminal() {
			r.machine.Apply(Event{Type: EventComplete})
		}
		return true
	}

	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		r.stats.ParseFailures++
		r.logger.Warn("skipping malformed chat event", zap.Error(err))
		return false
	}

	switch ev.Type {
	case EventToken:
		if r.stats.Tokens == 0 {
			r.stats.FirstTokenLatency = time.Since(start)
		}
		r.stats.Tokens++
	case EventToolResult:
		r.stats.ToolResults++
	case EventRoundComplete:
		r.stats.Rounds++
	}

	r.machine.Apply(ev)

	return ev.Type == EventComplete || ev.Type == EventError
}
