// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// TURN STATE
// =============================================================================

// State is the turn machine's position within one logical chat turn.
type State string

const (
	StateIdle        State = "idle"
	StateStreaming   State = "streaming"
	StateToolPending State = "tool_pending"
	StateDone        State = "done"
	StateError       State = "error"
)

// terminal reports whether no further events are expected for this turn.
func (s State) terminal() bool {
	return s == StateDone || s == StateError
}

// =============================================================================
// TURN MACHINE
// =============================================================================

// Machine reconciles conversational stream events into a Transcript. One
// machine serves one chat session; Begin starts each turn.
//
// The cursor is the single pointer deciding which text entry incoming tokens
// append to. It is reassigned, never duplicated, whenever a new text
// segment begins: at turn start, after a tool result, and after a
// round-complete signal. This keeps multi-round turns (text, tool call, more
// text) as separate segments instead of one run-on message.
//
// Events within a turn arrive from a single sequential read loop, so state
// transitions are simple; the mutex only guards concurrent observers.
type Machine struct {
	mu         sync.Mutex
	transcript *Transcript
	logger     *zap.Logger
	onUpdate   func()

	state          State
	conversationID string

	// cursorID is reserved for the current text segment; cursorBound says
	// whether an entry with that ID exists yet. An unbound cursor is the
	// "dangling" position between a tool invocation and the next token.
	cursorID    string
	cursorBound bool

	busy map[ToolKind]bool
}

// NewMachine creates a turn machine over a transcript. onUpdate, if non-nil,
// fires after every transcript mutation; it is invoked with the machine lock
// held, so observers should copy and return.
func NewMachine(transcript *Transcript, logger *zap.Logger, onUpdate func()) *Machine {
	if transcript == nil {
		transcript = NewTranscript()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		transcript: transcript,
		logger:     logger,
		onUpdate:   onUpdate,
		state:      StateIdle,
		busy:       make(map[ToolKind]bool),
	}
}

// Begin appends the user's message and arms the machine for a new turn.
func (m *Machine) Begin(userText string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transcript.append(&Entry{
		ID:        newEntryID(),
		Kind:      KindText,
		Role:      RoleUser,
		Timestamp: time.Now(),
		Content:   userText,
	})
	m.resetCursorLocked()
	m.state = StateStreaming
	m.notifyLocked()
}

// Apply dispatches one stream event into the transcript.
func (m *Machine) Apply(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.terminal() && ev.Type != EventConversationStarted {
		m.logger.Warn("event after turn ended, ignoring",
			zap.String("event_type", string(ev.Type)),
			zap.String("state", string(m.state)))
		return
	}

	switch ev.Type {
	case EventConversationStarted:
		m.conversationID = ev.ConversationID
		m.resetCursorLocked()
		m.state = StateStreaming

	case EventToken:
		m.applyTokenLocked(ev.Text)

	case EventToolStarted:
		m.freezeCursorEntryLocked()
		m.resetCursorLocked()
		m.busy[ev.Tool] = true
		m.state = StateToolPending

	case EventToolResult:
		// Appended fully formed regardless of cursor state, immutable after.
		m.transcript.append(&Entry{
			ID:        newEntryID(),
			Kind:      KindToolResult,
			Role:      RoleAssistant,
			Timestamp: time.Now(),
			Tool:      ev.Tool,
			Payload:   ev.Payload,
		})
		delete(m.busy, ev.Tool)
		m.resetCursorLocked()
		m.state = StateStreaming

	case EventRoundComplete:
		m.busy = make(map[ToolKind]bool)
		m.resetCursorLocked()
		m.state = StateStreaming

	case EventComplete:
		// Idempotent safety net: freeze every text entry, not just the
		// cursor's.
		for _, e := range m.transcript.entries {
			e.IsStreaming = false
		}
		m.busy = make(map[ToolKind]bool)
		m.cursorBound = false
		m.state = StateDone

	case EventError:
		m.applyErrorLocked(ev.Message)

	default:
		m.logger.Warn("unknown chat event type, ignoring", zap.String("event_type", string(ev.Type)))
		return
	}

	m.notifyLocked()
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// applyTokenLocked appends a token to the cursor's entry, creating the entry
// on the first token of a segment. Never creates two entries for one cursor.
func (m *Machine) applyTokenLocked(text string) {
	if !m.cursorBound {
		m.transcript.append(&Entry{
			ID:          m.cursorID,
			Kind:        KindText,
			Role:        RoleAssistant,
			Timestamp:   time.Now(),
			Content:     text,
			IsStreaming: true,
		})
		m.cursorBound = true
	} else if e := m.transcript.byID(m.cursorID); e != nil {
		e.Content += text
	}
	m.state = StateStreaming
}

// applyErrorLocked surfaces a turn failure in the transcript itself: replace
// the in-flight segment if one exists, otherwise append a fresh error entry.
func (m *Machine) applyErrorLocked(message string) {
	if message == "" {
		message = "The assistant stream failed. Please try again."
	}

	if m.cursorBound {
		if e := m.transcript.byID(m.cursorID); e != nil {
			e.Content = message
			e.IsStreaming = false
		}
	} else {
		m.transcript.append(&Entry{
			ID:        m.cursorID,
			Kind:      KindText,
			Role:      RoleAssistant,
			Timestamp: time.Now(),
			Content:   message,
		})
		m.cursorBound = true
	}

	m.busy = make(map[ToolKind]bool)
	m.state = StateError
}

// =============================================================================
// CURSOR MANAGEMENT
// =============================================================================

// resetCursorLocked reserves a fresh entry ID for the next text segment.
func (m *Machine) resetCursorLocked() {
	m.cursorID = newEntryID()
	m.cursorBound = false
}

// freezeCursorEntryLocked ends streaming on the cursor's entry, if any.
func (m *Machine) freezeCursorEntryLocked() {
	if !m.cursorBound {
		return
	}
	if e := m.transcript.byID(m.cursorID); e != nil {
		e.IsStreaming = false
	}
}

func (m *Machine) notifyLocked() {
	if m.onUpdate != nil {
		m.onUpdate()
	}
}

// =============================================================================
// OBSERVATION
// =============================================================================

// State returns the machine's current turn state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConversationID returns the server-assigned conversation identifier.
func (m *Machine) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// Busy reports whether a tool invocation of the given kind is in flight.
func (m *Machine) Busy(kind ToolKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy[kind]
}

// Entries returns a snapshot copy of the transcript.
func (m *Machine) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcript.Entries()
}

// Transcript returns the underlying transcript. Mutation stays with the
// machine; callers should treat it as read-only.
func (m *Machine) Transcript() *Transcript {
	return m.transcript
}
