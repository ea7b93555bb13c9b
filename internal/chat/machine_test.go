// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestMachine() *Machine {
	return NewMachine(NewTranscript(), nil, nil)
}

// assistantEntries filters out the user message appended by Begin.
func assistantEntries(m *Machine) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Role == RoleAssistant {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// TOKEN HANDLING
// =============================================================================

func TestTokensAccumulateIntoOneEntry(t *testing.T) {
	m := newTestMachine()
	m.Begin("question")

	m.Apply(Event{Type: EventToken, Text: "Hello"})
	m.Apply(Event{Type: EventToken, Text: " world"})

	entries := assistantEntries(m)
	require.Len(t, entries, 1)
	assert.Equal(t, "Hello world", entries[0].Content)
	assert.True(t, entries[0].IsStreaming)
	assert.Equal(t, StateStreaming, m.State())
}

func TestAtMostOneStreamingEntry(t *testing.T) {
	m := newTestMachine()
	m.Begin("q")

	events := []Event{
		{Type: EventToken, Text: "a"},
		{Type: EventToolStarted, Tool: ToolQuery},
		{Type: EventToolResult, Tool: ToolQuery, Payload: json.RawMessage(`{}`)},
		{Type: EventToken, Text: "b"},
		{Type: EventRoundComplete},
		{Type: EventToken, Text: "c"},
	}
	for _, ev := range events {
		m.Apply(ev)
		streaming := 0
		for _, e := range m.Entries() {
			if e.IsStreaming {
				streaming++
			}
		}
		assert.LessOrEqual(t, streaming, 1, "after %s", ev.Type)
	}
}

// =============================================================================
// TURN RECONCILIATION
// =============================================================================

func TestMultiRoundTurnProducesSeparateSegments(t *testing.T) {
	// token("Hi"), token(" there"), tool start, tool result, round complete,
	// token("Done") must yield exactly three assistant entries.
	m := newTestMachine()
	m.Begin("q")

	m.Apply(Event{Type: EventToken, Text: "Hi"})
	m.Apply(Event{Type: EventToken, Text: " there"})
	m.Apply(Event{Type: EventToolStarted, Tool: ToolQuery})
	m.Apply(Event{Type: EventToolResult, Tool: ToolQuery, Payload: json.RawMessage(`{"rows":3}`)})
	m.Apply(Event{Type: EventRoundComplete})
	m.Apply(Event{Type: EventToken, Text: "Done"})

	entries := assistantEntries(m)
	require.Len(t, entries, 3)

	assert.Equal(t, KindText, entries[0].Kind)
	assert.Equal(t, "Hi there", entries[0].Content)
	assert.False(t, entries[0].IsStreaming)

	assert.Equal(t, KindToolResult, entries[1].Kind)
	assert.Equal(t, ToolQuery, entries[1].Tool)
	assert.JSONEq(t, `{"rows":3}`, string(entries[1].Payload))

	assert.Equal(t, KindText, entries[2].Kind)
	assert.Equal(t, "Done", entries[2].Content)
	assert.True(t, entries[2].IsStreaming, "final segment streams until complete")

	m.Apply(Event{Type: EventComplete})
	entries = assistantEntries(m)
	assert.False(t, entries[2].IsStreaming)
	assert.Equal(t, StateDone, m.State())
}

func TestEntryIDsAreUniqueAndStable(t *testing.T) {
	m := newTestMachine()
	m.Begin("q")

	m.Apply(Event{Type: EventToken, Text: "a"})
	m.Apply(Event{Type: EventRoundComplete})
	m.Apply(Event{Type: EventToken, Text: "b"})

	first := m.Entries()
	ids := make(map[string]bool)
	for _, e := range first {
		assert.NotEmpty(t, e.ID)
		assert.False(t, ids[e.ID], "duplicate id %s", e.ID)
		ids[e.ID] = true
	}

	// IDs do not change between observations of the same transcript.
	second := m.Entries()
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestToolResultAppendedEvenWithoutPriorText(t *testing.T) {
	m := newTestMachine()
	m.Begin("q")

	m.Apply(Event{Type: EventToolStarted, Tool: ToolLiterature})
	m.Apply(Event{Type: EventToolResult, Tool: ToolLiterature, Payload: json.RawMessage(`{"hits":7}`)})

	entries := assistantEntries(m)
	require.Len(t, entries, 1)
	assert.Equal(t, KindToolResult, entries[0].Kind)
}

func TestTranscriptOrderMatchesArrivalOrder(t *testing.T) {
	m := newTestMachine()
	m.Begin("q")

	m.Apply(Event{Type: EventToken, Text: "first"})
	m.Apply(Event{Type: EventToolStarted, Tool: ToolQuery})
	m.Apply(Event{Type: EventToolResult, Tool: ToolQuery, Payload: json.RawMessage(`{}`)})
	m.Apply(Event{Type: EventToken, Text: "second"})

	entries := assistantEntries(m)
	require.Len(t, entries, 3)
	assert.Equal(t, KindText, entries[0].Kind)
	assert.Equal(t, KindToolResult, entries[1].Kind)
	assert.Equal(t, KindText, entries[2].Kind)
	assert.Equal(t, "second", entries[2].Content)
}

// =============================================================================
// BUSY INDICATORS
// =============================================================================

func TestBusyIndicatorLifecycle(t *testing.T) {
	m := newTestMachine()
	m.Begin("q")

	m.Apply(Event{Type: EventToolStarted, Tool: ToolQuery})
	assert.True(t, m.Busy(ToolQuery))
	assert.False(t, m.Busy(ToolLiterature))
	assert.Equal(t, StateToolPending, m.State())

	m.Apply(Event{Type: EventToolResult, Tool: ToolQuery, Payload: json.RawMessage(`{}`)})
	assert.False(t, m.Busy(ToolQuery))
}

func TestRoundCompleteClearsAllBusyIndicators(t *testing.T) {
	m := newTestMachine()
	m.Begin("q")

	m.Apply(Event{Type: EventToolStarted, Tool: ToolQuery})
	m.Apply(Event{Type: EventToolStarted, Tool: ToolLiterature})
	m.Apply(Event{Type: EventRoundComplete})

	assert.False(t, m.Busy(ToolQuery))
	assert.False(t, m.Busy(ToolLiterature))
}

// =============================================================================
// ERROR HANDLING
// =============================================================================

func TestErrorReplacesInFlightSegment(t *testing.T) {
	m := newTestMachine()
	m.Begin("q")

	m.Apply(Event{Type: EventToken, Text: "partial answ"})
	m.Apply(Event{Type: EventError, Message: "backend exploded"})

	entries := assistantEntries(m)
	require.Len(t, entries, 1)
	assert.Equal(t, "backend exploded", entries[0].Content)
	assert.False(t, entries[0].IsStreaming)
	assert.Equal(t, StateError, m.State())
}

func TestErrorWithDanglingCursorAppendsEntry(t *testing.T) {
	m := newTestMachine()
	m.Begin("q")

	m.Apply(Event{Type: EventToken, Text: "text"})
	m.Apply(Event{Type: EventToolStarted, Tool: ToolQuery})
	m.Apply(Event{Type: EventError, Message: "tool failed"})

	entries := assistantEntries(m)
	require.Len(t, entries, 2)
	assert.Equal(t, "text", entries[0].Content, "frozen segment survives")
	assert.Equal(t, "tool failed", entries[1].Content)
	assert.False(t, m.Busy(ToolQuery), "error clears busy indicators")
}

func TestEventsAfterTerminalStateAreIgnored(t *testing.T) {
	m := newTestMachine()
	m.Begin("q")

	m.Apply(Event{Type: EventToken, Text: "done"})
	m.Apply(Event{Type: EventComplete})
	m.Apply(Event{Type: EventToken, Text: " straggler"})

	entries := assistantEntries(m)
	require.Len(t, entries, 1)
	assert.Equal(t, "done", entries[0].Content)
}

// =============================================================================
// CONVERSATION METADATA
// =============================================================================

func TestConversationStarted(t *testing.T) {
	m := newTestMachine()
	m.Begin("q")

	m.Apply(Event{Type: EventConversationStarted, ConversationID: "conv-42"})
	assert.Equal(t, "conv-42", m.ConversationID())
}

func TestToolResultEntriesNeverMutate(t *testing.T) {
	m := newTestMachine()
	m.Begin("q")

	m.Apply(Event{Type: EventToolResult, Tool: ToolQuery, Payload: json.RawMessage(`{"v":1}`)})
	before := assistantEntries(m)[0]

	m.Apply(Event{Type: EventToken, Text: "more"})
	m.Apply(Event{Type: EventError, Message: "boom"})

	after := assistantEntries(m)[0]
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, string(before.Payload), string(after.Payload))
}
