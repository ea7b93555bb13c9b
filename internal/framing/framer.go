// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package framing

import "bytes"

// =============================================================================
// LINE FRAMER
// =============================================================================

// LineFramer assembles complete newline-terminated records out of arbitrarily
// chunked input. Bytes after the last '\n' are buffered until more input
// arrives.
//
// A record is only ever emitted once its terminating '\n' has been seen. If
// the stream ends while bytes are still buffered, that trailing fragment is
// treated as an aborted record and discarded (see Finish).
type LineFramer struct {
	remainder []byte
}

// NewLineFramer creates an empty framer.
func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

// Feed appends a chunk and returns every complete record seen so far, in
// order. Returned slices are copies and remain valid after the next Feed.
// Trailing '\r' is stripped so CRLF input frames identically to LF input.
func (f *LineFramer) Feed(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		return nil
	}

	f.remainder = append(f.remainder, chunk...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(f.remainder, '\n')
		if idx < 0 {
			break
		}

		line := f.remainder[:idx]
		line = bytes.TrimSuffix(line, []byte("\r"))

		// Copy out: remainder is reused across Feed calls.
		out := make([]byte, len(line))
		copy(out, line)
		lines = append(lines, out)

		f.remainder = f.remainder[idx+1:]
	}

	return lines
}

// Pending returns the number of buffered bytes awaiting a terminator.
func (f *LineFramer) Pending() int {
	return len(f.remainder)
}

// Finish marks the end of the stream and returns how many bytes were dropped.
// A non-empty remainder with no trailing newline is an aborted record, not a
// short one: it is discarded rather than emitted. Callers that care log the
// returned count.
func (f *LineFramer) Finish() int {
	dropped := len(f.remainder)
	f.remainder = nil
	return dropped
}

// Reset clears all buffered state so the framer can be reused for a new
// stream.
func (f *LineFramer) Reset() {
	f.remainder = nil
}
