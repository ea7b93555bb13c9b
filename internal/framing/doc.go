// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package framing splits raw byte streams into newline-delimited records.
//
// The analysis backend delivers result collections as NDJSON: one JSON
// object per line, separated by '\n'. Network reads arrive at arbitrary
// chunk boundaries, so LineFramer buffers the fragment after the last
// newline until the rest of that record arrives.
//
// # Key Types
//
//   - LineFramer: stateful chunk-to-record assembler
//
// # Usage
//
//	framer := framing.NewLineFramer()
//	for chunk := range chunks {
//	    for _, record := range framer.Feed(chunk) {
//	        handle(record)
//	    }
//	}
//	dropped := framer.Finish() // unterminated trailing bytes are discarded
package framing
