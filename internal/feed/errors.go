// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package feed

import "errors"

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes stream failures for handling.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota

	// KindTransport is a network or I/O failure before or during streaming.
	KindTransport

	// KindProtocol is an explicit error record from the server, fatal to
	// this stream only.
	KindProtocol

	// KindConcurrency is a second load requested while one is in flight.
	// Rejected, never queued.
	KindConcurrency
)

// StreamError represents a fatal error for one stream. Malformed individual
// lines are not errors of this type; they are logged and skipped at the
// framing boundary.
type StreamError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// Sentinel errors for easy checking.
var (
	ErrLoadInFlight = &StreamError{Kind: KindConcurrency, Message: "a load is already in flight for this domain"}
	ErrStreamFailed = &StreamError{Kind: KindTransport, Message: "stream read failed"}
)

// IsTransport checks if an error is a transport-level stream failure.
func IsTransport(err error) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind == KindTransport
	}
	return false
}

// IsProtocol checks if an error is a server-reported stream error.
func IsProtocol(err error) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind == KindProtocol
	}
	return false
}

// IsConcurrency checks if an error is a rejected concurrent load.
func IsConcurrency(err error) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind == KindConcurrency
	}
	return errors.Is(err, ErrLoadInFlight)
}
