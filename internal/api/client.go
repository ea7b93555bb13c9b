// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for communicating with the analysis
// backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/jeranaias/genolens/internal/feed"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the backend client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches client errors by type, so a wrapped error still compares equal
// to the exported sentinels under errors.Is.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	return ok && e.Type == t.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeUnreachable
	ErrTypeTimeout
	ErrTypeSessionNotFound
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrUnreachable     = &ClientError{Type: ErrTypeUnreachable, Message: "analysis backend is not reachable"}
	ErrTimeout         = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrSessionNotFound = &ClientError{Type: ErrTypeSessionNotFound, Message: "session not found"}
)

// IsSessionNotFound checks if an error is a session not found error.
func IsSessionNotFound(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeSessionNotFound
	}
	return errors.Is(err, ErrSessionNotFound)
}

// IsUnreachable checks if an error indicates the backend is unreachable.
func IsUnreachable(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeUnreachable
	}
	return errors.Is(err, ErrUnreachable)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeTimeout
	}
	return errors.Is(err, ErrTimeout)
}

// transportError classifies a failed round trip. The underlying error is
// always carried as the cause, so callers cancelling a request can still
// match context.Canceled through the wrapper with errors.Is.
func transportError(action string, err error) *ClientError {
	switch {
	case errors.Is(err, context.Canceled):
		return &ClientError{Type: ErrTypeTimeout, Message: action + " canceled", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ClientError{Type: ErrTypeTimeout, Message: action + " timed out", Cause: err}
	default:
		return &ClientError{Type: ErrTypeUnreachable, Message: "analysis backend is not reachable", Cause: err}
	}
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the backend client.
type ClientConfig struct {
	// BaseURL is the backend API base URL (default: http://127.0.0.1:8090)
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// UserAgent sent with every request.
	UserAgent string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:   "http://127.0.0.1:8090",
		Timeout:   30 * time.Second,
		UserAgent: "genolens",
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the analysis backend API: compute
// triggers, result feed streams, and the conversational chat stream.
//
// The Client is thread-safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new backend client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new backend client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8090"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "genolens"
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckReachable verifies that the backend is reachable.
func (c *Client) CheckReachable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/v1/health", nil)
	if err != nil {
		return &ClientError{Type: ErrTypeUnreachable, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError("health check", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeUnreachable,
			Message: "unexpected status from backend: " + resp.Status,
		}
	}

	return nil
}

// =============================================================================
// COMPUTE OPERATIONS
// =============================================================================

// ComputeResult reports the outcome of a server-side compute run.
type ComputeResult struct {
	ItemsProduced int `json:"items_produced"`
}

type computeRequest struct {
	SessionID  string            `json:"session_id"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// RunCompute triggers the backend analysis pipeline for one result domain.
// It blocks until the server has finished producing results; the caller then
// streams them with OpenFeed.
func (c *Client) RunCompute(ctx context.Context, sessionID string, domain feed.Domain, params map[string]string) (*ComputeResult, error) {
	body, err := json.Marshal(computeRequest{SessionID: sessionID, Parameters: params})
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	url := c.config.BaseURL + "/api/v1/compute/" + string(domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnreachable, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError("compute request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSessionNotFound
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: apiErr.Error}
		}
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "compute request failed: " + resp.Status,
		}
	}

	var result ComputeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return &result, nil
}

// apiError is the backend's error envelope.
type apiError struct {
	Error string `json:"error"`
}

// =============================================================================
// FEED STREAMS
// =============================================================================

// OpenFeed opens the newline-delimited result feed for a session and domain.
// The returned ReadCloser yields the decompressed byte stream; the caller owns
// closing it.
//
// Feeds can be large, so the request advertises gzip and deflate and the
// response body is unwrapped here based on Content-Encoding.
func (c *Client) OpenFeed(ctx context.Context, sessionID string, domain feed.Domain) (io.ReadCloser, error) {
	url := c.config.BaseURL + "/api/v1/sessions/" + sessionID + "/feed/" + string(domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnreachable, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Accept", "application/x-ndjson")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("User-Agent", c.config.UserAgent)

	// Streaming requests bypass the client-wide timeout; lifetime is governed
	// by ctx instead.
	streamClient := &http.Client{Transport: c.httpClient.Transport}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, transportError("feed request", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		drainAndClose(resp.Body)
		return nil, ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		drainAndClose(resp.Body)
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "feed request failed: " + resp.Status,
		}
	}

	return decodeBody(resp)
}

// =============================================================================
// CHAT STREAM
// =============================================================================

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// OpenChatStream sends a chat turn and opens the event stream carrying the
// assistant's response. The stream is SSE-framed; the caller feeds it to a
// chat.Reader.
func (c *Client) OpenChatStream(ctx context.Context, sessionID, message string) (io.ReadCloser, error) {
	body, err := json.Marshal(chatRequest{SessionID: sessionID, Message: message})
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	url := c.config.BaseURL + "/api/v1/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnreachable, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", c.config.UserAgent)

	streamClient := &http.Client{Transport: c.httpClient.Transport}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, transportError("chat request", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		drainAndClose(resp.Body)
		return nil, ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			drainAndClose(resp.Body)
			return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: apiErr.Error}
		}
		drainAndClose(resp.Body)
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "chat request failed: " + resp.Status,
		}
	}

	return resp.Body, nil
}

// =============================================================================
// RESPONSE DECODING
// =============================================================================

// decodedBody pairs a decompressing reader with the underlying HTTP body so
// Close releases both.
type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *decodedBody) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// decodeBody unwraps the response body according to Content-Encoding.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			drainAndClose(resp.Body)
			return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to open gzip stream", Cause: err}
		}
		return &decodedBody{Reader: gz, closers: []io.Closer{gz, resp.Body}}, nil
	case "deflate":
		fl := flate.NewReader(resp.Body)
		return &decodedBody{Reader: fl, closers: []io.Closer{fl, resp.Body}}, nil
	default:
		return resp.Body, nil
	}
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, r)
	r.Close()
}
