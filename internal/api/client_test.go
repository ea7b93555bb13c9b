// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/genolens/internal/feed"
)

func newTestClient(url string) *Client {
	return NewClientWithConfig(&ClientConfig{BaseURL: url})
}

// =============================================================================
// COMPUTE
// =============================================================================

func TestRunCompute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/compute/literature", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"session_id":"s1","parameters":{"terms":"BRCA1"}}`, string(body))
		w.Write([]byte(`{"items_produced":42}`))
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).RunCompute(context.Background(), "s1", feed.DomainLiterature, map[string]string{"terms": "BRCA1"})
	require.NoError(t, err)
	assert.Equal(t, 42, result.ItemsProduced)
}

func TestRunComputeUnknownSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).RunCompute(context.Background(), "nope", feed.DomainGenes, nil)
	require.Error(t, err)
	assert.True(t, IsSessionNotFound(err))
}

func TestRunComputeServerErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"pipeline crashed"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).RunCompute(context.Background(), "s1", feed.DomainGenes, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline crashed")
}

func TestUnreachableBackend(t *testing.T) {
	// Nothing listens on this port.
	_, err := newTestClient("http://127.0.0.1:1").RunCompute(context.Background(), "s1", feed.DomainGenes, nil)
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
}

// =============================================================================
// FEED STREAMS
// =============================================================================

func TestOpenFeedPlain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/s1/feed/genes", r.URL.Path)
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Write([]byte("{\"type\":\"metadata\"}\n"))
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL).OpenFeed(context.Background(), "s1", feed.DomainGenes)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":\"metadata\"}\n", string(data))
}

func TestOpenFeedGzip(t *testing.T) {
	payload := "{\"type\":\"metadata\"}\n{\"type\":\"complete\"}\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(payload))
		gz.Close()
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL).OpenFeed(context.Background(), "s1", feed.DomainLiterature)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestOpenFeedCanceledKeepsContextIdentity(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(srv.URL).OpenFeed(ctx, "s1", feed.DomainGenes)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "cancellation must survive the client wrapper: %v", err)
	assert.True(t, IsTimeout(err))
}

func TestOpenChatStreamDeadlineKeepsContextIdentity(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).OpenChatStream(ctx, "s1", "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, IsTimeout(err))
}

func TestOpenFeedUnknownSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).OpenFeed(context.Background(), "gone", feed.DomainGenes)
	require.Error(t, err)
	assert.True(t, IsSessionNotFound(err))
}

// =============================================================================
// CHAT STREAM
// =============================================================================

func TestOpenChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"session_id":"s1","message":"hi"}`, string(body))
		w.Write([]byte("data: {\"type\":\"token\",\"text\":\"yo\"}\n\ndata: [DONE]\n"))
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL).OpenChatStream(context.Background(), "s1", "hi")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DONE]")
}

func TestCheckReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.NoError(t, newTestClient(srv.URL).CheckReachable(context.Background()))
}
