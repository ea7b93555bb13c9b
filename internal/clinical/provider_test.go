// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package clinical

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderFetchesPriorities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/s1/classification", r.URL.Path)
		w.Write([]byte(`{"genes":{"BRCA1":{"score":90,"tier":"TIER_1","rank":1}}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, 0, nil)
	priorities, err := p.Priorities(context.Background(), "s1")
	require.NoError(t, err)

	require.Contains(t, priorities, "BRCA1")
	assert.Equal(t, 90.0, priorities["BRCA1"].Score)
	assert.Equal(t, "TIER_1", priorities["BRCA1"].Tier)
}

func TestHTTPProviderNoClassificationYet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, 0, nil)
	priorities, err := p.Priorities(context.Background(), "s1")
	require.NoError(t, err, "no classification run is not an error")
	assert.Empty(t, priorities)
}

func TestHTTPProviderUnavailable(t *testing.T) {
	p := NewHTTPProvider("http://127.0.0.1:1", time.Second, nil)
	_, err := p.Priorities(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCachedProviderMemoizesPerSession(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"genes":{"TP53":{"score":75,"tier":"TIER_2","rank":2}}}`))
	}))
	defer srv.Close()

	c := NewCachedProvider(NewHTTPProvider(srv.URL, 0, nil), 0, 0)

	for i := 0; i < 3; i++ {
		priorities, err := c.Priorities(context.Background(), "s1")
		require.NoError(t, err)
		assert.Contains(t, priorities, "TP53")
	}
	assert.Equal(t, int32(1), calls.Load())

	// A different session is a separate cache key.
	_, err := c.Priorities(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	c.Invalidate("s1")
	_, err = c.Priorities(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}
