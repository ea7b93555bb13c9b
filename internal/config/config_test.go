// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadFromPathMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[backend]
base_url = "http://analysis.local:9000"

[feed]
publication_batch_size = 25
`), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "http://analysis.local:9000", cfg.Backend.BaseURL)
	assert.Equal(t, 25, cfg.Feed.PublicationBatchSize)
	// Untouched fields keep defaults.
	assert.Equal(t, 50, cfg.Feed.GeneBatchSize)
	assert.Equal(t, 3, cfg.Cache.MaxSessions)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Backend.BaseURL = "not a url"
	cfg.Feed.GeneBatchSize = 0
	cfg.Log.Level = "shout"

	err := cfg.Validate()
	require.Error(t, err)

	var errs ValidateErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 3)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GENOLENS_BACKEND_URL", "http://override:1234")
	t.Setenv("GENOLENS_LOG_LEVEL", "debug")
	t.Setenv("GENOLENS_NO_ARCHIVE", "true")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "http://override:1234", cfg.Backend.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Cache.ArchiveEnabled)
}

func TestClinicalBaseURLFallsBackToBackend(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Backend.BaseURL, cfg.ClinicalBaseURL())

	cfg.Clinical.BaseURL = "http://classify.local:7000"
	assert.Equal(t, "http://classify.local:7000", cfg.ClinicalBaseURL())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Backend.BaseURL = "http://saved:8080"
	require.NoError(t, Save(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "http://saved:8080", loaded.Backend.BaseURL)
}

func TestLoadFromPathRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[cache]
max_sessions = 0
`), 0600))

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}
