// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete genolens client configuration.
type Config struct {
	// Backend API settings
	Backend BackendConfig `toml:"backend"`

	// Clinical classification engine settings
	Clinical ClinicalConfig `toml:"clinical"`

	// Feed streaming settings
	Feed FeedConfig `toml:"feed"`

	// Session cache and snapshot archive settings
	Cache CacheConfig `toml:"cache"`

	// Logging settings
	Log LogConfig `toml:"log"`
}

// BackendConfig contains analysis backend API settings.
type BackendConfig struct {
	// BaseURL is the backend API base URL
	BaseURL string `toml:"base_url"`
	// TimeoutSecs for non-streaming requests
	TimeoutSecs int `toml:"timeout_secs"`
}

// ClinicalConfig contains classification engine settings.
type ClinicalConfig struct {
	// BaseURL of the classification engine; empty means the backend URL
	BaseURL string `toml:"base_url"`
	// TimeoutSecs for priority fetches
	TimeoutSecs int `toml:"timeout_secs"`
	// CacheTTLMins is how long priority maps are memoized per session
	CacheTTLMins int `toml:"cache_ttl_mins"`
}

// FeedConfig contains bulk feed streaming settings.
type FeedConfig struct {
	// GeneBatchSize is entity appends between progress publishes on the
	// gene feed
	GeneBatchSize int `toml:"gene_batch_size"`
	// PublicationBatchSize is the same for the literature feed
	PublicationBatchSize int `toml:"publication_batch_size"`
	// PublishRatePerSec caps intermediate publish cadence; 0 = unlimited
	PublishRatePerSec float64 `toml:"publish_rate_per_sec"`
}

// CacheConfig contains session cache and archive settings.
type CacheConfig struct {
	// MaxSessions bounds the in-memory snapshot cache per domain
	MaxSessions int `toml:"max_sessions"`
	// ArchiveEnabled persists terminal snapshots to SQLite
	ArchiveEnabled bool `toml:"archive_enabled"`
	// ArchivePath is the snapshot database path (empty = ~/.genolens/snapshots.db)
	ArchivePath string `toml:"archive_path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of: debug, info, warn, error
	Level string `toml:"level"`
	// Format is "console" or "json"
	Format string `toml:"format"`
	// File, when set, duplicates logs to a rotating JSON file
	File string `toml:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:     "http://127.0.0.1:8090",
			TimeoutSecs: 30,
		},
		Clinical: ClinicalConfig{
			TimeoutSecs:  15,
			CacheTTLMins: 10,
		},
		Feed: FeedConfig{
			GeneBatchSize:        50,
			PublicationBatchSize: 10,
			PublishRatePerSec:    0,
		},
		Cache: CacheConfig{
			MaxSessions:    3,
			ArchiveEnabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".genolens", "config.toml"), nil
}

// DefaultArchivePath returns the default snapshot archive location.
func DefaultArchivePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".genolens", "snapshots.db"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from the default location, falling back to
// defaults when no file exists. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if verr := cfg.Validate(); verr != nil {
		return nil, fmt.Errorf("invalid config: %w", verr)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific TOML file with full
// validation. Values absent from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - GENOLENS_BACKEND_URL: overrides backend.base_url
//   - GENOLENS_CLINICAL_URL: overrides clinical.base_url
//   - GENOLENS_ARCHIVE_PATH: overrides cache.archive_path
//   - GENOLENS_NO_ARCHIVE: set to "1" or "true" to disable the archive
//   - GENOLENS_LOG_LEVEL: overrides log.level
//   - GENOLENS_LOG_FORMAT: overrides log.format
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("GENOLENS_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("GENOLENS_CLINICAL_URL"); v != "" {
		c.Clinical.BaseURL = v
	}
	if v := os.Getenv("GENOLENS_ARCHIVE_PATH"); v != "" {
		c.Cache.ArchivePath = v
	}
	if v := os.Getenv("GENOLENS_NO_ARCHIVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Cache.ArchiveEnabled = false
		}
	}
	if v := os.Getenv("GENOLENS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("GENOLENS_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidateErrors collects all validation failures.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns all errors found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Backend.BaseURL == "" {
		errs = append(errs, ValidationError{Field: "backend.base_url", Message: "must not be empty"})
	} else if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{Field: "backend.base_url", Message: fmt.Sprintf("invalid URL '%s'", c.Backend.BaseURL)})
	}

	if c.Clinical.BaseURL != "" {
		if u, err := url.Parse(c.Clinical.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{Field: "clinical.base_url", Message: fmt.Sprintf("invalid URL '%s'", c.Clinical.BaseURL)})
		}
	}

	if c.Backend.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "backend.timeout_secs", Message: "cannot be negative"})
	}
	if c.Feed.GeneBatchSize <= 0 {
		errs = append(errs, ValidationError{Field: "feed.gene_batch_size", Message: "must be positive"})
	}
	if c.Feed.PublicationBatchSize <= 0 {
		errs = append(errs, ValidationError{Field: "feed.publication_batch_size", Message: "must be positive"})
	}
	if c.Feed.PublishRatePerSec < 0 {
		errs = append(errs, ValidationError{Field: "feed.publish_rate_per_sec", Message: "cannot be negative"})
	}
	if c.Cache.MaxSessions < 1 {
		errs = append(errs, ValidationError{Field: "cache.max_sessions", Message: "must be at least 1"})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be console or json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ClinicalBaseURL returns the classification engine URL, defaulting to the
// backend URL when not set separately.
func (c *Config) ClinicalBaseURL() string {
	if c.Clinical.BaseURL != "" {
		return c.Clinical.BaseURL
	}
	return c.Backend.BaseURL
}

// Save writes the configuration as TOML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
