// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for genolens.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation. An optional file watcher live-reloads valid
// edits while the client runs.
//
// File location: ~/.genolens/config.toml, falling back to built-in defaults.
package config
