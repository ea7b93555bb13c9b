// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store orchestrates per-domain result state across analysis
// sessions.
//
// Each result domain (phenotype-matched genes, literature) gets one Store. A
// store owns the domain's live snapshot, a bounded session cache for fast
// tab switching, and the single-flight load lifecycle driven by the feed
// loader. Session transitions save the outgoing session's results and serve
// the incoming one from cache, from the snapshot archive, or from a fresh
// compute-and-load.
//
// Stores for different domains never share mutable state; an error in one
// domain's stream cannot affect another domain's results.
package store
