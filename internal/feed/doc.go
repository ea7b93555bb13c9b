// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package feed ingests NDJSON bulk result feeds from the analysis backend.
//
// A bulk feed is a one-shot, server-driven stream delivering a full result
// collection progressively: a metadata preamble with the expected total, a
// run of entity records, and a completion trailer. The Loader frames the
// stream, routes records by their "type" discriminator into an accumulator,
// publishes intermediate snapshot copies at a bounded cadence, and returns
// the terminal collection.
//
// # Key Types
//
//   - Loader: drives one feed to completion
//   - Snapshot: observable copy of the accumulated collection with progress
//   - GeneAggregate, Publication: entity payloads per domain
//   - StreamError: fatal stream failures (transport, protocol, concurrency)
//
// # Usage
//
//	loader := feed.NewLoader[feed.Publication](feed.LoaderConfig{
//	    EntityType: feed.RecordPublication,
//	    BatchSize:  feed.PublicationBatchSize,
//	})
//	snap, err := loader.Run(ctx, body, func(s feed.Snapshot[feed.Publication]) {
//	    observe(s) // intermediate copy; only the terminal one is authoritative
//	})
//
// Malformed lines are logged and skipped; an explicit server error record or
// a transport failure terminates the load with a StreamError.
package feed
