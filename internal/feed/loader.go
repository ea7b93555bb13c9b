// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/genolens/internal/framing"
)

// =============================================================================
// LOADER CONFIGURATION
// =============================================================================

// readChunkSize is the transport read buffer size. Chunk boundaries are
// arbitrary with respect to record boundaries; the framer reassembles.
const readChunkSize = 32 * 1024

// maxUnknownSamples bounds how many unrecognized records are retained for
// diagnostics; the rest are only counted.
const maxUnknownSamples = 5

// LoaderConfig holds configuration for one bulk feed loader.
type LoaderConfig struct {
	// EntityType is the record discriminator for this feed's entities
	// (e.g. "gene", "publication").
	EntityType string

	// BatchSize is how many entity appends between intermediate snapshot
	// publications. Defaults to PublicationBatchSize.
	BatchSize int

	// PublishLimit caps the intermediate publish cadence. Zero means
	// unlimited. The terminal publish always bypasses the limiter.
	PublishLimit rate.Limit

	// Logger for skipped lines and diagnostics. Defaults to zap.NewNop().
	Logger *zap.Logger
}

// =============================================================================
// LOAD STATISTICS
// =============================================================================

// LoadStats holds diagnostics collected during one load.
type LoadStats struct {
	TotalExpected      int
	TotalStreamed      int // from the complete record, diagnostics only
	ItemCount          int
	ParseFailures      int
	UnknownRecords     int
	UnknownSamples     []UnknownRecord // first few unrecognized records, verbatim
	DroppedTailBytes   int
	FirstRecordLatency time.Duration
	Duration           time.Duration
}

// =============================================================================
// BULK FEED LOADER
// =============================================================================

// Publisher receives intermediate and terminal snapshot copies during a load.
type Publisher[T any] func(snap Snapshot[T])

// Loader drives one NDJSON bulk feed to completion: frames records, routes
// them by type into an accumulator, publishes progress at a bounded cadence
// and returns the terminal collection.
//
// A Loader is single-use per Run and is driven by exactly one sequential read
// loop; all parsing and state mutation between chunks is synchronous, which
// is what keeps progress monotonic without locks.
type Loader[T any] struct {
	entityType string
	batchSize  int
	limiter    *rate.Limiter
	logger     *zap.Logger

	stats LoadStats
}

// NewLoader creates a loader for one feed.
func NewLoader[T any](cfg LoaderConfig) *Loader[T] {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = PublicationBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.PublishLimit > 0 {
		limiter = rate.NewLimiter(cfg.PublishLimit, 1)
	}

	return &Loader[T]{
		entityType: cfg.EntityType,
		batchSize:  batch,
		limiter:    limiter,
		logger:     logger,
	}
}

// Run consumes the feed until exhaustion or a fatal error. publish receives
// snapshot copies; it may be nil. The returned snapshot is always exactly the
// accumulator at stream end; callers must not rely on the last intermediate
// publication being complete, only the return value and the terminal publish
// are authoritative.
//
// Network errors are not retried; the caller decides whether to re-invoke.
func (l *Loader[T]) Run(ctx context.Context, r io.Reader, publish Publisher[T]) (*Snapshot[T], error) {
	start := time.Now()
	framer := framing.NewLineFramer()

	snap := Snapshot[T]{SummaryCounters: make(map[string]int)}
	appended := 0

	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-ctx.Done():
			l.stats.Duration = time.Since(start)
			return nil, &StreamError{Kind: KindTransport, Message: "feed load canceled", Cause: ctx.Err()}
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				if ferr := l.dispatch(line, &snap, &appended, start, publish); ferr != nil {
					l.stats.Duration = time.Since(start)
					return nil, ferr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			l.stats.Duration = time.Since(start)
			return nil, &StreamError{Kind: KindTransport, Message: "feed read failed", Cause: err}
		}
	}

	if dropped := framer.Finish(); dropped > 0 {
		// A feed ending mid-record is an aborted record, not a short one.
		l.stats.DroppedTailBytes = dropped
		l.logger.Warn("feed ended with unterminated record, tail discarded",
			zap.String("entity_type", l.entityType),
			zap.Int("dropped_bytes", dropped))
	}

	snap.Progress = 100
	l.stats.ItemCount = len(snap.Items)
	l.stats.Duration = time.Since(start)

	final := snap.Clone()
	if publish != nil {
		publish(final)
	}
	return &final, nil
}

// Stats returns diagnostics from the most recent Run.
func (l *Loader[T]) Stats() LoadStats {
	return l.stats
}

// =============================================================================
// RECORD DISPATCH
// =============================================================================

// dispatch routes one framed record by its type discriminator. Malformed
// lines are logged and skipped; only explicit server error records abort.
func (l *Loader[T]) dispatch(line []byte, snap *Snapshot[T], appended *int, start time.Time, publish Publisher[T]) error {
	if len(line) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		l.stats.ParseFailures++
		l.logger.Warn("skipping malformed feed line",
			zap.String("entity_type", l.entityType),
			zap.Error(err))
		return nil
	}

	if l.stats.FirstRecordLatency == 0 {
		l.stats.FirstRecordLatency = time.Since(start)
	}

	switch env.Type {
	case RecordMetadata:
		var meta Metadata
		if err := json.Unmarshal(line, &meta); err != nil {
			l.stats.ParseFailures++
			l.logger.Warn("skipping malformed metadata record", zap.Error(err))
			return nil
		}
		l.stats.TotalExpected = meta.TotalExpected
		for k, v := range meta.SummaryCounters {
			snap.SummaryCounters[k] = v
		}

	case l.entityType:
		var item T
		if err := json.Unmarshal(line, &item); err != nil {
			l.stats.ParseFailures++
			l.logger.Warn("skipping malformed entity record",
				zap.String("entity_type", l.entityType),
				zap.Error(err))
			return nil
		}
		snap.Items = append(snap.Items, item)
		*appended++
		if *appended%l.batchSize == 0 {
			l.publishIntermediate(snap, publish)
		}

	case RecordComplete:
		var done Completion
		if err := json.Unmarshal(line, &done); err == nil {
			l.stats.TotalStreamed = done.TotalStreamed
		}

	case RecordError:
		var rec errorRecord
		_ = json.Unmarshal(line, &rec)
		if rec.Message == "" {
			rec.Message = "server reported an unspecified stream error"
		}
		return &StreamError{Kind: KindProtocol, Message: rec.Message}

	default:
		l.stats.UnknownRecords++
		if len(l.stats.UnknownSamples) < maxUnknownSamples {
			l.stats.UnknownSamples = append(l.stats.UnknownSamples, UnknownRecord{
				Type: env.Type,
				Raw:  json.RawMessage(line),
			})
		}
		l.logger.Debug("skipping unknown record type",
			zap.String("type", env.Type),
			zap.String("entity_type", l.entityType))
	}

	return nil
}

// publishIntermediate recomputes progress and publishes a snapshot copy,
// subject to the cadence limiter.
func (l *Loader[T]) publishIntermediate(snap *Snapshot[T], publish Publisher[T]) {
	if l.stats.TotalExpected > 0 {
		pct := int(math.Round(float64(len(snap.Items)) / float64(l.stats.TotalExpected) * 100))
		if pct > 100 {
			pct = 100
		}
		// Monotonic within one run even if the declared total was wrong.
		if pct > snap.Progress {
			snap.Progress = pct
		}
	}

	if publish == nil {
		return
	}
	if l.limiter != nil && !l.limiter.Allow() {
		return
	}
	publish(snap.Clone())
}
