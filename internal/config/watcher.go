// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// DefaultDebounce coalesces editor write bursts into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk and hands
// each valid new Config to the callback. Invalid edits are logged and skipped;
// the previous configuration stays in effect.
type Watcher struct {
	path     string
	onChange func(*Config)
	debounce time.Duration
	logger   *zap.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	pending time.Time
}

// NewWatcher creates a watcher for one config file. onChange receives every
// successfully loaded configuration.
func NewWatcher(path string, debounce time.Duration, logger *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		onChange: onChange,
		debounce: debounce,
		logger:   logger,
		watcher:  fw,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Watch starts watching. The parent directory is watched rather than the file
// itself, because editors commonly replace the file via rename.
func (w *Watcher) Watch() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.processEvents()
	go w.processPending()
	return nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

// processEvents marks the config dirty on relevant filesystem events.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// processPending fires the reload once the debounce window has passed.
func (w *Watcher) processPending() {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			dirty := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if dirty {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if !dirty {
				continue
			}

			cfg, err := LoadFromPath(w.path)
			if err != nil {
				w.logger.Warn("ignoring invalid config change", zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.logger.Info("configuration reloaded", zap.String("path", w.path))
			if w.onChange != nil {
				w.onChange(cfg)
			}
		}
	}
}
