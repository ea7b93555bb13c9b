// genolens - streaming client for the genomic analysis backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/genolens/internal/api"
	"github.com/jeranaias/genolens/internal/archive"
	"github.com/jeranaias/genolens/internal/clinical"
	"github.com/jeranaias/genolens/internal/config"
	"github.com/jeranaias/genolens/internal/feed"
	"github.com/jeranaias/genolens/internal/logging"
	"github.com/jeranaias/genolens/internal/service"
	"github.com/jeranaias/genolens/internal/store"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "config file path (default ~/.genolens/config.toml)")
		sessionID   = flag.String("session", "", "analysis session ID")
		terms       = flag.String("terms", "", "comma-separated phenotype terms for the compute run")
		message     = flag.String("message", "", "send one chat message and print the transcript")
		showRanked  = flag.Bool("ranked", false, "print the combined ranking after loading")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("genolens %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath, *sessionID, *terms, *message, *showRanked); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configPath, sessionID, terms, message string, showRanked bool) error {
	cfg, cfgFile, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, logLevel := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	defer logger.Sync()

	if sessionID == "" {
		return fmt.Errorf("a session ID is required (-session)")
	}

	// Log verbosity follows config file edits while the process runs.
	if cfgFile != "" {
		watcher, werr := config.NewWatcher(cfgFile, 0, logger, func(next *config.Config) {
			logLevel.SetLevel(logging.ParseLevel(next.Log.Level))
		})
		if werr != nil {
			logger.Warn("config watcher unavailable", zap.Error(werr))
		} else if werr := watcher.Watch(); werr != nil {
			logger.Warn("config watcher unavailable", zap.Error(werr))
		} else {
			defer watcher.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := api.NewClientWithConfig(&api.ClientConfig{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: time.Duration(cfg.Backend.TimeoutSecs) * time.Second,
	})

	var arch *archive.Archive
	if cfg.Cache.ArchiveEnabled {
		path := cfg.Cache.ArchivePath
		if path == "" {
			if path, err = config.DefaultArchivePath(); err != nil {
				return err
			}
		}
		if arch, err = archive.Open(path); err != nil {
			return fmt.Errorf("failed to open snapshot archive: %w", err)
		}
		defer arch.Close()
	}

	priorities := clinical.NewCachedProvider(
		clinical.NewHTTPProvider(cfg.ClinicalBaseURL(), time.Duration(cfg.Clinical.TimeoutSecs)*time.Second, logger),
		time.Duration(cfg.Clinical.CacheTTLMins)*time.Minute,
		0,
	)

	svc := service.New(service.Config{
		Backend:              client,
		Clinical:             priorities,
		Archive:              arch,
		GeneBatchSize:        cfg.Feed.GeneBatchSize,
		PublicationBatchSize: cfg.Feed.PublicationBatchSize,
		PublishLimit:         rate.Limit(cfg.Feed.PublishRatePerSec),
		CacheSize:            cfg.Cache.MaxSessions,
		OnGenes: func(status store.Status, snap feed.Snapshot[feed.GeneAggregate]) {
			logger.Info("gene results updated",
				zap.String("status", string(status)),
				zap.Int("items", len(snap.Items)),
				zap.Int("progress", snap.Progress))
		},
		OnLiterature: func(status store.Status, snap feed.Snapshot[feed.Publication]) {
			logger.Info("literature results updated",
				zap.String("status", string(status)),
				zap.Int("items", len(snap.Items)),
				zap.Int("progress", snap.Progress))
		},
		Logger: logger,
	})
	svc.OnSessionChanged("", sessionID)

	if terms != "" {
		params := map[string]string{"terms": terms}
		logger.Info("running analysis", zap.String("session_id", sessionID), zap.String("terms", terms))
		if err := svc.RunAnalysis(ctx, sessionID, params); err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}
		printSummary(svc)
	}

	if showRanked {
		printRanked(ctx, svc)
	}

	if message != "" {
		if err := svc.SendMessage(ctx, sessionID, message); err != nil {
			return fmt.Errorf("chat turn failed: %w", err)
		}
		printTranscript(svc)
	}

	return nil
}

// loadConfig resolves and loads the configuration, returning the file path it
// came from. An empty path means built-in defaults with no file to watch.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		if defaultPath, err := config.DefaultPath(); err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				path = defaultPath
			}
		}
	}
	if path == "" {
		cfg, err := config.Load()
		return cfg, "", err
	}
	cfg, err := config.LoadFromPath(path)
	return cfg, path, err
}

func printSummary(svc *service.Service) {
	genes := svc.Genes().Live()
	lit := svc.Literature().Live()

	fmt.Printf("Genes: %d items", len(genes.Items))
	if len(genes.SummaryCounters) > 0 {
		var parts []string
		for k, v := range genes.SummaryCounters {
			parts = append(parts, fmt.Sprintf("%s=%d", k, v))
		}
		fmt.Printf(" (%s)", strings.Join(parts, ", "))
	}
	fmt.Println()
	fmt.Printf("Literature: %d items\n", len(lit.Items))
}

func printRanked(ctx context.Context, svc *service.Service) {
	groups := svc.Ranked(ctx)
	if len(groups) == 0 {
		fmt.Println("No ranked results.")
		return
	}

	fmt.Println("\nCombined ranking:")
	for i, g := range groups {
		clin := "-"
		if g.HasClinical {
			clin = fmt.Sprintf("%.2f (%s)", g.ClinicalScore, g.Tier)
		}
		fmt.Printf("%3d. %-12s combined=%.3f literature=%.2f clinical=%s papers=%d\n",
			i+1, g.Key, g.CombinedScore, g.LiteratureScore, clin, len(g.Items))
	}
}

func printTranscript(svc *service.Service) {
	fmt.Println()
	for _, e := range svc.Transcript() {
		switch {
		case e.Payload != nil:
			fmt.Printf("[%s result] %s\n", e.Tool, string(e.Payload))
		default:
			fmt.Printf("%s: %s\n", e.Role, e.Content)
		}
	}
}
