// vigild is the machine health stats daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nvalkyr/vigil/config"
	"github.com/nvalkyr/vigil/internal/collector"
	"github.com/nvalkyr/vigil/internal/errors"
	"github.com/nvalkyr/vigil/internal/history"
	"github.com/nvalkyr/vigil/internal/logging"
	"github.com/nvalkyr/vigil/internal/scheduler"
	"github.com/nvalkyr/vigil/internal/server"
	"github.com/nvalkyr/vigil/internal/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "history directory (overrides config)")
	noPersist := flag.Bool("no-persist", false, "disable on-disk history")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	logJSON := flag.Bool("log-json", false, "JSON log output")
	flag.Parse()

	// Load config; a missing file means defaults, any other failure is fatal.
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			logging.Init("info", false)
			logging.Error("load config", "path", *cfgPath, "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dataDir != "" {
		cfg.HistoryFilesDirectory = *dataDir
	}
	if *noPersist {
		cfg.PersistHistory = false
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logJSON {
		cfg.Log.JSON = true
	}

	if err := cfg.Validate(); err != nil {
		logging.Init("info", false)
		logging.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logging.Init(cfg.Log.Level, cfg.Log.JSON)
	log := logging.Component("vigild")
	log.Info("starting", "version", Version, "config", *cfgPath)

	// History tier (optional)
	var historyLog *history.Log
	if cfg.PersistHistory {
		historyLog, err = history.Open(cfg.HistoryFilesDirectory, history.Options{
			MaxTotalBytes:   cfg.HistoryFilesMaxSizeBytes,
			MaxSegmentBytes: cfg.HistorySegmentMaxSizeBytes,
		})
		if err != nil {
			log.Error("open history", "dir", cfg.HistoryFilesDirectory, "error", err)
			os.Exit(1)
		}
		log.Info("history enabled",
			"dir", cfg.HistoryFilesDirectory,
			"max_bytes", cfg.HistoryFilesMaxSizeBytes)
	} else {
		log.Info("history disabled")
	}

	// Store and sampling loop
	tieredStore := store.New(store.Config{
		RecentHistorySize:  cfg.RecentHistorySize,
		ConsolidationLimit: cfg.ConsolidationLimit,
	}, historyLog)

	sampler := scheduler.New(collector.NewSystemSource(), tieredStore, scheduler.Config{
		UpdateInterval:      cfg.UpdateFrequency(),
		CollectTimeout:      cfg.CollectTimeout,
		ConsolidationMaxAge: cfg.ConsolidationMaxAge,
	})

	srv := server.New(cfg.Listen, tieredStore, sampler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sampler.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
		defer cancel()

		// Stop accepting requests first, then the sampling loop, then flush
		// the final window to disk.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		sampler.Stop()
		if err := tieredStore.Close(); err != nil {
			log.Warn("store close", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("daemon error", "error", err)
		os.Exit(1)
	}
	log.Info("stopped")
}
