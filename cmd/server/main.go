package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"threat-relay/internal/admin"
	"threat-relay/internal/catalog"
	"threat-relay/internal/config"
	"threat-relay/internal/dedup"
	"threat-relay/internal/feed"
	"threat-relay/internal/intel"
	"threat-relay/internal/route"
	"threat-relay/internal/scan"
	"threat-relay/internal/state"
	"threat-relay/internal/watch"
	"threat-relay/internal/webhook"
)

func main() {
	settingsPath := flag.String("config", "", "Path to settings file (optional, INTEL_* env vars also apply)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*settingsPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup Logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	// Init Store
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize store", "type", cfg.Store.Type, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Init Components
	tenants := config.NewTenantFile(cfg.Paths.Tenants)
	sources := catalog.NewFile(cfg.Paths.Sources)

	normalizerOpts := []feed.NormalizerOption{feed.WithNormalizerLogger(logger)}
	for host, decode := range intel.Decoders() {
		normalizerOpts = append(normalizerOpts, feed.WithDecoder(host, decode))
	}

	var providers []intel.Provider
	if cfg.Intel.NVDEnabled {
		providers = append(providers, intel.NewNVD(
			intel.WithAPIKey(cfg.Intel.NVDAPIKey),
			intel.WithLogger(logger),
		))
	}

	scanner := scan.NewScanner(scan.Config{
		Interval:           cfg.Scan.Interval(),
		CompactionInterval: cfg.Scan.CompactionInterval(),
		BypassCap:          cfg.Scan.BypassCap,
		Policy: dedup.Policy{
			ColdStartCap: cfg.Scan.ColdStartCap,
			AgeWindow:    cfg.Scan.AgeWindow(),
		},
	}, scan.Deps{
		Store:   store,
		Tenants: tenants,
		Catalog: sources,
		Fetcher: feed.NewFetcher(
			feed.WithConcurrency(cfg.Scan.Concurrency),
			feed.WithTimeout(cfg.Scan.RequestTimeout()),
			feed.WithPoliteness(cfg.Scan.Politeness()),
			feed.WithFetcherLogger(logger),
		),
		Normalizer: feed.NewNormalizer(normalizerOpts...),
		Router:     route.NewRouter(logger),
		Sender:     webhook.NewClient(),
		Watcher: watch.NewWatcher(
			watch.WithConcurrency(cfg.Scan.Concurrency),
			watch.WithTimeout(cfg.Scan.RequestTimeout()),
			watch.WithLogger(logger),
		),
		Providers: providers,
		Logger:    logger,
	})

	// Admin Server
	srv := &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           admin.NewServer(scanner, tenants, admin.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting admin server", "addr", cfg.Admin.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server failed", "error", err)
		}
	}()

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting threat relay",
		"interval", cfg.Scan.Interval(),
		"store", cfg.Store.Type,
		"sources", cfg.Paths.Sources,
		"tenants", cfg.Paths.Tenants,
		"nvd", cfg.Intel.NVDEnabled)

	scanner.Run(ctx)
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server shutdown failed", "error", err)
	}
	logger.Info("Scanner stopped")
}

func openStore(cfg config.Settings, logger *slog.Logger) (state.Store, func(), error) {
	switch cfg.Store.Type {
	case "valkey":
		logger.Info("Using Valkey Store", "address", cfg.Store.Address)
		s, err := state.NewValkeyStore(cfg.Store.Address, cfg.Store.Password, cfg.Store.Key, cfg.Scan.HistorySize, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close Valkey client", "error", err)
			}
		}, nil
	case "memory":
		logger.Info("Using Memory Store")
		return state.NewMemoryStore(cfg.Scan.HistorySize), func() {}, nil
	default:
		logger.Info("Using File Store", "dir", cfg.Store.Dir)
		return state.NewFileStore(cfg.Store.Dir, cfg.Scan.HistorySize, logger), func() {}, nil
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
