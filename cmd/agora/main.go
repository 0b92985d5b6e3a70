package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agora-net/agora/pkg/accounts"
	"github.com/agora-net/agora/pkg/api"
	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/bootstrap"
	"github.com/agora-net/agora/pkg/communities"
	"github.com/agora-net/agora/pkg/config"
	"github.com/agora-net/agora/pkg/content"
	"github.com/agora-net/agora/pkg/events"
	"github.com/agora-net/agora/pkg/observability"
	"github.com/agora-net/agora/pkg/storage"
	"github.com/agora-net/agora/pkg/storage/postgres"
)

func main() {
	// Flags override the environment for local development
	port := flag.String("port", "", "Port to listen on (overrides AGORA_PORT)")
	storageType := flag.String("storage", "", "Storage backend: memory or postgres (overrides AGORA_STORAGE_TYPE)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		// Logger not constructed yet
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *storageType != "" {
		cfg.Storage.Type = *storageType
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	store, shared, err := buildStore(cfg.Storage, log)
	if err != nil {
		log.WithError(err).Error("storage initialization failed")
		os.Exit(1)
	}
	defer store.Close()

	dir, err := accounts.NewDirectory(store, cfg.Storage.ClosureLRU, shared, log, metrics)
	if err != nil {
		log.WithError(err).Error("directory initialization failed")
		os.Exit(1)
	}

	registry := authz.NewRegistry()
	satisfier := authz.NewSatisfier(dir, metrics)
	dispatcher := events.NewDispatcher(5*time.Second, log)
	lifecycle := authz.NewLifecycle(registry, satisfier, storage.NewDB(store), dispatcher, log, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot, err := bootstrap.Run(ctx, store, registry, lifecycle, dir, log)
	if err != nil {
		log.WithError(err).Error("bootstrap failed")
		os.Exit(1)
	}

	accountSvc := accounts.NewService(store, lifecycle, satisfier, dir, boot.RootID)
	communitySvc := communities.NewService(store, lifecycle, satisfier, dir, boot.RootID)
	contentSvc := content.NewService(store, lifecycle, satisfier)

	server := api.NewServer(accountSvc, communitySvc, contentSvc, registry, store, log, metrics)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).
			WithField("storage", cfg.Storage.Type).
			Info("server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown incomplete")
		}
		dispatcher.Drain()
	}
}

// buildStore selects the storage backend and, for postgres, the optional
// shared closure cache.
func buildStore(cfg storage.Config, log *observability.Logger) (storage.Store, accounts.ClosureCache, error) {
	switch cfg.Type {
	case "postgres":
		store, err := postgres.New(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		var shared accounts.ClosureCache
		if cfg.CacheEnabled && cfg.RedisURL != "" {
			cache, err := postgres.NewClosureCache(cfg)
			if err != nil {
				// The store works without the shared cache; run degraded.
				log.WithError(err).Warn("shared closure cache unavailable")
			} else {
				shared = cache
			}
		}
		return store, shared, nil
	default:
		return storage.NewMemory(), nil, nil
	}
}
