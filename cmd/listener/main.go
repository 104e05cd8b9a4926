package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chainsafe/bridge-listener/pkg/chain"
	"github.com/chainsafe/bridge-listener/pkg/config"
	"github.com/chainsafe/bridge-listener/pkg/events"
	"github.com/chainsafe/bridge-listener/pkg/listener"
	"github.com/chainsafe/bridge-listener/pkg/relay"
	"github.com/chainsafe/bridge-listener/pkg/store"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	// Load configuration. A missing mandatory endpoint aborts here,
	// before the poll loop ever starts.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting cross-chain bridge listener")

	// Choose the transaction store. In-memory is the default; postgres
	// backs the registry when configured.
	txStore, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize transaction store", zap.Error(err))
	}
	defer txStore.Close()

	// Chain clients start disconnected if their endpoint is down; the
	// poll loop reconnects lazily, so neither dial is a startup abort.
	sourceClient := chain.NewClient(cfg.Source.Name, cfg.Source.RPCURL, logger)
	defer sourceClient.Close()
	destClient := chain.NewClient(cfg.Destination.Name, cfg.Destination.RPCURL, logger)
	defer destClient.Close()

	decoder, err := events.NewDecoder()
	if err != nil {
		logger.Fatal("Failed to build event decoder", zap.Error(err))
	}

	dispatcher := relay.NewDispatcher(&cfg.Relayer, logger)
	if cfg.Relayer.Endpoint == "" {
		logger.Warn("No relayer endpoint configured, all dispatches will be rejected")
	}

	ctx := context.Background()
	engine := listener.NewEngine(cfg, sourceClient, destClient, decoder, txStore, dispatcher, logger)
	engine.Start(ctx)
	defer engine.Stop()

	// HTTP surface: health, readiness, metrics and a read-only API over
	// the transaction registry.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !engine.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	if cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled")
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/transactions", handleListTransactions(txStore, logger))
		r.Get("/transactions/{id}", handleGetTransaction(txStore, logger))
	})

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("address", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// An interrupt during the loop is a graceful stop, not an error exit.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Listener stopped")
}

func newStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if !cfg.Database.Enabled {
		logger.Info("Using in-memory transaction store, state will be lost on exit")
		return store.NewMemoryStore(), nil
	}

	db, err := store.ConnectDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	pg, err := store.NewPGStore(context.Background(), db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("Using postgres transaction store",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))
	return pg, nil
}
