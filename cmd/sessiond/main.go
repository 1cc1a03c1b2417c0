// Command sessiond runs the Session Manager + SSE Event Bridge HTTP
// service: session lifecycle and streaming on HTTPAddr, Prometheus
// metrics on MetricsAddr.
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

	"github.com/sentientmobilefurniture/sessiond/internal/agentbridge"
	"github.com/sentientmobilefurniture/sessiond/internal/config"
	"github.com/sentientmobilefurniture/sessiond/internal/httpapi"
	"github.com/sentientmobilefurniture/sessiond/internal/manager"
	"github.com/sentientmobilefurniture/sessiond/internal/metrics"
	"github.com/sentientmobilefurniture/sessiond/internal/store"
	"github.com/sentientmobilefurniture/sessiond/internal/version"
)

func main() {
	envPath := flag.String("env-file", getEnv("ENV_FILE", ""), "path to a .env file to load before reading the environment")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg)
	log.Info("starting sessiond", "version", version.Full())

	dbPath := strings.TrimPrefix(cfg.DocumentStoreEndpoint, "file:")
	docStore, err := store.Open(dbPath)
	if err != nil {
		log.Error("failed to open document store", "error", err, "path", dbPath)
		os.Exit(1)
	}
	defer func() {
		if err := docStore.Close(); err != nil {
			log.Error("error closing document store", "error", err)
		}
	}()

	runtime := agentbridge.NewHTTPRuntime(cfg.AgentRuntimeURL)
	mgr := manager.New(cfg.Manager, docStore, runtime, log)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mgr.Recover(startupCtx); err != nil {
		log.Error("crash recovery pass failed", "error", err)
	}
	cancelStartup()

	apiServer := httpapi.New(mgr, cfg.HTTP, log)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: metrics.Middleware(apiServer.Handler()),
	}
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}
	log.Info("sessiond stopped")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
