package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gateflow/gateflow/flow"
	"github.com/gateflow/gateflow/stream"
)

// runServe starts the WebSocket event relay plus health and metrics
// endpoints, loading flow definitions from a directory at startup.
func runServe(args []string) {
	fs, configPath := newFlagSet("serve")
	definitionsDir := fs.String("definitions", "", "Directory of flow definition YAML files")
	scriptPath := fs.String("script", "", "Scripted completions file (YAML)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := mustLogger(cfg)

	completer, err := loadScript(*scriptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load script: %v\n", err)
		os.Exit(1)
	}

	a, err := buildApp(cfg, logger, completer, defaultTools())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to wire engine: %v\n", err)
		os.Exit(1)
	}
	defer a.shutdown()

	logger.Info("starting gateflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	if *definitionsDir != "" {
		if err := loadDefinitions(a, *definitionsDir); err != nil {
			logger.Fatal("failed to load definitions", zap.Error(err))
		}
	}

	relay := stream.NewRelay(a.engine, logger)

	mux := http.NewServeMux()
	mux.Handle("/stream", relay)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics listening", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("relay listening", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Warn("metrics shutdown failed", zap.Error(err))
	}
	logger.Info("gateflow stopped")
}

// loadDefinitions validates and stores every .yaml/.yml definition in dir.
func loadDefinitions(a *app, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read definitions dir: %w", err)
	}
	ctx := context.Background()
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		def, err := flow.ParseDefinition(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := a.engine.SaveDefinition(ctx, def); err != nil {
			return fmt.Errorf("validate %s: %w", path, err)
		}
		loaded++
	}
	a.logger.Info("definitions loaded", zap.Int("count", loaded), zap.String("dir", dir))
	return nil
}
