package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/streamvault/streamvault/internal/api"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/db"
	"github.com/streamvault/streamvault/internal/extractor"
	"github.com/streamvault/streamvault/internal/history"
	"github.com/streamvault/streamvault/internal/hub"
	"github.com/streamvault/streamvault/internal/jobs"
	"github.com/streamvault/streamvault/internal/metrics"
)

var version string

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("streamvaultd starting", zap.String("version", versionString()))

	for _, dir := range []string{cfg.StateDir, cfg.DownloadsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal("create dir", zap.String("dir", dir), zap.Error(err))
		}
	}

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("db open", zap.String("path", cfg.DBPath), zap.Error(err))
	}
	defer func() { _ = conn.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	live := jobs.NewStore()
	counters := jobs.NewCounters()
	runner := extractor.NewYtdlpRunner(cfg.YtdlpPath, cfg.DownloadsDir, logger.Named("ytdlp"))

	var scheduler *jobs.Scheduler
	broadcast := hub.New(func() any { return scheduler.Snapshot() }, logger.Named("hub"))
	scheduler = jobs.NewScheduler(
		runner,
		live,
		history.NewStore(conn),
		counters,
		broadcast,
		metrics.New(registry),
		logger.Named("scheduler"),
	)

	settings, err := api.NewSettings(cfg.StateDir)
	if err != nil {
		logger.Fatal("settings", zap.Error(err))
	}

	server := &api.Server{
		Core:         scheduler,
		Hub:          broadcast,
		Settings:     settings,
		DownloadsDir: cfg.DownloadsDir,
		Gatherer:     registry,
		Log:          logger.Named("http"),
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func versionString() string {
	if version == "" {
		return "dev"
	}
	return version
}
