// ClientPix Server
//
// Features:
// - Content-addressed photo/video storage with deduplication
// - WebP thumbnail and web variant derivation
// - Albums, share links, chunked uploads
// - JWT auth with TOTP 2FA
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clientpix/clientpix/internal/api"
	"github.com/clientpix/clientpix/internal/auth"
	"github.com/clientpix/clientpix/internal/catalog"
	"github.com/clientpix/clientpix/internal/config"
	"github.com/clientpix/clientpix/internal/logging"
	"github.com/clientpix/clientpix/internal/metrics"
	"github.com/clientpix/clientpix/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("ClientPix server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	cat, err := catalog.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer cat.Close()

	// Run migrations
	migrationsDir := findMigrationsDir()
	if migrationsDir != "" {
		logging.Info("running migrations...", zap.String("dir", migrationsDir))
		if err := cat.Migrate(migrationsDir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	// Initialize the content store
	store, err := storage.New(cfg.UploadDir, storage.Options{
		WebMaxDimension: cfg.WebMaxDimension,
		DeriveWorkers:   cfg.DeriveWorkers,
	})
	if err != nil {
		logging.Fatal("content store init failed", zap.Error(err))
	}
	sessions := storage.NewSessionStore(cfg.UploadDir)
	logging.Info("content store initialized", zap.String("root", cfg.UploadDir))

	// Start the cleanup sweeper: an immediate sweep catches leftovers
	// from a previous crashed run, then it repeats on the interval.
	sweeper := storage.NewSweeper(cfg.UploadDir, "")
	sweeper.Start(ctx, cfg.SweepInterval)
	defer sweeper.Stop()

	// Initialize auth
	authHandler := auth.New(cfg.JWTSecret)

	// Create API server
	srv := api.NewServer(cat, store, sessions, sweeper, authHandler, cfg)

	// Prime catalog gauges
	if count, err := cat.CountFileHashes(ctx); err == nil {
		metrics.SetTrackedFileHashes(count)
	}
	if count, err := cat.CountActiveShareLinks(ctx); err == nil {
		metrics.SetShareLinksActive(count)
	}

	// Prune idle rate limiter buckets in the background
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.PruneLimiter()
			}
		}
	}()

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
