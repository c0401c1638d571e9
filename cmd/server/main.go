// Package main is the entry point for the mapshade server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/mapshade/server/internal/api"
	"github.com/mapshade/server/internal/cache"
	"github.com/mapshade/server/internal/config"
	"github.com/mapshade/server/internal/geoip"
	"github.com/mapshade/server/internal/logging"
	"github.com/mapshade/server/internal/metrics"
	"github.com/mapshade/server/internal/reportstore"
	"github.com/mapshade/server/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger := logging.NewFromEnv(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	fatal := func(msg string, err error) {
		logger.Error(ctx, msg, logging.Err(err))
		os.Exit(1)
	}

	logger.Info(ctx, "starting mapshade server",
		logging.Int("port", cfg.Server.Port),
		logging.Any("maps", cfg.MapNames()),
	)

	mc, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		fatal("failed to register metrics", err)
	}

	// Initialize cache manager (shared across all maps)
	cacheManager, err := cache.NewManager(cache.Config{
		RenderCacheSizeMB: cfg.Cache.RenderSizeMB,
		RenderTTL:         time.Duration(cfg.Cache.RenderTTLMinutes) * time.Minute,
		TemplateCacheSize: cfg.Cache.TemplateCacheSize,
	})
	if err != nil {
		fatal("failed to initialize cache", err)
	}
	defer cacheManager.Close()

	reports, err := reportstore.NewStore(cfg.Store.SQLitePath)
	if err != nil {
		fatal("failed to open report store", err)
	}
	defer reports.Close()
	logger.Info(ctx, "report store ready", logging.String("path", cfg.Store.SQLitePath))

	resolver, closeResolver, err := openResolver(cfg.GeoIP)
	if err != nil {
		fatal("failed to open geoip database", err)
	}
	if resolver != nil {
		defer closeResolver()
		logger.Info(ctx, "geoip lookups enabled")
	}

	svc := service.NewMapService(service.MapServiceConfig{
		Maps:    cfg.Maps,
		Render:  cfg.Render,
		Cache:   cacheManager,
		Reports: reports,
		GeoIP:   resolver,
		Metrics: mc,
		Logger:  logger,
	})

	// Load every template up front so broken maps show in the log.
	for _, name := range svc.MapNames() {
		info, err := svc.Info(name)
		if err != nil {
			logger.Warn(ctx, "map not loaded", logging.String("map", name), logging.Err(err))
			continue
		}
		logger.Info(ctx, "map ready",
			logging.String("map", name),
			logging.Int("areas", info.Areas),
			logging.Int("width", info.Width),
			logging.Int("height", info.Height),
		)
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Service:     svc,
		Metrics:     mc,
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
		Title:       cfg.Server.Title,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "server listening", logging.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("server failed", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server forced to shutdown", logging.Err(err))
	}

	logger.Info(ctx, "server stopped")
}

// openResolver opens the configured GeoIP database. It returns a nil
// resolver when none is configured.
func openResolver(cfg config.GeoIPConfig) (geoip.Resolver, func() error, error) {
	switch {
	case cfg.MMDBPath != "":
		mm, err := geoip.OpenMaxMind(cfg.MMDBPath)
		if err != nil {
			return nil, nil, err
		}
		return mm, mm.Close, nil
	case cfg.SQLitePath != "":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		res, err := geoip.NewSQL(db, geoip.SQLOptions{
			BlocksTable:    cfg.BlocksTable,
			LocationsTable: cfg.LocationsTable,
		})
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return res, db.Close, nil
	default:
		return nil, nil, nil
	}
}
