package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mossy-p/dcom/config"
	"github.com/mossy-p/dcom/internal/handlers"
	"github.com/mossy-p/dcom/internal/metrics"
	"github.com/mossy-p/dcom/internal/presence"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "signaling: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.Load()

	flagSet := pflag.NewFlagSet("signaling", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Port, "port", cfg.Port, "port to listen on (overrides PORT)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Presence store: Redis when configured, otherwise in process.
	var store presence.Store
	if cfg.Redis.Enabled() {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		redisStore, err := presence.Connect(connectCtx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("redis connection established", "addr", cfg.Redis.Addr())
		store = redisStore
	} else {
		logger.Info("using in-memory presence store")
		store = presence.NewMemoryStore()
	}
	defer store.Close()

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), metrics.Middleware())
	if cfg.Environment != "production" {
		router.Use(gin.Logger())
	}

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	handlers.NewServer(store, logger).Register(router)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting signaling server", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
