package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/actionsdash/actionsdash/pkg/api"
	"github.com/actionsdash/actionsdash/pkg/cachestore"
	"github.com/actionsdash/actionsdash/pkg/config"
	"github.com/actionsdash/actionsdash/pkg/runstore"
	"github.com/actionsdash/actionsdash/pkg/session"
	"github.com/actionsdash/actionsdash/pkg/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local dashboard API server",
	Long: `Start the actionsdash daemon: it connects to the telemetry backend
on demand, caches collected runs, and serves dashboard views to the
local UI.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	cache := cachestore.NewStore(log, &cfg.Cache.Database)
	if err := cache.Start(ctx); err != nil {
		return fmt.Errorf("starting cache store: %w", err)
	}

	runs := runstore.NewStore(log)
	dialer := stream.NewDialer(log, cfg.Backend.StreamURL)
	sessions := session.NewManager(log, dialer, newFetcher(cfg), runs, cache)

	srv := api.NewServer(log, cfg, sessions, runs, cache)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down")
	cancel()

	if err := srv.Stop(); err != nil {
		log.WithError(err).Warn("API server stop error")
	}

	if err := sessions.Stop(); err != nil {
		log.WithError(err).Warn("Session manager stop error")
	}

	if err := cache.Stop(); err != nil {
		return fmt.Errorf("stopping cache store: %w", err)
	}

	return nil
}

// newFetcher builds the HTTP fallback fetcher, or nil when no backend
// API URL is configured.
func newFetcher(cfg *config.Config) stream.Fetcher {
	if cfg.Backend.APIURL == "" {
		return nil
	}

	return stream.NewFetcher(
		log,
		cfg.Backend.APIURL,
		cfg.RequestTimeoutDuration(),
		cfg.Backend.RequestsPerMinute,
		cfg.Backend.FetchConcurrency,
	)
}

// loadConfig loads and validates the config file given by --config.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}
