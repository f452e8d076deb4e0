// QuantNexus API server
// Serves strategy optimization jobs over REST
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Belfering/QuantNexus-sub009/internal/api"
	"github.com/Belfering/QuantNexus-sub009/internal/config"
	"github.com/Belfering/QuantNexus-sub009/internal/jobs"
	"github.com/Belfering/QuantNexus-sub009/internal/marketdata"
)

var configPath = flag.String("config", "", "Path to config file (optional)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewLogger("server")
	logger.Info().
		Str("environment", cfg.App.Environment).
		Str("data_dir", cfg.Data.Dir).
		Msg("Starting QuantNexus server")

	provider := marketdata.NewCSVProvider(cfg.Data.Dir)
	manager := jobs.NewManager(provider, jobs.Config{
		Workers:       cfg.Jobs.Workers,
		MaxBranches:   cfg.Jobs.MaxBranches,
		MaxActiveJobs: cfg.Jobs.MaxActiveJobs,
	})

	server := api.NewServer(api.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Manager: manager,
	})

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop server gracefully")
		os.Exit(1)
	}

	logger.Info().Msg("Server stopped successfully")
}
