package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gantryci/gantry/internal/gantry/engine"
	"github.com/gantryci/gantry/internal/gantry/server"
	"github.com/gantryci/gantry/pkg/config"
	"github.com/gantryci/gantry/pkg/logger"
)

func main() {
	cfg, path, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	initializeLogging(cfg)
	logger.SetGlobalMode("server")

	mainLogger := logger.WithField("component", "main")
	mainLogger.Debug("configuration loaded", "path", path)

	if err := run(cfg, mainLogger); err != nil {
		mainLogger.Error("gantryd failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	eng, err := engine.New(cfg, logger.New())
	if err != nil {
		return err
	}
	eng.Start()

	srv := server.New(eng, cfg, logger.New())
	if err := srv.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("gantryd started", "address", cfg.GetServerAddress(), "archive", cfg.Archive.Backend)

	<-sigChan
	log.Info("received shutdown signal, stopping server...")

	// Stop order matters: refuse new requests first, then drain the engine
	// (which exports terminal runs to the archive and closes watch streams).
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		log.Error("error stopping HTTP server", "error", err)
	}
	if err := eng.Shutdown(ctx); err != nil {
		log.Error("error shutting down engine", "error", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func initializeLogging(cfg *config.Config) {
	if level, err := logger.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	} else {
		log.Printf("Invalid log level '%s', using INFO", cfg.Logging.Level)
		logger.SetLevel(logger.INFO)
	}

	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "" {
		logDir := filepath.Dir(cfg.Logging.Output)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Failed to setup log file, using stdout: %v", err)
		}
	}
}
