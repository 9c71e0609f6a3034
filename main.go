package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/nirel-io/roomcast/internal/monitoring"
)

func main() {
	bootLogger := log.New(os.Stdout, "[roomcast] ", log.LstdFlags)

	cfg, err := LoadConfig(nil)
	if err != nil {
		bootLogger.Fatalf("failed to load configuration: %v", err)
	}

	if cfg.MaxConnections == 0 {
		limit, err := getMemoryLimit()
		if err != nil {
			bootLogger.Printf("cgroup memory limit detection failed, using default capacity: %v", err)
		}
		cfg.MaxConnections = calculateMaxConnections(limit)
		bootLogger.Printf("auto-detected max connections: %d (cgroup memory limit: %d bytes)", cfg.MaxConnections, limit)
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	cfg.Print()
	cfg.LogConfig(logger)

	server := NewServer(*cfg, logger)
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutdown signal received")
	if err := server.Shutdown(30 * time.Second); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}
