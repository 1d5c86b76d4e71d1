package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"logmux/src/internal/config"
	"logmux/src/internal/version"

	"github.com/lixenwraith/log"
)

var logger *log.Logger

func main() {
	// Parse flags first to get quiet mode early
	flagCfg, err := ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Initialize output handler with quiet mode
	InitOutputHandler(flagCfg.Quiet)

	// Handle version flag
	if flagCfg.ShowVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Make an explicit --config visible to the config loader
	if flagCfg.ConfigFile != "" {
		os.Setenv("LOGMUX_CONFIG_FILE", flagCfg.ConfigFile)
	}

	cfg, err := config.LoadWithCLI(os.Args[1:])
	if err != nil {
		if flagCfg.ConfigFile != "" && strings.Contains(err.Error(), "not found") {
			FatalError(2, "Config file not found: %s\n", flagCfg.ConfigFile)
		}
		FatalError(1, "Failed to load config: %v\n", err)
	}

	// Initialize logger with quiet mode awareness
	if err := initializeLogger(cfg, flagCfg); err != nil {
		FatalError(1, "Failed to initialize logger: %v\n", err)
	}
	defer shutdownLogger()

	logger.Info("msg", "logmux starting",
		"version", version.String(),
		"config_file", flagCfg.ConfigFile,
		"log_output", cfg.Logging.Output)

	// Create context for shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Bootstrap the service
	svc, err := bootstrapService(ctx, cfg)
	if err != nil {
		logger.Error("msg", "Failed to bootstrap service", "error", err)
		shutdownLogger()
		os.Exit(1)
	}

	// Start status reporter if enabled
	if enableStatusReporter(cfg) {
		go statusReporter(ctx, svc)
	}

	// Wait for shutdown signal
	sig := <-sigChan

	logger.Info("msg", "Shutdown signal received, starting graceful shutdown...",
		"signal", sig.String())

	// A second signal skips the graceful path
	go func() {
		<-sigChan
		logger.Error("msg", "Second signal received - forcing exit")
		os.Exit(1)
	}()

	// Shutdown service with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		svc.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("msg", "Shutdown complete")
	case <-shutdownCtx.Done():
		logger.Error("msg", "Shutdown timeout exceeded - forcing exit")
		os.Exit(1)
	}
}

func shutdownLogger() {
	if logger != nil {
		if err := logger.Shutdown(2 * time.Second); err != nil {
			// Best effort - can't log the shutdown error
			Error("Logger shutdown error: %v\n", err)
		}
	}
}

func enableStatusReporter(cfg *config.Config) bool {
	// LOGMUX_DISABLE_STATUS_REPORTER also lands here through the config loader
	return !cfg.DisableStatusReporter
}
