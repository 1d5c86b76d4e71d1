package main

import (
	"context"
	"fmt"

	"logmux/src/internal/config"
	"logmux/src/internal/service"
	"logmux/src/internal/version"

	"github.com/lixenwraith/log"
)

// bootstrapService creates the log streaming service and starts it
func bootstrapService(ctx context.Context, cfg *config.Config) (*service.Service, error) {
	svc, err := service.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	if err := svc.Start(); err != nil {
		return nil, fmt.Errorf("failed to start service: %w", err)
	}

	displayEndpoints(cfg)

	if cfg.HTTP.Enabled {
		Print("logmux %s - web UI at %s://%s:%d/\n",
			version.Short(), httpScheme(&cfg.HTTP), displayHost(cfg.HTTP.Host), cfg.HTTP.Port)
	}

	logger.Info("msg", "logmux started",
		"version", version.Short(),
		"directory", cfg.Source.Directory,
		"pattern", cfg.Source.Pattern)

	return svc, nil
}

// initializeLogger sets up the logger from configuration and flag overrides
func initializeLogger(cfg *config.Config, fl *Flags) error {
	logger = log.NewLogger()

	if fl.Quiet {
		// In quiet mode, disable ALL logging output
		return logger.ApplyConfigString(
			"disable_file=true",
			"enable_stdout=false",
			"level=255")
	}

	if cfg.Logging == nil {
		cfg.Logging = config.DefaultLogConfig()
	}
	applyLogFlags(cfg.Logging, fl)

	// Determine log level
	levelValue, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	configArgs := []string{fmt.Sprintf("level=%d", levelValue)}

	// Configure based on output mode
	switch cfg.Logging.Output {
	case "none":
		configArgs = append(configArgs, "disable_file=true", "enable_stdout=false")

	case "stdout":
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=true",
			"stdout_target=stdout")

	case "stderr":
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=true",
			"stdout_target=stderr")

	case "file":
		configArgs = append(configArgs, "enable_stdout=false")
		configureFileLogging(&configArgs, cfg)

	case "both":
		configArgs = append(configArgs, "enable_stdout=true")
		configureFileLogging(&configArgs, cfg)
		configureConsoleTarget(&configArgs, cfg)

	default:
		return fmt.Errorf("invalid log output mode: %s", cfg.Logging.Output)
	}

	// Apply format if specified
	if cfg.Logging.Console != nil && cfg.Logging.Console.Format != "" {
		configArgs = append(configArgs, fmt.Sprintf("format=%s", cfg.Logging.Console.Format))
	}

	return logger.ApplyConfigString(configArgs...)
}

// applyLogFlags overlays command-line logging flags onto the loaded config
func applyLogFlags(cfg *config.LogConfig, fl *Flags) {
	if fl.LogOutput != "" {
		cfg.Output = fl.LogOutput
	}
	if fl.LogLevel != "" {
		cfg.Level = fl.LogLevel
	}
	if fl.LogDir != "" || fl.LogFile != "" {
		if cfg.File == nil {
			cfg.File = config.DefaultLogConfig().File
		}
		if fl.LogDir != "" {
			cfg.File.Directory = fl.LogDir
		}
		if fl.LogFile != "" {
			cfg.File.Name = fl.LogFile
		}
	}
	if fl.LogConsole != "" {
		if cfg.Console == nil {
			cfg.Console = config.DefaultLogConfig().Console
		}
		cfg.Console.Target = fl.LogConsole
	}
}

// configureFileLogging sets up file-based logging parameters
func configureFileLogging(configArgs *[]string, cfg *config.Config) {
	if cfg.Logging.File != nil {
		*configArgs = append(*configArgs,
			fmt.Sprintf("directory=%s", cfg.Logging.File.Directory),
			fmt.Sprintf("name=%s", cfg.Logging.File.Name),
			fmt.Sprintf("max_size_mb=%d", cfg.Logging.File.MaxSizeMB),
			fmt.Sprintf("max_total_size_mb=%d", cfg.Logging.File.MaxTotalSizeMB))

		if cfg.Logging.File.RetentionHours > 0 {
			*configArgs = append(*configArgs,
				fmt.Sprintf("retention_period_hrs=%.1f", cfg.Logging.File.RetentionHours))
		}
	}
}

// configureConsoleTarget sets up console output parameters
func configureConsoleTarget(configArgs *[]string, cfg *config.Config) {
	target := "stderr"

	if cfg.Logging.Console != nil && cfg.Logging.Console.Target != "" {
		target = cfg.Logging.Console.Target
	}

	// Split mode routes info/debug to stdout, warn/error to stderr
	if target == "split" {
		*configArgs = append(*configArgs, "stdout_split_mode=true")
		*configArgs = append(*configArgs, "stdout_target=split")
	} else {
		*configArgs = append(*configArgs, fmt.Sprintf("stdout_target=%s", target))
	}
}
