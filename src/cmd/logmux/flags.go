package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/lixenwraith/log"
)

// Command-line flags
var (
	// General flags
	configFile  = flag.String("config", "", "Config file path")
	quietMode   = flag.Bool("quiet", false, "Suppress all console output")
	showVersion = flag.Bool("version", false, "Show version information")

	// Logging flags
	logOutput  = flag.String("log-output", "", "Log output: file, stdout, stderr, both, none (overrides config)")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	logFile    = flag.String("log-file", "", "Log file name (when using file output)")
	logDir     = flag.String("log-dir", "", "Log directory (when using file output)")
	logConsole = flag.String("log-console", "", "Console target: stdout, stderr, split (overrides config)")
)

// Flags holds parsed command-line values
type Flags struct {
	ConfigFile  string
	Quiet       bool
	ShowVersion bool

	LogOutput  string
	LogLevel   string
	LogFile    string
	LogDir     string
	LogConsole string
}

func init() {
	flag.Usage = customUsage
}

func customUsage() {
	fmt.Fprintf(os.Stderr, "logmux - Structured Log Aggregation and Streaming Service\n\n")
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")

	// General options
	fmt.Fprintf(os.Stderr, "\nGeneral:\n")
	fmt.Fprintf(os.Stderr, "  -config string\n\tConfig file path\n")
	fmt.Fprintf(os.Stderr, "  -quiet\n\tSuppress all console output\n")
	fmt.Fprintf(os.Stderr, "  -version\n\tShow version information\n")

	// Logging options
	fmt.Fprintf(os.Stderr, "\nLogging:\n")
	fmt.Fprintf(os.Stderr, "  -log-output string\n\tLog output: file, stdout, stderr, both, none (overrides config)\n")
	fmt.Fprintf(os.Stderr, "  -log-level string\n\tLog level: debug, info, warn, error (overrides config)\n")
	fmt.Fprintf(os.Stderr, "  -log-file string\n\tLog file name (when using file output)\n")
	fmt.Fprintf(os.Stderr, "  -log-dir string\n\tLog directory (when using file output)\n")
	fmt.Fprintf(os.Stderr, "  -log-console string\n\tConsole target: stdout, stderr, split (overrides config)\n")

	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  # Serve ./logs with default settings (UI on http://127.0.0.1:5050/)\n")
	fmt.Fprintf(os.Stderr, "  %s\n\n", os.Args[0])

	fmt.Fprintf(os.Stderr, "  # Run with custom config and override log level\n")
	fmt.Fprintf(os.Stderr, "  %s --config /etc/logmux.toml --log-level warn\n\n", os.Args[0])

	fmt.Fprintf(os.Stderr, "  # Run with debug logging to both file and console\n")
	fmt.Fprintf(os.Stderr, "  %s --log-output both --log-level debug\n\n", os.Args[0])

	fmt.Fprintf(os.Stderr, "  # Run silently for supervised deployments\n")
	fmt.Fprintf(os.Stderr, "  %s --quiet --log-output file --log-dir /var/log/logmux\n\n", os.Args[0])

	fmt.Fprintf(os.Stderr, "Environment Variables:\n")
	fmt.Fprintf(os.Stderr, "  LOGMUX_CONFIG_FILE               Config file path\n")
	fmt.Fprintf(os.Stderr, "  LOGMUX_CONFIG_DIR                Config directory\n")
	fmt.Fprintf(os.Stderr, "  LOGMUX_SOURCE_DIRECTORY          Directory of source files to serve\n")
	fmt.Fprintf(os.Stderr, "  LOGMUX_DISABLE_STATUS_REPORTER   Disable periodic status reports (set to true)\n")
}

// ParseFlags parses and validates the command line
func ParseFlags() (*Flags, error) {
	flag.Parse()

	fl := &Flags{
		ConfigFile:  *configFile,
		Quiet:       *quietMode,
		ShowVersion: *showVersion,
		LogOutput:   *logOutput,
		LogLevel:    *logLevel,
		LogFile:     *logFile,
		LogDir:      *logDir,
		LogConsole:  *logConsole,
	}

	// Validate log-output flag if provided
	if fl.LogOutput != "" {
		validOutputs := map[string]bool{
			"file": true, "stdout": true, "stderr": true,
			"both": true, "none": true,
		}
		if !validOutputs[fl.LogOutput] {
			return nil, fmt.Errorf("invalid log-output: %s (valid: file, stdout, stderr, both, none)", fl.LogOutput)
		}
	}

	// Validate log-level flag if provided
	if fl.LogLevel != "" {
		if _, err := parseLogLevel(fl.LogLevel); err != nil {
			return nil, fmt.Errorf("invalid log-level: %s (valid: debug, info, warn, error)", fl.LogLevel)
		}
	}

	// Validate log-console flag if provided
	if fl.LogConsole != "" {
		validTargets := map[string]bool{
			"stdout": true, "stderr": true, "split": true,
		}
		if !validTargets[fl.LogConsole] {
			return nil, fmt.Errorf("invalid log-console: %s (valid: stdout, stderr, split)", fl.LogConsole)
		}
	}

	return fl, nil
}

func parseLogLevel(level string) (int, error) {
	switch strings.ToLower(level) {
	case "debug":
		return int(log.LevelDebug), nil
	case "info":
		return int(log.LevelInfo), nil
	case "warn", "warning":
		return int(log.LevelWarn), nil
	case "error":
		return int(log.LevelError), nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
}
