package main

import (
	"fmt"
	"io"
	"os"
)

// OutputHandler manages user-facing console output respecting quiet mode.
// Diagnostic logging goes through the logger; this is for messages the
// operator should see on the terminal.
type OutputHandler struct {
	quiet  bool
	stdout io.Writer
	stderr io.Writer
}

// Global output handler instance
var output *OutputHandler

// InitOutputHandler initializes the global output handler
func InitOutputHandler(quiet bool) {
	output = &OutputHandler{
		quiet:  quiet,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Print writes to stdout unless in quiet mode
func (o *OutputHandler) Print(format string, args ...any) {
	if !o.quiet {
		fmt.Fprintf(o.stdout, format, args...)
	}
}

// Error writes to stderr unless in quiet mode
func (o *OutputHandler) Error(format string, args ...any) {
	if !o.quiet {
		fmt.Fprintf(o.stderr, format, args...)
	}
}

// FatalError writes to stderr and exits
func (o *OutputHandler) FatalError(code int, format string, args ...any) {
	o.Error(format, args...)
	os.Exit(code)
}

// Helper functions for the global output handler
func Print(format string, args ...any) {
	if output != nil {
		output.Print(format, args...)
	}
}

func Error(format string, args ...any) {
	if output != nil {
		output.Error(format, args...)
	}
}

func FatalError(code int, format string, args ...any) {
	if output != nil {
		output.FatalError(code, format, args...)
	} else {
		// Fallback if handler not initialized
		fmt.Fprintf(os.Stderr, format, args...)
		os.Exit(code)
	}
}
