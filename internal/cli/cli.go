// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/specialistvlad/gridflow/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("gridflow", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
Gridflow - runs workflow grids of nodes on a concurrent scheduler.

Usage:
  gridflow [options] [GRID_PATH]

Arguments:
  GRID_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	var gridPath, configPath string
	flagSet.StringVar(&gridPath, "grid", "", "Path to the grid file or directory.")
	flagSet.StringVar(&gridPath, "g", "", "Path to the grid file or directory (shorthand).")
	flagSet.StringVar(&configPath, "config", "", "Path to the engine config file.")
	flagSet.StringVar(&configPath, "c", "", "Path to the engine config file (shorthand).")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the health, stop and metrics server. 0 uses the config file.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 0, "Number of concurrent workers. 0 uses the config file.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if gridPath == "" && flagSet.NArg() > 0 {
		gridPath = flagSet.Arg(0)
	}
	if gridPath == "" {
		slog.Debug("No grid path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	if *healthPortFlag < 0 || *healthPortFlag > 65535 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("invalid healthcheck-port: %d", *healthPortFlag)}
	}

	config, err := app.NewConfig(app.Config{
		GridPath:        gridPath,
		ConfigPath:      configPath,
		HealthcheckPort: *healthPortFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		WorkerCount:     *workersFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
