// Package main is the entry point for the scanglue CLI application.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/danielolaszy/scanglue/cmd"
	"github.com/danielolaszy/scanglue/internal/logging"
)

// version is set at build time.
var version = "dev"

// main is the entry point of the application.
// It executes the root command and handles any errors that occur.
func main() {
	// A .env file is optional; variables already set in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn("failed to load .env file", "error", err)
	}

	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if logLevel == "" {
		logLevel = "info"
	}
	logging.SetupLoggerWithFormat(os.Stdout, logging.LogLevel(logLevel), logging.Format(strings.ToLower(os.Getenv("LOG_FORMAT"))))

	logging.Debug("starting scanglue", "version", version, "log_level", logLevel)

	if err := cmd.Execute(); err != nil {
		logging.Error("command execution failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
