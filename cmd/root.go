// Package cmd provides the command-line interface of scanglue.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/logging"
)

var logFile *os.File

var rootCmd = &cobra.Command{
	Use:   "scanglue",
	Short: "scanglue turns scanner findings into issue tracker tickets",
	Long: `scanglue listens for source-control webhooks, submits security scans for the
changed branch and keeps JIRA, GitHub issues or Trello in sync with the findings:
new findings become tickets, changed findings update their ticket and findings
that disappear close it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogFile()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			_ = logFile.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add persistent flags that will be available to all commands
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file (yaml)")
	rootCmd.PersistentFlags().StringP("repository", "r", "", "GitHub repository name (e.g., 'username/repo')")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(githubCmd)
}

// setupLogFile tees logs into LOG_DIR when it is set.
func setupLogFile() error {
	dir := os.Getenv("LOG_DIR")
	if dir == "" {
		return nil
	}
	w, f, err := logging.OpenLogFile(os.Stdout, dir, "scanglue")
	if err != nil {
		return err
	}
	logFile = f
	level := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = string(logging.LevelInfo)
	}
	logging.SetupLoggerWithFormat(w, logging.LogLevel(level), logging.Format(strings.ToLower(os.Getenv("LOG_FORMAT"))))
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func requireRepository(cmd *cobra.Command) (string, error) {
	repository, err := cmd.Flags().GetString("repository")
	if err != nil {
		return "", err
	}
	if repository == "" {
		return "", fmt.Errorf("repository flag is required")
	}
	if _, _, err := splitRepository(repository); err != nil {
		return "", err
	}
	return repository, nil
}
