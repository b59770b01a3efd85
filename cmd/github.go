package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/scanglue/internal/github"
	"github.com/danielolaszy/scanglue/internal/logging"
)

var githubCmd = &cobra.Command{
	Use:   "github",
	Short: "GitHub repository helpers",
}

var githubInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize GitHub repository",
	Long: `Initialize a GitHub repository with the labels used by the GitHub issue tracker.

This command creates the required labels in your GitHub repository:
- 'scanglue' - Marks issues managed by scanglue
- 'scanglue: resolved' - Set when a finding disappears and its issue is closed
- 'severity: critical' ... 'severity: info' - One label per finding severity

Existing labels are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repository, err := requireRepository(cmd)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		githubClient, err := github.NewClient(cfg.GitHub)
		if err != nil {
			return fmt.Errorf("failed to initialize GitHub client: %w", err)
		}

		login, err := githubClient.Ping(cmd.Context())
		if err != nil {
			return err
		}
		logging.Debug("authenticated with github", "user", login)

		created, err := githubClient.InitializeLabels(cmd.Context(), repository)
		if err != nil {
			return fmt.Errorf("failed to initialize labels: %w", err)
		}

		logging.Info("github repository initialized",
			"repository", repository,
			"created", created)
		fmt.Fprintf(cmd.OutOrStdout(), "Created %d labels in %s\n", len(created), repository)
		return nil
	},
}

func init() {
	githubCmd.AddCommand(githubInitCmd)
}
