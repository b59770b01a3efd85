package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/flow"
	"github.com/danielolaszy/scanglue/internal/tracker"
	"github.com/danielolaszy/scanglue/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the open tickets of a branch",
	Long: `List the tickets scanglue currently tracks as open for a repository branch
in the selected bug tracker.

Example:
  scanglue status -r owner/repo --branch main --bug-tracker JIRA`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repository, err := requireRepository(cmd)
		if err != nil {
			return err
		}
		branch, _ := cmd.Flags().GetString("branch")
		bug, _ := cmd.Flags().GetString("bug-tracker")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		gh, err := newGitHubClient(cfg.GitHub)
		if err != nil {
			return fmt.Errorf("failed to initialize github client: %w", err)
		}
		registry := newRegistry(*cfg, gh)

		draft, err := manualDraft(cfg.GitHub.Domain, repository, branch, "", bug, 0)
		if err != nil {
			return err
		}

		var fetcher config.RepositoryConfigFetcher
		if gh != nil {
			fetcher = gh
		}
		eff, err := config.NewResolver(*cfg, registry).Resolve(cmd.Context(),
			config.Target{Repository: repository, Ref: branch}, draft.Overrides, fetcher)
		if err != nil {
			return err
		}

		t, err := registry.New(eff)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("bug tracker %s does not keep tickets", eff.BugTracker)
		}

		scope := tracker.Scope{Repository: repository, Branch: branch, Project: flow.TrackerProject(eff)}
		tickets, err := t.ListOpenTickets(cmd.Context(), scope)
		if err != nil {
			return fmt.Errorf("failed to list tickets: %w", err)
		}

		return printTickets(cmd.OutOrStdout(), scope, tickets)
	},
}

func init() {
	statusCmd.Flags().String("branch", "", "Branch whose tickets are listed")
	statusCmd.Flags().String("bug-tracker", "", "Bug tracker override (JIRA, GITHUB, TRELLO or a custom bean name)")
	_ = statusCmd.MarkFlagRequired("branch")
}

func printTickets(w io.Writer, scope tracker.Scope, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		_, err := fmt.Fprintf(w, "No open tickets for %s\n", scope.Key())
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSEVERITY\tMANAGED\tFINGERPRINT\tURL")
	for _, t := range tickets {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", t.Key, t.Severity, t.Managed, t.Fingerprint, t.URL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d open tickets for %s\n", len(tickets), scope.Key())
	return err
}
