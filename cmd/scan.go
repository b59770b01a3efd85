package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/danielolaszy/scanglue/internal/admission"
	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/internal/notify"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// EventManual marks runs started from the command line.
const EventManual = "manual"

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a branch and reconcile its findings now",
	Long: `Run the whole pipeline for one branch without a webhook: resolve the
configuration (including config-as-code), submit the scan, wait for the report
and reconcile the findings with the selected bug tracker.

Example:
  scanglue scan -r owner/repo --branch main --bug-tracker JIRA
  scanglue scan -r owner/repo --branch develop --bug-tracker GitHub --pr 42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repository, err := requireRepository(cmd)
		if err != nil {
			return err
		}
		branch, _ := cmd.Flags().GetString("branch")
		ref, _ := cmd.Flags().GetString("ref")
		bug, _ := cmd.Flags().GetString("bug-tracker")
		pr, _ := cmd.Flags().GetInt("pr")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		draft, err := manualDraft(cfg.GitHub.Domain, repository, branch, ref, bug, pr)
		if err != nil {
			return err
		}

		gh, err := newGitHubClient(cfg.GitHub)
		if err != nil {
			return fmt.Errorf("failed to initialize github client: %w", err)
		}
		registry := newRegistry(*cfg, gh)
		service, err := newService(*cfg, gh, registry)
		if err != nil {
			return err
		}

		logging.Info("starting scan",
			"correlation_id", draft.CorrelationID,
			"repository", repository,
			"branch", branch)

		outcome, err := service.Run(cmd.Context(), draft)
		fmt.Fprint(cmd.OutOrStdout(), notify.Summarize(outcome))
		if err != nil {
			return fmt.Errorf("scan of %s@%s failed: %w", repository, branch, err)
		}
		if n := len(outcome.Result.Failures); n > 0 {
			return fmt.Errorf("%d ticket operations failed", n)
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().String("branch", "", "Branch to scan")
	scanCmd.Flags().String("ref", "", "Commit SHA to scan and report the commit status on")
	scanCmd.Flags().String("bug-tracker", "", "Bug tracker override (JIRA, GITHUB, TRELLO, NONE or a custom bean name)")
	scanCmd.Flags().Int("pr", 0, "Pull request number to comment the summary on")
	_ = scanCmd.MarkFlagRequired("branch")
}

// manualDraft builds the draft of a command line run.
func manualDraft(domain, repository, branch, ref, bug string, pr int) (admission.Draft, error) {
	owner, name, err := splitRepository(repository)
	if err != nil {
		return admission.Draft{}, err
	}
	if branch == "" {
		return admission.Draft{}, fmt.Errorf("branch flag is required")
	}

	var overrides config.Overrides
	if bug != "" {
		bt, err := models.ParseBugTracker(bug)
		if err != nil {
			return admission.Draft{}, err
		}
		overrides.BugTracker = &config.BugTrackerOverride{Type: string(bt.Type), CustomBean: bt.CustomBean}
	}
	// The allow-list guards webhooks; an explicit command line run scans
	// the named branch.
	overrides.Branches = []string{branch}

	return admission.Draft{
		CorrelationID: uuid.NewString(),
		Event:         EventManual,
		Action:        EventManual,
		Repository:    repository,
		Namespace:     owner,
		RepoName:      name,
		CloneURL:      cloneURL(domain, repository),
		Branch:        branch,
		Ref:           ref,
		PullRequest:   pr,
		Overrides:     overrides,
	}, nil
}
