package cmd

import (
	"fmt"
	"strings"
	"sync"

	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/flow"
	"github.com/danielolaszy/scanglue/internal/github"
	"github.com/danielolaszy/scanglue/internal/jira"
	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/internal/notify"
	"github.com/danielolaszy/scanglue/internal/scanner"
	"github.com/danielolaszy/scanglue/internal/tracker"
	"github.com/danielolaszy/scanglue/internal/trello"
)

// Tracker bean names.
const (
	beanJira   = "Jira"
	beanGitHub = "GitHub"
	beanTrello = "Trello"
)

// newRegistry registers the built-in trackers. API clients are created on
// first use and shared by every run.
func newRegistry(cfg config.Config, gh *github.Client) *tracker.Registry {
	registry := tracker.NewRegistry()

	jiraClient := sync.OnceValues(func() (*jira.Client, error) {
		return jira.NewClient(cfg.Jira)
	})
	registry.Register(beanJira, func(eff config.EffectiveConfig) (tracker.Tracker, error) {
		client, err := jiraClient()
		if err != nil {
			return nil, err
		}
		return jira.NewTracker(client, eff.JiraProject, eff.JiraIssueType, eff.Assignee)
	})

	registry.Register(beanGitHub, func(eff config.EffectiveConfig) (tracker.Tracker, error) {
		if gh == nil {
			return nil, fmt.Errorf("github token is not configured")
		}
		return github.NewIssueTracker(gh, eff.Assignee), nil
	})

	trelloClient := sync.OnceValues(func() (*trello.Client, error) {
		if err := config.ValidateTrelloConfig(&cfg); err != nil {
			return nil, err
		}
		return trello.NewClient(cfg.Trello)
	})
	registry.Register(beanTrello, func(config.EffectiveConfig) (tracker.Tracker, error) {
		client, err := trelloClient()
		if err != nil {
			return nil, err
		}
		return trello.NewTracker(client, cfg.Trello.BoardID, cfg.Trello.ListName)
	})

	return registry
}

// newGitHubClient returns nil without an error when no token is configured;
// GitHub features are then disabled.
func newGitHubClient(cfg config.GitHubConfig) (*github.Client, error) {
	if cfg.Token == "" {
		logging.Warn("github token not set, config-as-code, pull request feedback and the GitHub tracker are disabled")
		return nil, nil
	}
	return github.NewClient(cfg)
}

// newDispatcher builds the notification channels enabled by cfg.
func newDispatcher(cfg config.Config, gh *github.Client) *notify.Dispatcher {
	var channels []notify.Channel
	if gh != nil && (cfg.GitHub.CommentSummary || cfg.GitHub.CommitStatus) {
		channels = append(channels, notify.NewPullRequestChannel(gh, cfg.GitHub.CommentSummary, cfg.GitHub.CommitStatus))
	}
	if email := notify.NewEmailChannel(cfg.Mail); email != nil {
		channels = append(channels, email)
	}
	d := notify.NewDispatcher(channels...)
	logging.Debug("notification channels", "channels", d.Channels())
	return d
}

// newService wires the pipeline.
func newService(cfg config.Config, gh *github.Client, registry *tracker.Registry) (*flow.Service, error) {
	scanClient, err := scanner.NewHTTPClient(cfg.Scanner)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scanner client: %w", err)
	}

	var fetcher config.RepositoryConfigFetcher
	if gh != nil {
		fetcher = gh
	}

	return flow.NewService(flow.Options{
		Resolver:     config.NewResolver(cfg, registry),
		Fetcher:      fetcher,
		Orchestrator: scanner.NewOrchestrator(scanClient, cfg.Scanner.PollInterval, cfg.Flow.DuplicatePolicy),
		Registry:     registry,
		Reconciler: tracker.NewReconciler(tracker.ReconcilerOptions{
			Concurrency:   cfg.Flow.TrackerConcurrency,
			RatePerSecond: cfg.Flow.TrackerRatePerSecond,
			ManagedOnly:   cfg.Flow.AutoCloseManagedOnly,
		}),
		Dispatcher:  newDispatcher(cfg, gh),
		ScanTimeout: cfg.Scanner.ScanTimeout,
	}), nil
}

// cloneURL derives the https clone URL of repository on domain.
func cloneURL(domain, repository string) string {
	if domain == "" {
		domain = "github.com"
	}
	return fmt.Sprintf("https://%s/%s.git", domain, repository)
}

// splitRepository splits "owner/repo".
func splitRepository(repository string) (string, string, error) {
	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository format: %s (expected 'owner/repo')", repository)
	}
	return owner, name, nil
}
