// Package jira reconciles findings as JIRA issues.
package jira

import (
	"context"
	"fmt"
	"strings"

	jira "github.com/andygrunwald/go-jira"

	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/logging"
)

// searchPageSize is the page size of JQL searches.
const searchPageSize = 100

// Client handles interactions with the JIRA API
type Client struct {
	client         *jira.Client
	doneTransition string
}

// NewClient creates a new JIRA client authenticated with basic auth (user
// name and API token).
func NewClient(cfg config.JiraConfig) (*Client, error) {
	if err := config.ValidateJiraConfig(&config.Config{Jira: cfg}); err != nil {
		return nil, err
	}

	// Create JIRA authentication transport
	tp := jira.BasicAuthTransport{
		Username: cfg.Username,
		Password: cfg.Token,
	}

	client, err := jira.NewClient(tp.Client(), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("error creating JIRA client: %w", err)
	}

	logging.Info("jira configuration",
		"url", cfg.URL,
		"username", cfg.Username,
		"token", logging.MaskSensitive(cfg.Token))

	return &Client{client: client, doneTransition: cfg.DoneTransition}, nil
}

// BrowseURL returns the UI link of an issue key.
func (c *Client) BrowseURL(key string) string {
	base := c.client.GetBaseURL()
	return strings.TrimSuffix(base.String(), "/") + "/browse/" + key
}

// Search runs a JQL query and returns every matching issue.
func (c *Client) Search(ctx context.Context, jql string, fields ...string) ([]jira.Issue, error) {
	if c.client == nil {
		return nil, fmt.Errorf("JIRA client not initialized")
	}

	var all []jira.Issue
	opts := &jira.SearchOptions{MaxResults: searchPageSize, Fields: fields}
	for {
		issues, resp, err := c.client.Issue.SearchWithContext(ctx, jql, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to search JIRA issues: %w (status: %d)", err, statusCode(resp))
		}
		all = append(all, issues...)

		if len(issues) == 0 || resp == nil || opts.StartAt+len(issues) >= resp.Total {
			break
		}
		opts.StartAt += len(issues)
	}
	return all, nil
}

// CreateIssue creates an issue and returns its id and key.
func (c *Client) CreateIssue(ctx context.Context, fields *jira.IssueFields) (*jira.Issue, error) {
	if c.client == nil {
		return nil, fmt.Errorf("JIRA client not initialized")
	}

	issue, resp, err := c.client.Issue.CreateWithContext(ctx, &jira.Issue{Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("failed to create JIRA ticket: %w (status: %d)", err, statusCode(resp))
	}
	logging.Debug("created jira issue", "key", issue.Key)
	return issue, nil
}

// UpdateIssue updates the fields of the issue with key.
func (c *Client) UpdateIssue(ctx context.Context, key string, fields *jira.IssueFields) error {
	if c.client == nil {
		return fmt.Errorf("JIRA client not initialized")
	}

	if _, resp, err := c.client.Issue.UpdateWithContext(ctx, &jira.Issue{Key: key, Fields: fields}); err != nil {
		return fmt.Errorf("failed to update JIRA ticket %s: %w (status: %d)", key, err, statusCode(resp))
	}
	return nil
}

// Resolve moves the issue to its done state. The configured transition name
// is preferred; otherwise any transition into the "done" status category is
// used.
func (c *Client) Resolve(ctx context.Context, issueID string) error {
	if c.client == nil {
		return fmt.Errorf("JIRA client not initialized")
	}

	transitions, resp, err := c.client.Issue.GetTransitionsWithContext(ctx, issueID)
	if err != nil {
		return fmt.Errorf("failed to get transitions for %s: %w (status: %d)", issueID, err, statusCode(resp))
	}

	var target *jira.Transition
	for i := range transitions {
		tr := &transitions[i]
		if c.doneTransition != "" && strings.EqualFold(tr.Name, c.doneTransition) {
			target = tr
			break
		}
		if target == nil && strings.EqualFold(tr.To.StatusCategory.Key, "done") {
			target = tr
		}
	}
	if target == nil {
		return fmt.Errorf("no done transition available for %s", issueID)
	}

	if resp, err := c.client.Issue.DoTransitionWithContext(ctx, issueID, target.ID); err != nil {
		return fmt.Errorf("failed to transition %s to %q: %w (status: %d)", issueID, target.Name, err, statusCode(resp))
	}

	logging.Debug("resolved jira issue", "issue", issueID, "transition", target.Name)
	return nil
}

func statusCode(resp *jira.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
