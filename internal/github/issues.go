package github

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v41/github"

	"github.com/danielolaszy/scanglue/internal/logging"
)

// ListIssues retrieves all issues of a repository in the given state ("open",
// "closed" or "all") carrying every label in labels. Pull requests, which the
// Issues API also returns, are filtered out.
func (c *Client) ListIssues(ctx context.Context, repository, state string, labels []string) ([]*github.Issue, error) {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}

	opts := &github.IssueListByRepoOptions{
		State:  state,
		Labels: labels,
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	var result []*github.Issue
	for {
		issues, resp, err := c.client.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			logging.Error("failed to fetch github issues",
				"repository", repository,
				"state", state,
				"error", err)
			return nil, fmt.Errorf("failed to fetch GitHub issues: %w", err)
		}

		for _, issue := range issues {
			// Skip pull requests (they're also returned by the Issues API)
			if issue.PullRequestLinks != nil {
				continue
			}
			result = append(result, issue)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return result, nil
}

// CreateIssue opens an issue.
func (c *Client) CreateIssue(ctx context.Context, repository string, req *github.IssueRequest) (*github.Issue, error) {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}

	issue, resp, err := c.client.Issues.Create(ctx, owner, repo, req)
	if err != nil {
		logging.Error("failed to create github issue",
			"repository", repository,
			"status_code", statusCode(resp),
			"error", err)
		return nil, fmt.Errorf("failed to create issue in %s: %w", repository, err)
	}

	logging.Debug("created github issue", "repository", repository, "issue_number", issue.GetNumber())
	return issue, nil
}

// EditIssue changes an existing issue.
func (c *Client) EditIssue(ctx context.Context, repository string, number int, req *github.IssueRequest) (*github.Issue, error) {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}

	issue, resp, err := c.client.Issues.Edit(ctx, owner, repo, number, req)
	if err != nil {
		logging.Error("failed to edit github issue",
			"repository", repository,
			"issue_number", number,
			"status_code", statusCode(resp),
			"error", err)
		return nil, fmt.Errorf("failed to edit issue %s#%d: %w", repository, number, err)
	}
	return issue, nil
}

// AddLabels adds one or more labels to a GitHub issue. If the labels don't exist
// in the repository, GitHub will automatically create them.
func (c *Client) AddLabels(ctx context.Context, repository string, issueNumber int, labels ...string) error {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return err
	}

	logging.Debug("adding labels", "labels", labels, "issue_number", issueNumber)

	if _, _, err := c.client.Issues.AddLabelsToIssue(ctx, owner, repo, issueNumber, labels); err != nil {
		logging.Error("error adding labels to issue", "repository", repository, "issue_number", issueNumber, "error", err)
		return fmt.Errorf("failed to add labels to issue %s#%d: %w", repo, issueNumber, err)
	}

	logging.Debug("successfully added labels", "labels", labels, "repository", repository, "issue_number", issueNumber)
	return nil
}

// RemoveLabel removes a label from an issue. A label the issue does not
// carry is not an error.
func (c *Client) RemoveLabel(ctx context.Context, repository string, issueNumber int, label string) error {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return err
	}

	resp, err := c.client.Issues.RemoveLabelForIssue(ctx, owner, repo, issueNumber, label)
	if err != nil {
		if statusCode(resp) == http.StatusNotFound {
			return nil
		}
		logging.Error("error removing label from issue",
			"repository", repository,
			"issue_number", issueNumber,
			"label", label,
			"error", err)
		return fmt.Errorf("failed to remove label %q from issue %s#%d: %w", label, repo, issueNumber, err)
	}
	return nil
}

// CreateComment adds a comment to an issue or pull request.
func (c *Client) CreateComment(ctx context.Context, repository string, number int, body string) error {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return err
	}

	if _, resp, err := c.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.String(body)}); err != nil {
		logging.Error("failed to comment on github issue",
			"repository", repository,
			"issue_number", number,
			"status_code", statusCode(resp),
			"error", err)
		return fmt.Errorf("failed to comment on %s#%d: %w", repository, number, err)
	}
	return nil
}

// CreateStatus sets a commit status on sha. state is one of "error",
// "failure", "pending" or "success".
func (c *Client) CreateStatus(ctx context.Context, repository, sha, state, description, statusContext string) error {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return err
	}

	status := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(description),
		Context:     github.String(statusContext),
	}
	if _, resp, err := c.client.Repositories.CreateStatus(ctx, owner, repo, sha, status); err != nil {
		logging.Error("failed to create commit status",
			"repository", repository,
			"sha", sha,
			"status_code", statusCode(resp),
			"error", err)
		return fmt.Errorf("failed to set status on %s@%s: %w", repository, sha, err)
	}
	return nil
}

// EnsureLabel creates a label unless it already exists.
func (c *Client) EnsureLabel(ctx context.Context, repository, name, color, description string) (bool, error) {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return false, err
	}

	label := &github.Label{
		Name:        github.String(name),
		Color:       github.String(color),
		Description: github.String(description),
	}
	_, resp, err := c.client.Issues.CreateLabel(ctx, owner, repo, label)
	if err != nil {
		if statusCode(resp) == http.StatusUnprocessableEntity {
			logging.Debug("label already exists", "repository", repository, "label", name)
			return false, nil
		}
		return false, fmt.Errorf("failed to create label %q in %s: %w", name, repository, err)
	}

	logging.Info("created label", "repository", repository, "label", name)
	return true, nil
}
