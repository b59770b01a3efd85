package notify

import (
	"context"
	"errors"
	"fmt"
)

// StatusContext is the commit status context set by scanglue.
const StatusContext = "scanglue"

// PullRequestAPI is the part of the GitHub client used for pull request
// feedback.
type PullRequestAPI interface {
	CreateComment(ctx context.Context, repository string, number int, body string) error
	CreateStatus(ctx context.Context, repository, sha, state, description, statusContext string) error
}

// PullRequestChannel comments a summary on the pull request and sets a
// commit status on the scanned revision.
type PullRequestChannel struct {
	api     PullRequestAPI
	comment bool
	status  bool
}

// NewPullRequestChannel creates a PullRequestChannel. comment and status
// toggle the two kinds of feedback.
func NewPullRequestChannel(api PullRequestAPI, comment, status bool) *PullRequestChannel {
	return &PullRequestChannel{api: api, comment: comment, status: status}
}

// Name implements Channel.
func (c *PullRequestChannel) Name() string {
	return "pull_request"
}

// Send implements Channel. Push events get a commit status only.
func (c *PullRequestChannel) Send(ctx context.Context, o Outcome) error {
	var errs []error

	if c.status && o.Request.Ref != "" {
		description := Headline(o)
		if len(description) > 140 {
			description = description[:140]
		}
		if err := c.api.CreateStatus(ctx, o.Request.Repository, o.Request.Ref, Status(o), description, StatusContext); err != nil {
			errs = append(errs, fmt.Errorf("commit status: %w", err))
		}
	}

	if c.comment && o.Request.PullRequest > 0 {
		if err := c.api.CreateComment(ctx, o.Request.Repository, o.Request.PullRequest, Summarize(o)); err != nil {
			errs = append(errs, fmt.Errorf("pull request comment: %w", err))
		}
	}

	return errors.Join(errs...)
}
