package github

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/go-github/v41/github"

	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/internal/tracker"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// Labels applied to issues managed by scanglue.
const (
	ManagedLabel  = "scanglue"
	ResolvedLabel = "scanglue: resolved"
)

// SeverityLabel returns the label carrying a finding's severity.
func SeverityLabel(s models.Severity) string {
	return "severity: " + string(s)
}

// IssueTracker reconciles findings as issues of the scanned repository.
type IssueTracker struct {
	client   *Client
	assignee string
}

// NewIssueTracker creates an IssueTracker. assignee may be empty.
func NewIssueTracker(client *Client, assignee string) *IssueTracker {
	return &IssueTracker{client: client, assignee: assignee}
}

var _ tracker.Tracker = (*IssueTracker)(nil)

// ListOpenTickets implements tracker.Tracker.
func (t *IssueTracker) ListOpenTickets(ctx context.Context, scope tracker.Scope) ([]models.Ticket, error) {
	issues, err := t.client.ListIssues(ctx, scope.Repository, "open", []string{scope.Label()})
	if err != nil {
		return nil, err
	}

	var tickets []models.Ticket
	for _, issue := range issues {
		body := issue.GetBody()
		if !tracker.InScope(body, scope) {
			continue
		}
		ticket, ok := tracker.TicketFromBody(body)
		if !ok {
			continue
		}
		tickets = append(tickets, fillTicket(ticket, issue))
	}

	logging.Debug("listed open github tickets",
		"repository", scope.Repository,
		"branch", scope.Branch,
		"count", len(tickets))
	return tickets, nil
}

// Create implements tracker.Tracker.
func (t *IssueTracker) Create(ctx context.Context, scope tracker.Scope, f models.Finding) (models.Ticket, error) {
	labels := []string{ManagedLabel, scope.Label(), SeverityLabel(f.Severity)}
	req := &github.IssueRequest{
		Title:  github.String(tracker.Title(f)),
		Body:   github.String(tracker.RenderBody(scope, f)),
		Labels: &labels,
	}
	if t.assignee != "" {
		req.Assignees = &[]string{t.assignee}
	}

	issue, err := t.client.CreateIssue(ctx, scope.Repository, req)
	if err != nil {
		return models.Ticket{}, err
	}
	return ticketFromIssue(issue)
}

// Update implements tracker.Tracker.
func (t *IssueTracker) Update(ctx context.Context, scope tracker.Scope, ticket models.Ticket, f models.Finding) (models.Ticket, error) {
	number, err := strconv.Atoi(ticket.ID)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("invalid github issue id %q: %w", ticket.ID, err)
	}

	// Labels are changed one by one; an IssueRequest label list would
	// replace the labels people added to the issue.
	issue, err := t.client.EditIssue(ctx, scope.Repository, number, &github.IssueRequest{
		Title: github.String(tracker.Title(f)),
		Body:  github.String(tracker.RenderUpdateBody(scope, ticket, f)),
	})
	if err != nil {
		return models.Ticket{}, err
	}

	if ticket.Severity != f.Severity {
		if ticket.Severity != "" {
			if err := t.client.RemoveLabel(ctx, scope.Repository, number, SeverityLabel(ticket.Severity)); err != nil {
				return models.Ticket{}, err
			}
		}
		if err := t.client.AddLabels(ctx, scope.Repository, number, SeverityLabel(f.Severity)); err != nil {
			return models.Ticket{}, err
		}
	}
	return ticketFromIssue(issue)
}

// Close implements tracker.Tracker.
func (t *IssueTracker) Close(ctx context.Context, scope tracker.Scope, ticket models.Ticket) error {
	number, err := strconv.Atoi(ticket.ID)
	if err != nil {
		return fmt.Errorf("invalid github issue id %q: %w", ticket.ID, err)
	}

	if err := t.client.AddLabels(ctx, scope.Repository, number, ResolvedLabel); err != nil {
		logging.Warn("failed to label resolved issue", "issue", ticket.Key, "error", err)
	}

	_, err = t.client.EditIssue(ctx, scope.Repository, number, &github.IssueRequest{State: github.String("closed")})
	return err
}

func ticketFromIssue(issue *github.Issue) (models.Ticket, error) {
	ticket, ok := tracker.TicketFromBody(issue.GetBody())
	if !ok {
		return models.Ticket{}, fmt.Errorf("issue #%d carries no fingerprint marker", issue.GetNumber())
	}
	return fillTicket(ticket, issue), nil
}

func fillTicket(ticket models.Ticket, issue *github.Issue) models.Ticket {
	ticket.ID = strconv.Itoa(issue.GetNumber())
	ticket.Key = fmt.Sprintf("#%d", issue.GetNumber())
	ticket.URL = issue.GetHTMLURL()
	if issue.GetState() == "closed" {
		ticket.Status = models.TicketClosed
	}
	return ticket
}
