package jira

import (
	"context"
	"fmt"
	"strings"

	jira "github.com/andygrunwald/go-jira"

	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/internal/tracker"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// ManagedLabel is applied to every issue created by scanglue.
const ManagedLabel = "scanglue"

// Tracker reconciles findings as issues of one JIRA project.
type Tracker struct {
	client    *Client
	project   string
	issueType string
	assignee  string
}

var _ tracker.Tracker = (*Tracker)(nil)

// NewTracker creates a Tracker for project. issueType defaults to "Bug".
func NewTracker(client *Client, project, issueType, assignee string) (*Tracker, error) {
	if project == "" {
		return nil, fmt.Errorf("jira project is not configured")
	}
	if issueType == "" {
		issueType = "Bug"
	}
	return &Tracker{client: client, project: project, issueType: issueType, assignee: assignee}, nil
}

func severityLabel(s models.Severity) string {
	return "severity-" + string(s)
}

// ListOpenTickets implements tracker.Tracker.
func (t *Tracker) ListOpenTickets(ctx context.Context, scope tracker.Scope) ([]models.Ticket, error) {
	jql := fmt.Sprintf(`project = "%s" AND labels = "%s" AND statusCategory != Done`,
		escapeJQL(t.project), escapeJQL(scope.Label()))

	issues, err := t.client.Search(ctx, jql, "summary", "description", "status", "labels")
	if err != nil {
		return nil, err
	}

	var tickets []models.Ticket
	for _, issue := range issues {
		if issue.Fields == nil || !tracker.InScope(issue.Fields.Description, scope) {
			continue
		}
		ticket, ok := tracker.TicketFromBody(issue.Fields.Description)
		if !ok {
			continue
		}
		ticket.ID = issue.ID
		ticket.Key = issue.Key
		ticket.URL = t.client.BrowseURL(issue.Key)
		tickets = append(tickets, ticket)
	}

	logging.Debug("listed open jira tickets",
		"project", t.project,
		"scope", scope.Key(),
		"count", len(tickets))
	return tickets, nil
}

// Create implements tracker.Tracker.
func (t *Tracker) Create(ctx context.Context, scope tracker.Scope, f models.Finding) (models.Ticket, error) {
	body := tracker.RenderBody(scope, f)
	fields := &jira.IssueFields{
		Project:     jira.Project{Key: t.project},
		Type:        jira.IssueType{Name: t.issueType},
		Summary:     tracker.Title(f),
		Description: body,
		Labels:      []string{ManagedLabel, scope.Label(), severityLabel(f.Severity)},
	}
	if t.assignee != "" {
		fields.Assignee = &jira.User{Name: t.assignee}
	}

	issue, err := t.client.CreateIssue(ctx, fields)
	if err != nil {
		return models.Ticket{}, err
	}

	ticket, _ := tracker.TicketFromBody(body)
	ticket.ID = issue.ID
	ticket.Key = issue.Key
	ticket.URL = t.client.BrowseURL(issue.Key)
	return ticket, nil
}

// Update implements tracker.Tracker.
func (t *Tracker) Update(ctx context.Context, scope tracker.Scope, ticket models.Ticket, f models.Finding) (models.Ticket, error) {
	body := tracker.RenderUpdateBody(scope, ticket, f)
	labels := []string{scope.Label(), severityLabel(f.Severity)}
	if ticket.Managed {
		labels = append([]string{ManagedLabel}, labels...)
	}

	err := t.client.UpdateIssue(ctx, ticket.Key, &jira.IssueFields{
		Summary:     tracker.Title(f),
		Description: body,
		Labels:      labels,
	})
	if err != nil {
		return models.Ticket{}, err
	}

	updated, _ := tracker.TicketFromBody(body)
	updated.ID = ticket.ID
	updated.Key = ticket.Key
	updated.URL = ticket.URL
	return updated, nil
}

// Close implements tracker.Tracker.
func (t *Tracker) Close(ctx context.Context, _ tracker.Scope, ticket models.Ticket) error {
	id := ticket.ID
	if id == "" {
		id = ticket.Key
	}
	return t.client.Resolve(ctx, id)
}

func escapeJQL(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
