// Package models defines data structures shared across the application.
package models

import (
	"fmt"
	"strings"
)

// ScanRequest describes one orchestration run. It is built once per admitted
// event and never modified afterwards.
type ScanRequest struct {
	// CorrelationID identifies the run across logs, tickets and notifications
	CorrelationID string

	// Repository is the full repository name (e.g., "owner/repo")
	Repository string

	// Namespace is the repository owner or organisation
	Namespace string

	// RepoName is the short repository name
	RepoName string

	// CloneURL is the URL the scanner clones from
	CloneURL string

	// Branch is the branch being scanned
	Branch string

	// Ref is the commit SHA or git ref of the event
	Ref string

	// PullRequest is the pull request number, zero for push events
	PullRequest int

	// Team and Project are the scanner-side destination path
	Team    string
	Project string

	// Application is a free-form grouping used in ticket titles
	Application string

	// BugTracker selects where findings are reconciled
	BugTracker BugTracker

	// Branches is the allow-list the run was admitted against
	Branches []string

	// SeverityThreshold drops findings below this severity
	SeverityThreshold Severity

	// Emails receives the summary email, if configured
	Emails []string

	// Assignee is handed to trackers that support it
	Assignee string

	Preset         string
	Incremental    bool
	ExcludeFiles   []string
	ExcludeFolders []string
}

// ScopeKey returns the (repository, branch) key that serializes runs.
func (r ScanRequest) ScopeKey() string {
	return fmt.Sprintf("%s@%s", strings.ToLower(r.Repository), r.Branch)
}

// Finding is one vulnerability reported by a scan after normalization.
type Finding struct {
	// Category is the vulnerability class or rule id (e.g., "SQL_Injection")
	Category string

	// FilePath is the repository-relative path of the vulnerable file
	FilePath string

	// Line and Column locate the finding inside FilePath
	Line   int
	Column int

	Severity    Severity
	Description string

	// CWE is the weakness id when the scanner provides one
	CWE string

	// Source names the scanner that produced the finding
	Source string

	// Fingerprint is the stable identity joining the finding to a ticket
	Fingerprint string
}

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// CanonicalDescription returns the form of a description that is stored in
// and compared against tickets: LF line endings, surrounding space trimmed.
func CanonicalDescription(s string) string {
	return strings.TrimSpace(lineEndings.Replace(s))
}

// TicketStatus is the tracker-independent state of a ticket.
type TicketStatus string

const (
	TicketOpen   TicketStatus = "OPEN"
	TicketClosed TicketStatus = "CLOSED"
)

// Ticket represents an issue-tracker record created for a finding.
type Ticket struct {
	// ID is the tracker-native id (e.g., "10042" in JIRA, issue number in GitHub)
	ID string

	// Key is the human readable identifier (e.g., "ABC-123", "#42")
	Key string

	// URL points at the ticket in the tracker UI
	URL string

	Fingerprint string
	Status      TicketStatus

	// Severity and Description are the mutable fields compared on every sync
	Severity    Severity
	Description string

	// LastSeenScan is the correlation id of the run that last touched the ticket
	LastSeenScan string

	// Managed indicates whether this ticket was created by scanglue
	Managed bool
}

// TicketOp names a reconciliation operation.
type TicketOp string

const (
	OpCreate TicketOp = "create"
	OpUpdate TicketOp = "update"
	OpClose  TicketOp = "close"
)

// TicketFailure records a single failed tracker operation.
type TicketFailure struct {
	Fingerprint string
	Op          TicketOp
	Err         error
}

// ReconciliationResult is produced once per run and never persisted.
type ReconciliationResult struct {
	Created  []Ticket
	Updated  []Ticket
	Closed   []Ticket
	Failures []TicketFailure
}

// Empty reports whether the run changed nothing in the tracker.
func (r ReconciliationResult) Empty() bool {
	return len(r.Created) == 0 && len(r.Updated) == 0 && len(r.Closed) == 0
}
