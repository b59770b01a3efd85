// Package tracker reconciles normalized findings against the open tickets of
// an issue tracker.
package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/danielolaszy/scanglue/pkg/models"
)

// Scope selects the tickets one run reconciles against.
type Scope struct {
	Repository string
	Branch     string
	// Project is the tracker-side container (JIRA project key, Trello board)
	Project string
	// CorrelationID tags tickets touched by the run
	CorrelationID string
}

// Key returns the canonical "owner/repo@branch" form of the scope.
func (s Scope) Key() string {
	return fmt.Sprintf("%s@%s", strings.ToLower(s.Repository), s.Branch)
}

// Label returns a tracker-safe label identifying the scope. Labels are used
// by trackers that can filter by label server-side.
func (s Scope) Label() string {
	sum := sha256.Sum256([]byte(s.Key()))
	return "scanglue-" + hex.EncodeToString(sum[:6])
}

// ScopeFromRequest derives the reconciliation scope of a scan request.
func ScopeFromRequest(req models.ScanRequest, project string) Scope {
	return Scope{
		Repository:    req.Repository,
		Branch:        req.Branch,
		Project:       project,
		CorrelationID: req.CorrelationID,
	}
}

// Tracker is the capability every issue tracker implementation provides.
// Implementations must be safe for concurrent use.
type Tracker interface {
	// ListOpenTickets returns the open tickets of scope that carry a
	// fingerprint marker.
	ListOpenTickets(ctx context.Context, scope Scope) ([]models.Ticket, error)
	Create(ctx context.Context, scope Scope, finding models.Finding) (models.Ticket, error)
	Update(ctx context.Context, scope Scope, ticket models.Ticket, finding models.Finding) (models.Ticket, error)
	Close(ctx context.Context, scope Scope, ticket models.Ticket) error
}
