package tracker

import (
	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// Change pairs an open ticket with the finding it is updated from.
type Change struct {
	Ticket  models.Ticket
	Finding models.Finding
}

// Plan is the set of tracker operations that brings the tracker in line
// with a scan.
type Plan struct {
	Create []models.Finding
	Update []Change
	Close  []models.Ticket
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool {
	return len(p.Create) == 0 && len(p.Update) == 0 && len(p.Close) == 0
}

// Diff computes the plan for findings against the open tickets of a scope:
// findings without a ticket are created, tickets without a finding are
// closed, and tickets whose severity or description drifted are updated.
// When several open tickets share a fingerprint the first one is kept and
// the others are closed in the same pass. When managedOnly is set only
// tickets created by scanglue are closed.
//
// Diff is a pure function; the order of the plan follows the order of its
// inputs.
func Diff(findings []models.Finding, existing []models.Ticket, managedOnly bool) Plan {
	tickets := make(map[string]models.Ticket, len(existing))
	duplicate := make([]bool, len(existing))
	for i, t := range existing {
		if t.Fingerprint == "" {
			continue
		}
		if first, dup := tickets[t.Fingerprint]; dup {
			logging.Warn("multiple open tickets share a fingerprint, closing the duplicate",
				"fingerprint", t.Fingerprint,
				"kept", first.Key,
				"duplicate", t.Key)
			duplicate[i] = true
			continue
		}
		tickets[t.Fingerprint] = t
	}

	var plan Plan
	seen := make(map[string]bool, len(findings))
	for _, f := range findings {
		if seen[f.Fingerprint] {
			continue
		}
		seen[f.Fingerprint] = true

		t, ok := tickets[f.Fingerprint]
		if !ok {
			plan.Create = append(plan.Create, f)
			continue
		}
		if NeedsUpdate(t, f) {
			plan.Update = append(plan.Update, Change{Ticket: t, Finding: f})
		}
	}

	for i, t := range existing {
		if t.Fingerprint == "" {
			continue
		}
		if !duplicate[i] && seen[t.Fingerprint] {
			continue
		}
		if managedOnly && !t.Managed {
			continue
		}
		plan.Close = append(plan.Close, t)
	}

	return plan
}

// NeedsUpdate reports whether a ticket's mutable fields differ from f.
func NeedsUpdate(t models.Ticket, f models.Finding) bool {
	return t.Severity != f.Severity ||
		models.CanonicalDescription(t.Description) != models.CanonicalDescription(f.Description)
}
