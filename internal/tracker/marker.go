package tracker

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/danielolaszy/scanglue/pkg/models"
)

// Marker lines written into every ticket body. They make a ticket's finding
// recoverable from the tracker alone, without any local state.
const (
	fingerprintPrefix = "scanglue-fingerprint: "
	scopePrefix       = "scanglue-scope: "
	severityPrefix    = "scanglue-severity: "
	scanPrefix        = "scanglue-scan: "
	markerSeparator   = "\n----\n"
	detailsHeader     = "\n\n**Details**\n"

	// Footer marks tickets created by scanglue.
	Footer = "Created by scanglue"
)

// A Caser is not safe for concurrent use.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// Marker is the information recovered from a ticket body.
type Marker struct {
	Fingerprint string
	Scope       string
	Severity    models.Severity
	Scan        string
	Description string
	// Managed is true when the body carries the scanglue footer
	Managed bool
}

// Title renders the ticket title of a finding.
func Title(f models.Finding) string {
	loc := f.FilePath
	if f.Line > 0 {
		loc = fmt.Sprintf("%s:%d", f.FilePath, f.Line)
	}
	return fmt.Sprintf("[%s] %s in %s", titleCase(string(f.Severity)), f.Category, loc)
}

// RenderBody renders the ticket body of a finding in scope.
func RenderBody(scope Scope, f models.Finding) string {
	var b strings.Builder

	b.WriteString(models.CanonicalDescription(f.Description))
	b.WriteString(detailsHeader)
	fmt.Fprintf(&b, "- Category: %s\n", f.Category)
	fmt.Fprintf(&b, "- Severity: %s\n", titleCase(string(f.Severity)))
	if f.Line > 0 {
		fmt.Fprintf(&b, "- File: %s (line %d)\n", f.FilePath, f.Line)
	} else {
		fmt.Fprintf(&b, "- File: %s\n", f.FilePath)
	}
	if f.CWE != "" {
		fmt.Fprintf(&b, "- CWE: %s\n", f.CWE)
	}
	if f.Source != "" {
		fmt.Fprintf(&b, "- Scanner: %s\n", f.Source)
	}
	fmt.Fprintf(&b, "- Branch: %s\n", scope.Branch)

	b.WriteString(markerSeparator)
	b.WriteString(fingerprintPrefix + f.Fingerprint + "\n")
	b.WriteString(scopePrefix + scope.Key() + "\n")
	b.WriteString(severityPrefix + string(f.Severity) + "\n")
	if scope.CorrelationID != "" {
		b.WriteString(scanPrefix + scope.CorrelationID + "\n")
	}
	b.WriteString(Footer)

	return b.String()
}

// RenderUpdateBody renders the new body of an existing ticket. Tickets that
// were not created by scanglue do not gain the footer.
func RenderUpdateBody(scope Scope, t models.Ticket, f models.Finding) string {
	body := RenderBody(scope, f)
	if !t.Managed {
		body = strings.TrimSuffix(body, Footer)
	}
	return body
}

// ParseBody extracts the marker from a ticket body. ok is false when the
// body carries no fingerprint.
func ParseBody(body string) (Marker, bool) {
	body = strings.ReplaceAll(body, "\r\n", "\n")

	idx := strings.LastIndex(body, markerSeparator)
	if idx < 0 {
		return Marker{}, false
	}
	head, tail := body[:idx], body[idx+len(markerSeparator):]

	var m Marker
	for _, line := range strings.Split(tail, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, fingerprintPrefix):
			m.Fingerprint = strings.TrimSpace(strings.TrimPrefix(line, fingerprintPrefix))
		case strings.HasPrefix(line, scopePrefix):
			m.Scope = strings.TrimSpace(strings.TrimPrefix(line, scopePrefix))
		case strings.HasPrefix(line, severityPrefix):
			sev, err := models.ParseSeverity(strings.TrimPrefix(line, severityPrefix))
			if err != nil {
				sev = models.SeverityUnknown
			}
			m.Severity = sev
		case strings.HasPrefix(line, scanPrefix):
			m.Scan = strings.TrimSpace(strings.TrimPrefix(line, scanPrefix))
		case line == Footer:
			m.Managed = true
		}
	}
	if m.Fingerprint == "" {
		return Marker{}, false
	}

	// The details block is rendered after the description, which may
	// itself contain the header.
	if i := strings.LastIndex(head, detailsHeader); i >= 0 {
		head = head[:i]
	}
	m.Description = strings.TrimSpace(head)

	return m, true
}

// TicketFromBody fills the tracker-independent fields of a ticket from its
// body. ok is false when the body carries no fingerprint.
func TicketFromBody(body string) (models.Ticket, bool) {
	m, ok := ParseBody(body)
	if !ok {
		return models.Ticket{}, false
	}
	return models.Ticket{
		Fingerprint:  m.Fingerprint,
		Status:       models.TicketOpen,
		Severity:     m.Severity,
		Description:  m.Description,
		LastSeenScan: m.Scan,
		Managed:      m.Managed,
	}, true
}

// InScope reports whether a ticket body belongs to scope. Bodies without a
// scope line are accepted, so trackers that already filter server-side do
// not lose legacy tickets.
func InScope(body string, scope Scope) bool {
	m, ok := ParseBody(body)
	if !ok {
		return false
	}
	return m.Scope == "" || m.Scope == scope.Key()
}
