package notify

import (
	"fmt"
	"strings"

	"github.com/danielolaszy/scanglue/pkg/models"
)

// maxListedFindings bounds the findings table of a summary.
const maxListedFindings = 20

// Commit status states.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusError   = "error"
)

// Status maps an outcome to a commit status state: error when the run was
// aborted, failure when findings remain, success otherwise.
func Status(o Outcome) string {
	switch {
	case o.Failed():
		return StatusError
	case len(o.Findings) > 0:
		return StatusFailure
	default:
		return StatusSuccess
	}
}

// Headline is a one-line description of the outcome.
func Headline(o Outcome) string {
	if o.Failed() {
		return fmt.Sprintf("scan failed: %s", models.ErrorCode(o.Err))
	}
	return fmt.Sprintf("%d findings, %d created, %d updated, %d closed",
		len(o.Findings), len(o.Result.Created), len(o.Result.Updated), len(o.Result.Closed))
}

// Subject is the mail subject line of the outcome.
func Subject(o Outcome) string {
	return fmt.Sprintf("[scanglue] %s@%s: %s", o.Request.Repository, o.Request.Branch, Headline(o))
}

// Summarize renders the outcome as markdown.
func Summarize(o Outcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "### scanglue results for `%s` (%s)\n\n", o.Request.Repository, o.Request.Branch)

	if o.Failed() {
		stage := models.StageOf(o.Err)
		if stage == "" {
			stage = models.StageScan
		}
		fmt.Fprintf(&b, "The run failed during **%s**: %s\n\n", stage, o.Err)
		fmt.Fprintf(&b, "_Correlation id: %s_\n", o.Request.CorrelationID)
		return b.String()
	}

	counts := map[models.Severity]int{}
	for _, f := range o.Findings {
		counts[f.Severity]++
	}

	b.WriteString("| Severity | Findings |\n|---|---|\n")
	for _, s := range []models.Severity{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow, models.SeverityInfo} {
		fmt.Fprintf(&b, "| %s | %d |\n", s, counts[s])
	}
	b.WriteString("\n")

	if !o.Request.BugTracker.IsNone() {
		fmt.Fprintf(&b, "Tickets in %s: %d created, %d updated, %d closed",
			o.Request.BugTracker, len(o.Result.Created), len(o.Result.Updated), len(o.Result.Closed))
		if n := len(o.Result.Failures); n > 0 {
			fmt.Fprintf(&b, ", %d failed", n)
		}
		b.WriteString(".\n\n")
	}

	if len(o.Findings) > 0 {
		b.WriteString("| Severity | Category | Location |\n|---|---|---|\n")
		for i, f := range o.Findings {
			if i == maxListedFindings {
				fmt.Fprintf(&b, "\n_and %d more_\n", len(o.Findings)-maxListedFindings)
				break
			}
			fmt.Fprintf(&b, "| %s | %s | `%s:%d` |\n", f.Severity, f.Category, f.FilePath, f.Line)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "_Correlation id: %s_\n", o.Request.CorrelationID)
	return b.String()
}
