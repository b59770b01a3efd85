package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danielolaszy/scanglue/pkg/models"
)

// nativeReport is the scanner's own JSON report format.
type nativeReport struct {
	Scanner  string          `json:"scanner"`
	Findings []nativeFinding `json:"findings"`
}

type nativeFinding struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Column      int    `json:"column"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	CWE         any    `json:"cwe"`
}

func parseNative(raw []byte) ([]models.Finding, error) {
	var report nativeReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, err
	}

	source := report.Scanner
	if source == "" {
		source = "scanner"
	}

	findings := make([]models.Finding, 0, len(report.Findings))
	for i, nf := range report.Findings {
		if nf.Category == "" {
			return nil, fmt.Errorf("finding %d has no category", i)
		}

		sev, err := models.ParseSeverity(nf.Severity)
		if err != nil {
			sev = models.SeverityUnknown
		}

		findings = append(findings, models.Finding{
			Category:    nf.Category,
			FilePath:    nf.File,
			Line:        nf.Line,
			Column:      nf.Column,
			Severity:    sev,
			Description: strings.TrimSpace(nf.Description),
			CWE:         formatCWE(nf.CWE),
			Source:      source,
		})
	}
	return findings, nil
}

func formatCWE(v any) string {
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return ""
		}
		return fmt.Sprintf("CWE-%d", int(t))
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return ""
		}
		if m := cweTag.FindStringSubmatch(t); len(m) == 2 {
			return "CWE-" + m[1]
		}
		return "CWE-" + t
	default:
		return ""
	}
}
