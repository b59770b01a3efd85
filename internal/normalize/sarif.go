package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/danielolaszy/scanglue/pkg/models"
)

var cweTag = regexp.MustCompile(`(?i)^(?:external/cwe/)?cwe-0*(\d+)`)

func parseSARIF(raw []byte) ([]models.Finding, error) {
	report, err := sarif.FromBytes(raw)
	if err != nil {
		return nil, err
	}

	var findings []models.Finding
	for _, run := range report.Runs {
		if run == nil {
			continue
		}

		source := "sarif"
		rulesByID := map[string]*sarif.ReportingDescriptor{}
		if run.Tool.Driver != nil {
			if run.Tool.Driver.Name != "" {
				source = run.Tool.Driver.Name
			}
			for _, r := range run.Tool.Driver.Rules {
				if r == nil || strings.TrimSpace(r.ID) == "" {
					continue
				}
				rulesByID[strings.TrimSpace(r.ID)] = r
			}
		}

		for _, res := range run.Results {
			if res == nil {
				continue
			}

			ruleID := ""
			if res.RuleID != nil {
				ruleID = strings.TrimSpace(*res.RuleID)
			}
			rule := rulesByID[ruleID]

			file, line, column := resultLocation(res)
			findings = append(findings, models.Finding{
				Category:    ruleID,
				FilePath:    file,
				Line:        line,
				Column:      column,
				Severity:    sarifSeverity(res, rule),
				Description: sarifDescription(res, rule),
				CWE:         sarifCWE(rule),
				Source:      source,
			})
		}
	}
	return findings, nil
}

func resultLocation(res *sarif.Result) (string, int, int) {
	if len(res.Locations) == 0 || res.Locations[0] == nil {
		return "", 0, 0
	}
	loc := res.Locations[0].PhysicalLocation
	if loc == nil {
		return "", 0, 0
	}

	file := ""
	if loc.ArtifactLocation != nil && loc.ArtifactLocation.URI != nil {
		file = *loc.ArtifactLocation.URI
	}

	line, column := 0, 0
	if loc.Region != nil {
		if loc.Region.StartLine != nil {
			line = *loc.Region.StartLine
		}
		if loc.Region.StartColumn != nil {
			column = *loc.Region.StartColumn
		}
	}
	return file, line, column
}

// sarifSeverity prefers the numeric "security-severity" rule property used
// by code scanning tools and falls back to the result level. SARIF treats a
// missing level as "warning".
func sarifSeverity(res *sarif.Result, rule *sarif.ReportingDescriptor) models.Severity {
	if rule != nil && rule.Properties != nil {
		if score, ok := securitySeverity(rule.Properties["security-severity"]); ok {
			return scoreToSeverity(score)
		}
	}
	if res.Properties != nil {
		if s, ok := res.Properties["severity"].(string); ok {
			if sev, err := models.ParseSeverity(s); err == nil {
				return sev
			}
		}
	}
	if res.Level != nil {
		if sev, err := models.ParseSeverity(*res.Level); err == nil {
			return sev
		}
	}
	return models.SeverityMedium
}

func securitySeverity(v any) (float64, bool) {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// scoreToSeverity maps a CVSS-style score onto the severity scale.
func scoreToSeverity(score float64) models.Severity {
	switch {
	case score >= 9.0:
		return models.SeverityCritical
	case score >= 7.0:
		return models.SeverityHigh
	case score >= 4.0:
		return models.SeverityMedium
	case score > 0:
		return models.SeverityLow
	default:
		return models.SeverityInfo
	}
}

func sarifDescription(res *sarif.Result, rule *sarif.ReportingDescriptor) string {
	if res.Message.Text != nil && strings.TrimSpace(*res.Message.Text) != "" {
		return strings.TrimSpace(*res.Message.Text)
	}
	if rule != nil && rule.ShortDescription != nil && rule.ShortDescription.Text != nil {
		return strings.TrimSpace(*rule.ShortDescription.Text)
	}
	return ""
}

func sarifCWE(rule *sarif.ReportingDescriptor) string {
	if rule == nil || rule.Properties == nil {
		return ""
	}

	var tags []string
	switch tv := rule.Properties["tags"].(type) {
	case []string:
		tags = tv
	case []interface{}:
		for _, it := range tv {
			if s, ok := it.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	for _, tag := range tags {
		if m := cweTag.FindStringSubmatch(strings.TrimSpace(tag)); len(m) == 2 {
			return "CWE-" + m[1]
		}
	}
	return ""
}
