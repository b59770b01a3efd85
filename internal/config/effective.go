package config

import (
	"fmt"
	"slices"

	"github.com/danielolaszy/scanglue/pkg/models"
)

// EffectiveConfig is the policy of one run after static defaults, routing
// overrides and config-as-code have been merged. It is a value; nothing
// shares its slices with the static configuration.
type EffectiveConfig struct {
	Active            bool
	Team              string
	Project           string
	Application       string
	Branches          []string
	BugTracker        models.BugTracker
	SeverityThreshold models.Severity
	Emails            []string
	Assignee          string
	Preset            string
	Incremental       bool
	ExcludeFiles      []string
	ExcludeFolders    []string
	JiraProject       string
	JiraIssueType     string
}

// BugTrackerOverride is the config-as-code form of a bug tracker selection.
type BugTrackerOverride struct {
	Type       string `yaml:"type" json:"type"`
	CustomBean string `yaml:"customBean" json:"customBean"`
}

// JiraOverride carries per-repository JIRA fields.
type JiraOverride struct {
	Project   *string `yaml:"project" json:"project"`
	IssueType *string `yaml:"issueType" json:"issueType"`
}

// Overrides is a partial EffectiveConfig. A nil field means "inherit". The
// same type describes webhook routing parameters and config-as-code files.
type Overrides struct {
	Active            *bool               `yaml:"active" json:"active"`
	Team              *string             `yaml:"team" json:"team"`
	Project           *string             `yaml:"project" json:"project"`
	Application       *string             `yaml:"application" json:"application"`
	Branches          []string            `yaml:"branches" json:"branches"`
	BugTracker        *BugTrackerOverride `yaml:"bugTracker" json:"bugTracker"`
	SeverityThreshold *string             `yaml:"severityThreshold" json:"severityThreshold"`
	Emails            []string            `yaml:"emails" json:"emails"`
	Assignee          *string             `yaml:"assignee" json:"assignee"`
	Preset            *string             `yaml:"preset" json:"preset"`
	Incremental       *bool               `yaml:"incremental" json:"incremental"`
	ExcludeFiles      []string            `yaml:"excludeFiles" json:"excludeFiles"`
	ExcludeFolders    []string            `yaml:"excludeFolders" json:"excludeFolders"`
	Jira              *JiraOverride       `yaml:"jira" json:"jira"`
}

// Defaults derives the baseline EffectiveConfig from static configuration.
func Defaults(c Config) (EffectiveConfig, error) {
	bt, err := models.ParseBugTracker(c.Flow.BugTracker)
	if err != nil {
		return EffectiveConfig{}, fmt.Errorf("static bug tracker: %w", err)
	}

	threshold := models.SeverityUnknown
	if c.Flow.SeverityThreshold != "" {
		threshold, err = models.ParseSeverity(c.Flow.SeverityThreshold)
		if err != nil {
			return EffectiveConfig{}, fmt.Errorf("static severity threshold: %w", err)
		}
	}

	return EffectiveConfig{
		Active:            true,
		Team:              c.Flow.Team,
		Project:           c.Flow.Project,
		Application:       c.Flow.Application,
		Branches:          slices.Clone(c.Flow.Branches),
		BugTracker:        bt,
		SeverityThreshold: threshold,
		Emails:            slices.Clone(c.Flow.Emails),
		JiraProject:       c.Jira.Project,
		JiraIssueType:     c.Jira.IssueType,
	}, nil
}

// Apply merges o over base field by field and returns the result. base is
// not modified.
func (o Overrides) Apply(base EffectiveConfig) (EffectiveConfig, error) {
	out := base
	out.Branches = slices.Clone(base.Branches)
	out.Emails = slices.Clone(base.Emails)
	out.ExcludeFiles = slices.Clone(base.ExcludeFiles)
	out.ExcludeFolders = slices.Clone(base.ExcludeFolders)

	if o.Active != nil {
		out.Active = *o.Active
	}
	if o.Team != nil {
		out.Team = *o.Team
	}
	if o.Project != nil {
		out.Project = *o.Project
	}
	if o.Application != nil {
		out.Application = *o.Application
	}
	if o.Branches != nil {
		out.Branches = slices.Clone(o.Branches)
	}
	if o.BugTracker != nil {
		t, ok := models.ParseBugTrackerType(o.BugTracker.Type)
		if !ok {
			return EffectiveConfig{}, fmt.Errorf("%w: unknown bug tracker type %q", models.ErrInvalidBugTracker, o.BugTracker.Type)
		}
		bt, err := models.NewBugTracker(t, o.BugTracker.CustomBean)
		if err != nil {
			return EffectiveConfig{}, err
		}
		out.BugTracker = bt
	}
	if o.SeverityThreshold != nil {
		sev, err := models.ParseSeverity(*o.SeverityThreshold)
		if err != nil {
			return EffectiveConfig{}, err
		}
		out.SeverityThreshold = sev
	}
	if o.Emails != nil {
		out.Emails = slices.Clone(o.Emails)
	}
	if o.Assignee != nil {
		out.Assignee = *o.Assignee
	}
	if o.Preset != nil {
		out.Preset = *o.Preset
	}
	if o.Incremental != nil {
		out.Incremental = *o.Incremental
	}
	if o.ExcludeFiles != nil {
		out.ExcludeFiles = slices.Clone(o.ExcludeFiles)
	}
	if o.ExcludeFolders != nil {
		out.ExcludeFolders = slices.Clone(o.ExcludeFolders)
	}
	if o.Jira != nil {
		if o.Jira.Project != nil {
			out.JiraProject = *o.Jira.Project
		}
		if o.Jira.IssueType != nil {
			out.JiraIssueType = *o.Jira.IssueType
		}
	}

	return out, nil
}

// IsZero reports whether o overrides nothing.
func (o Overrides) IsZero() bool {
	return o.Active == nil && o.Team == nil && o.Project == nil && o.Application == nil &&
		o.Branches == nil && o.BugTracker == nil && o.SeverityThreshold == nil && o.Emails == nil &&
		o.Assignee == nil && o.Preset == nil && o.Incremental == nil && o.ExcludeFiles == nil &&
		o.ExcludeFolders == nil && o.Jira == nil
}
