package flow

import (
	"slices"

	"github.com/danielolaszy/scanglue/internal/admission"
	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// NewScanRequest builds the immutable request of a run from the admitted
// draft and its effective configuration. Slices are copied so the request
// shares nothing with either input.
func NewScanRequest(d admission.Draft, eff config.EffectiveConfig) models.ScanRequest {
	return models.ScanRequest{
		CorrelationID:     d.CorrelationID,
		Repository:        d.Repository,
		Namespace:         d.Namespace,
		RepoName:          d.RepoName,
		CloneURL:          d.CloneURL,
		Branch:            d.Branch,
		Ref:               d.Ref,
		PullRequest:       d.PullRequest,
		Team:              eff.Team,
		Project:           eff.Project,
		Application:       eff.Application,
		BugTracker:        eff.BugTracker,
		Branches:          slices.Clone(eff.Branches),
		SeverityThreshold: eff.SeverityThreshold,
		Emails:            slices.Clone(eff.Emails),
		Assignee:          eff.Assignee,
		Preset:            eff.Preset,
		Incremental:       eff.Incremental,
		ExcludeFiles:      slices.Clone(eff.ExcludeFiles),
		ExcludeFolders:    slices.Clone(eff.ExcludeFolders),
	}
}

// gateBranch is the branch the allow-list applies to: the merge target of a
// pull request, the pushed branch otherwise.
func gateBranch(d admission.Draft) string {
	if d.TargetBranch != "" {
		return d.TargetBranch
	}
	return d.Branch
}

// TrackerProject is the tracker-side container tickets are filed in.
func TrackerProject(eff config.EffectiveConfig) string {
	if eff.BugTracker.Type == models.BugTrackerJira && eff.JiraProject != "" {
		return eff.JiraProject
	}
	return eff.Project
}
