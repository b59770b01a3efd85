package github

import (
	"context"

	"github.com/danielolaszy/scanglue/pkg/models"
)

type labelSpec struct {
	name        string
	color       string
	description string
}

func managedLabels() []labelSpec {
	return []labelSpec{
		{ManagedLabel, "5319e7", "Security finding tracked by scanglue"},
		{ResolvedLabel, "0e8a16", "Finding no longer reported by the scanner"},
		{SeverityLabel(models.SeverityCritical), "b60205", "Critical severity finding"},
		{SeverityLabel(models.SeverityHigh), "d93f0b", "High severity finding"},
		{SeverityLabel(models.SeverityMedium), "fbca04", "Medium severity finding"},
		{SeverityLabel(models.SeverityLow), "c2e0c6", "Low severity finding"},
		{SeverityLabel(models.SeverityInfo), "bfdadc", "Informational finding"},
	}
}

// InitializeLabels creates the labels used by the issue tracker in
// repository. Existing labels are left untouched. It returns the names of
// the labels it created.
func (c *Client) InitializeLabels(ctx context.Context, repository string) ([]string, error) {
	var created []string
	for _, l := range managedLabels() {
		ok, err := c.EnsureLabel(ctx, repository, l.name, l.color, l.description)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, l.name)
		}
	}
	return created, nil
}
