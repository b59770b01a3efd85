package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/danielolaszy/scanglue/pkg/models"
)

func finding(fp string, sev models.Severity) models.Finding {
	return models.Finding{Category: "C", FilePath: "f.go", Fingerprint: fp, Severity: sev, Description: "d-" + fp}
}

func ticket(id, fp string, sev models.Severity, managed bool) models.Ticket {
	return models.Ticket{ID: id, Key: "K-" + id, Fingerprint: fp, Severity: sev, Description: "d-" + fp, Status: models.TicketOpen, Managed: managed}
}

func fingerprints(fs []models.Finding) []string {
	var out []string
	for _, f := range fs {
		out = append(out, f.Fingerprint)
	}
	return out
}

func ticketFingerprints(ts []models.Ticket) []string {
	var out []string
	for _, t := range ts {
		out = append(out, t.Fingerprint)
	}
	return out
}

func TestDiffSetSemantics(t *testing.T) {
	findings := []models.Finding{
		finding("a", models.SeverityHigh),
		finding("b", models.SeverityHigh),
		finding("c", models.SeverityHigh),
	}
	existing := []models.Ticket{
		ticket("1", "b", models.SeverityHigh, true),
		ticket("2", "c", models.SeverityHigh, true),
		ticket("3", "d", models.SeverityHigh, true),
	}

	plan := Diff(findings, existing, true)

	assert.Equal(t, []string{"a"}, fingerprints(plan.Create))
	assert.Empty(t, plan.Update)
	assert.Equal(t, []string{"d"}, ticketFingerprints(plan.Close))
}

func TestDiffUpdatesOnDrift(t *testing.T) {
	changedDesc := finding("c", models.SeverityHigh)
	changedDesc.Description = "new text"

	plan := Diff(
		[]models.Finding{finding("b", models.SeverityCritical), changedDesc},
		[]models.Ticket{ticket("1", "b", models.SeverityHigh, true), ticket("2", "c", models.SeverityHigh, true)},
		true,
	)

	assert.Empty(t, plan.Create)
	assert.Empty(t, plan.Close)
	if assert.Len(t, plan.Update, 2) {
		assert.Equal(t, "1", plan.Update[0].Ticket.ID)
		assert.Equal(t, models.SeverityCritical, plan.Update[0].Finding.Severity)
		assert.Equal(t, "new text", plan.Update[1].Finding.Description)
	}
}

func TestDiffManagedOnly(t *testing.T) {
	existing := []models.Ticket{
		ticket("1", "x", models.SeverityLow, true),
		ticket("2", "y", models.SeverityLow, false),
	}

	plan := Diff(nil, existing, true)
	assert.Equal(t, []string{"x"}, ticketFingerprints(plan.Close))

	plan = Diff(nil, existing, false)
	assert.Equal(t, []string{"x", "y"}, ticketFingerprints(plan.Close))
}

func TestDiffDuplicatesAndForeignTickets(t *testing.T) {
	existing := []models.Ticket{
		ticket("1", "a", models.SeverityHigh, true),
		ticket("2", "a", models.SeverityLow, true),
		ticket("3", "", models.SeverityLow, true),
		ticket("4", "z", models.SeverityHigh, true),
		ticket("5", "z", models.SeverityHigh, true),
	}

	plan := Diff([]models.Finding{finding("a", models.SeverityHigh), finding("a", models.SeverityHigh)}, existing, true)

	assert.Empty(t, plan.Create)
	assert.Empty(t, plan.Update)
	var closed []string
	for _, c := range plan.Close {
		closed = append(closed, c.ID)
	}
	assert.Equal(t, []string{"2", "4", "5"}, closed)
}

func TestDiffClosesUnmanagedDuplicatesOnlyWhenAllowed(t *testing.T) {
	existing := []models.Ticket{
		ticket("1", "a", models.SeverityHigh, true),
		ticket("2", "a", models.SeverityHigh, false),
	}
	findings := []models.Finding{finding("a", models.SeverityHigh)}

	assert.True(t, Diff(findings, existing, true).Empty())
	assert.Equal(t, []string{"a"}, ticketFingerprints(Diff(findings, existing, false).Close))
}

func TestNeedsUpdateIgnoresLineEndings(t *testing.T) {
	tk := ticket("1", "a", models.SeverityHigh, true)
	tk.Description = "first line\nsecond line"

	f := finding("a", models.SeverityHigh)
	f.Description = "first line\r\nsecond line\r\n"
	assert.False(t, NeedsUpdate(tk, f))

	f.Description = "first line\nthird line"
	assert.True(t, NeedsUpdate(tk, f))
}

func TestDiffEmpty(t *testing.T) {
	assert.True(t, Diff(nil, nil, true).Empty())
	assert.False(t, Diff([]models.Finding{finding("a", models.SeverityLow)}, nil, true).Empty())
}
