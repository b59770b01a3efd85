package tracker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/tracker"
	"github.com/danielolaszy/scanglue/internal/tracker/trackertest"
	"github.com/danielolaszy/scanglue/pkg/models"
)

var scope = tracker.Scope{Repository: "owner/repo", Branch: "main", CorrelationID: "run-1"}

func finding(fp string) models.Finding {
	return models.Finding{
		Category:    "Cat-" + fp,
		FilePath:    "src/" + fp + ".go",
		Line:        1,
		Severity:    models.SeverityHigh,
		Description: "finding " + fp,
		Fingerprint: fp,
	}
}

func openFingerprints(m *trackertest.Memory) []string {
	var out []string
	for _, t := range m.Open(scope) {
		out = append(out, t.Fingerprint)
	}
	return out
}

func TestSyncCreatesUpdatesAndCloses(t *testing.T) {
	mem := trackertest.NewMemory()
	mem.Seed(scope, finding("b"), true)
	mem.Seed(scope, finding("c"), true)
	mem.Seed(scope, finding("d"), true)

	r := tracker.NewReconciler(tracker.ReconcilerOptions{Concurrency: 2, ManagedOnly: true})
	result, err := r.Sync(context.Background(), mem, scope, []models.Finding{finding("a"), finding("b"), finding("c")})
	require.NoError(t, err)

	require.Len(t, result.Created, 1)
	assert.Equal(t, "a", result.Created[0].Fingerprint)
	assert.True(t, result.Created[0].Managed)
	assert.Empty(t, result.Updated)
	require.Len(t, result.Closed, 1)
	assert.Equal(t, "d", result.Closed[0].Fingerprint)
	assert.Equal(t, models.TicketClosed, result.Closed[0].Status)
	assert.Empty(t, result.Failures)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, openFingerprints(mem))
}

func TestSyncIsIdempotent(t *testing.T) {
	mem := trackertest.NewMemory()
	mem.Seed(scope, finding("old"), true)
	r := tracker.NewReconciler(tracker.ReconcilerOptions{ManagedOnly: true})

	changed := finding("b")
	changed.Severity = models.SeverityCritical
	findings := []models.Finding{finding("a"), changed}

	first, err := r.Sync(context.Background(), mem, scope, findings)
	require.NoError(t, err)
	assert.False(t, first.Empty())

	second, err := r.Sync(context.Background(), mem, scope, findings)
	require.NoError(t, err)
	assert.True(t, second.Empty())
	assert.Empty(t, second.Failures)
}

func TestSyncIsIdempotentForAwkwardDescriptions(t *testing.T) {
	testCases := []struct {
		name        string
		description string
	}{
		{name: "CRLF line endings", description: "line one\r\nline two"},
		{name: "Details header in description", description: "Scanner says:\n\n**Details**\nsink reached"},
		{name: "Surrounding whitespace", description: "\n  padded  \n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mem := trackertest.NewMemory()
			r := tracker.NewReconciler(tracker.ReconcilerOptions{ManagedOnly: true})
			f := finding("a")
			f.Description = tc.description

			first, err := r.Sync(context.Background(), mem, scope, []models.Finding{f})
			require.NoError(t, err)
			assert.Len(t, first.Created, 1)

			second, err := r.Sync(context.Background(), mem, scope, []models.Finding{f})
			require.NoError(t, err)
			assert.True(t, second.Empty(), "updated=%d", len(second.Updated))
			assert.Zero(t, mem.Updates)
		})
	}
}

func TestSyncClosesDuplicateTickets(t *testing.T) {
	mem := trackertest.NewMemory()
	kept := mem.Seed(scope, finding("a"), true)
	mem.Seed(scope, finding("a"), true)
	mem.Seed(scope, finding("gone"), true)
	mem.Seed(scope, finding("gone"), true)
	r := tracker.NewReconciler(tracker.ReconcilerOptions{ManagedOnly: true})

	first, err := r.Sync(context.Background(), mem, scope, []models.Finding{finding("a")})
	require.NoError(t, err)
	assert.Len(t, first.Closed, 3)
	require.Len(t, mem.Open(scope), 1)
	assert.Equal(t, kept.ID, mem.Open(scope)[0].ID)

	second, err := r.Sync(context.Background(), mem, scope, []models.Finding{finding("a")})
	require.NoError(t, err)
	assert.True(t, second.Empty())
}

func TestSyncUpdatesDriftedTickets(t *testing.T) {
	mem := trackertest.NewMemory()
	seeded := mem.Seed(scope, finding("a"), true)
	r := tracker.NewReconciler(tracker.ReconcilerOptions{ManagedOnly: true})

	changed := finding("a")
	changed.Severity = models.SeverityLow
	changed.Description = "reworded"

	result, err := r.Sync(context.Background(), mem, scope, []models.Finding{changed})
	require.NoError(t, err)

	require.Len(t, result.Updated, 1)
	assert.Equal(t, seeded.ID, result.Updated[0].ID)
	assert.Equal(t, models.SeverityLow, result.Updated[0].Severity)
	assert.Equal(t, "reworded", result.Updated[0].Description)
	assert.Equal(t, 1, mem.Updates)
}

func TestSyncPartialFailure(t *testing.T) {
	mem := trackertest.NewMemory()
	mem.Fail("b")
	r := tracker.NewReconciler(tracker.ReconcilerOptions{Concurrency: 3})

	result, err := r.Sync(context.Background(), mem, scope, []models.Finding{finding("a"), finding("b"), finding("c")})
	require.NoError(t, err)

	assert.Len(t, result.Created, 2)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "b", result.Failures[0].Fingerprint)
	assert.Equal(t, models.OpCreate, result.Failures[0].Op)
	assert.ErrorIs(t, result.Failures[0].Err, trackertest.ErrInjected)
	assert.ElementsMatch(t, []string{"a", "c"}, openFingerprints(mem))
}

func TestSyncLeavesUnmanagedTicketsOpen(t *testing.T) {
	mem := trackertest.NewMemory()
	mem.Seed(scope, finding("manual"), false)

	result, err := tracker.NewReconciler(tracker.ReconcilerOptions{ManagedOnly: true}).
		Sync(context.Background(), mem, scope, nil)
	require.NoError(t, err)

	assert.True(t, result.Empty())
	assert.Equal(t, []string{"manual"}, openFingerprints(mem))
}

func TestReconcileCancelledContext(t *testing.T) {
	mem := trackertest.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := tracker.NewReconciler(tracker.ReconcilerOptions{RatePerSecond: 1}).
		Reconcile(ctx, mem, scope, []models.Finding{finding("a")}, nil)

	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0].Err, context.Canceled)
	assert.Zero(t, mem.Mutations())
}

type failingLister struct{ *trackertest.Memory }

func (failingLister) ListOpenTickets(context.Context, tracker.Scope) ([]models.Ticket, error) {
	return nil, errors.New("unauthorized")
}

func TestSyncListFailure(t *testing.T) {
	mem := trackertest.NewMemory()
	_, err := tracker.NewReconciler(tracker.ReconcilerOptions{}).
		Sync(context.Background(), failingLister{mem}, scope, []models.Finding{finding("a")})

	assert.Error(t, err)
	assert.Zero(t, mem.Mutations())
}

func TestRegistry(t *testing.T) {
	registry := tracker.NewRegistry()
	mem := trackertest.NewMemory()
	registry.Register("GitHub", func(config.EffectiveConfig) (tracker.Tracker, error) { return mem, nil })

	assert.True(t, registry.Has("GitHub"))
	assert.True(t, registry.Has("github"))
	assert.False(t, registry.Has("Bugzilla"))
	assert.Equal(t, []string{"GitHub"}, registry.Names())

	_, err := registry.Lookup("Bugzilla")
	assert.ErrorIs(t, err, models.ErrUnknownBugTrackerBean)

	bt, err := models.NewBugTracker(models.BugTrackerCustom, "GitHub")
	require.NoError(t, err)
	got, err := registry.New(config.EffectiveConfig{BugTracker: bt})
	require.NoError(t, err)
	assert.Same(t, mem, got)

	got, err = registry.New(config.EffectiveConfig{BugTracker: models.BugTracker{Type: models.BugTrackerNone}})
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = registry.New(config.EffectiveConfig{BugTracker: models.BugTracker{Type: models.BugTrackerJira}})
	assert.ErrorIs(t, err, models.ErrUnknownBugTrackerBean)
}
