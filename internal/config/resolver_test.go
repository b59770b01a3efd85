package config

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielolaszy/scanglue/pkg/models"
)

// MockFetcher implements RepositoryConfigFetcher for testing
type MockFetcher struct {
	FetchFunc func(repository, ref, path string) ([]byte, error)
	calls     int
}

func (m *MockFetcher) Fetch(_ context.Context, repository, ref, path string) ([]byte, error) {
	m.calls++
	if m.FetchFunc != nil {
		return m.FetchFunc(repository, ref, path)
	}
	return nil, ErrConfigNotFound
}

type beanSet map[string]bool

func (b beanSet) Has(name string) bool { return b[name] }

func staticConfig() Config {
	return Config{
		GitHub: GitHubConfig{ConfigAsCode: "cx.config.json"},
		Jira:   JiraConfig{Project: "SEC", IssueType: "Bug"},
		Flow: FlowConfig{
			Branches:   []string{"main"},
			BugTracker: "NONE",
			Team:       "\\CxServer\\SP",
			Emails:     []string{"sec@example.com"},
		},
	}
}

func TestResolveFallsBackWhenFileMissing(t *testing.T) {
	fetcher := &MockFetcher{}
	resolver := NewResolver(staticConfig(), beanSet{})

	eff, err := resolver.Resolve(context.Background(), Target{Repository: "o/r", Ref: "abc"}, Overrides{}, fetcher)
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.calls)
	assert.True(t, eff.Active)
	assert.Equal(t, models.BugTrackerNone, eff.BugTracker.Type)
	assert.Equal(t, []string{"main"}, eff.Branches)
	assert.Equal(t, "SEC", eff.JiraProject)
}

func TestResolveFetchErrorIsNonFatal(t *testing.T) {
	fetcher := &MockFetcher{FetchFunc: func(string, string, string) ([]byte, error) {
		return nil, errors.New("connection reset")
	}}
	resolver := NewResolver(staticConfig(), beanSet{})

	_, err := resolver.Resolve(context.Background(), Target{Repository: "o/r"}, Overrides{}, fetcher)
	assert.NoError(t, err)
}

func TestResolveConfigAsCodeCustomBean(t *testing.T) {
	fetcher := &MockFetcher{FetchFunc: func(repository, ref, path string) ([]byte, error) {
		assert.Equal(t, "cxflowtestuser/CxConfigTests", repository)
		assert.Equal(t, "udi-tests", ref)
		assert.Equal(t, "cx.config.json", path)
		return []byte(`{"bugTracker": {"type": "CUSTOM", "customBean": "GitHub"}, "severityThreshold": "High"}`), nil
	}}
	resolver := NewResolver(staticConfig(), beanSet{"GitHub": true})

	eff, err := resolver.Resolve(context.Background(),
		Target{Repository: "cxflowtestuser/CxConfigTests", Ref: "udi-tests"}, Overrides{}, fetcher)
	require.NoError(t, err)

	assert.Equal(t, models.BugTrackerCustom, eff.BugTracker.Type)
	assert.Equal(t, "GitHub", eff.BugTracker.CustomBean)
	assert.Equal(t, models.SeverityHigh, eff.SeverityThreshold)
	// fields absent from the file inherit the defaults
	assert.Equal(t, "\\CxServer\\SP", eff.Team)
	assert.Equal(t, []string{"sec@example.com"}, eff.Emails)
}

func TestResolveMergeOrder(t *testing.T) {
	routingTeam := "\\CxServer\\Routing"
	routingProject := "from-query"
	fileProject := "from-file"
	active := false

	fetcher := &MockFetcher{FetchFunc: func(string, string, string) ([]byte, error) {
		return []byte("project: " + fileProject + "\nactive: false\nbranches: [develop]\n"), nil
	}}
	resolver := NewResolver(staticConfig(), beanSet{})

	eff, err := resolver.Resolve(context.Background(), Target{Repository: "o/r"},
		Overrides{Team: &routingTeam, Project: &routingProject}, fetcher)
	require.NoError(t, err)

	assert.Equal(t, routingTeam, eff.Team)
	assert.Equal(t, fileProject, eff.Project)
	assert.Equal(t, active, eff.Active)
	assert.Equal(t, []string{"develop"}, eff.Branches)
}

func TestResolveMalformedConfigAsCode(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "Broken syntax", content: `{"bugTracker": `},
		{name: "Unknown field", content: "bugtraker: JIRA\n"},
		{name: "Invalid bug tracker invariant", content: "bugTracker: {type: JIRA, customBean: GitHub}\n"},
		{name: "Invalid severity", content: "severityThreshold: extreme\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &MockFetcher{FetchFunc: func(string, string, string) ([]byte, error) {
				return []byte(tt.content), nil
			}}
			resolver := NewResolver(staticConfig(), beanSet{"GitHub": true})

			_, err := resolver.Resolve(context.Background(), Target{Repository: "o/r"}, Overrides{}, fetcher)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrConfigParse)
			assert.Equal(t, models.StageConfig, models.StageOf(err))
		})
	}
}

func TestResolveUnknownBean(t *testing.T) {
	fetcher := &MockFetcher{FetchFunc: func(string, string, string) ([]byte, error) {
		return []byte("bugTracker:\n  type: CUSTOM\n  customBean: Bugzilla\n"), nil
	}}
	resolver := NewResolver(staticConfig(), beanSet{"GitHub": true})

	_, err := resolver.Resolve(context.Background(), Target{Repository: "o/r"}, Overrides{}, fetcher)
	assert.ErrorIs(t, err, models.ErrUnknownBugTrackerBean)
}

func TestResolveBuiltInTypeNeedsRegisteredBean(t *testing.T) {
	resolver := NewResolver(staticConfig().WithBugTracker("JIRA"), beanSet{})
	_, err := resolver.Resolve(context.Background(), Target{Repository: "o/r"}, Overrides{}, nil)
	assert.ErrorIs(t, err, models.ErrUnknownBugTrackerBean)

	resolver = NewResolver(staticConfig().WithBugTracker("JIRA"), beanSet{"Jira": true})
	eff, err := resolver.Resolve(context.Background(), Target{Repository: "o/r"}, Overrides{}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.BugTrackerJira, eff.BugTracker.Type)
}

func TestResolveSkipsFetchWithoutPath(t *testing.T) {
	static := staticConfig()
	static.GitHub.ConfigAsCode = ""
	fetcher := &MockFetcher{}

	_, err := NewResolver(static, beanSet{}).Resolve(context.Background(), Target{Repository: "o/r"}, Overrides{}, fetcher)
	require.NoError(t, err)
	assert.Equal(t, 0, fetcher.calls)
}

func TestOverridesApplyDoesNotAlias(t *testing.T) {
	base := EffectiveConfig{Branches: []string{"main"}}
	out, err := Overrides{}.Apply(base)
	require.NoError(t, err)

	out.Branches[0] = "changed"
	assert.Equal(t, "main", base.Branches[0])
	assert.True(t, Overrides{}.IsZero())
}

func TestParseConfigAsCodeEmpty(t *testing.T) {
	o, err := ParseConfigAsCode([]byte("  \n"))
	require.NoError(t, err)
	assert.True(t, o.IsZero())
}
