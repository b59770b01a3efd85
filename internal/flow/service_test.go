package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielolaszy/scanglue/internal/admission"
	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/notify"
	"github.com/danielolaszy/scanglue/internal/scanner"
	"github.com/danielolaszy/scanglue/internal/tracker"
	"github.com/danielolaszy/scanglue/internal/tracker/trackertest"
	"github.com/danielolaszy/scanglue/pkg/models"
)

const report = `{"scanner":"sast","findings":[
	{"category":"SQL_Injection","file":"src/db.go","line":12,"severity":"high","description":"unsanitized input"},
	{"category":"XSS","file":"web/index.go","line":4,"severity":"medium","description":"reflected"}
]}`

// MockScanner implements scanner.Client for testing
type MockScanner struct {
	SubmitFunc func(ctx context.Context, req models.ScanRequest) (scanner.Handle, error)
	PollFunc   func(ctx context.Context, handle scanner.Handle) (scanner.Status, error)
	submits    atomic.Int32
}

func (m *MockScanner) Submit(ctx context.Context, req models.ScanRequest) (scanner.Handle, error) {
	m.submits.Add(1)
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	return scanner.Handle{ID: "scan-1", ScopeKey: req.ScopeKey()}, nil
}

func (m *MockScanner) Poll(ctx context.Context, handle scanner.Handle) (scanner.Status, error) {
	if m.PollFunc != nil {
		return m.PollFunc(ctx, handle)
	}
	return scanner.Status{State: scanner.StateDone, Report: []byte(report)}, nil
}

// MockFetcher implements config.RepositoryConfigFetcher for testing
type MockFetcher struct {
	FetchFunc func(repository, ref, path string) ([]byte, error)
}

func (m *MockFetcher) Fetch(_ context.Context, repository, ref, path string) ([]byte, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(repository, ref, path)
	}
	return nil, config.ErrConfigNotFound
}

type recordingChannel struct {
	mu       sync.Mutex
	outcomes []notify.Outcome
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Send(_ context.Context, o notify.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
	return nil
}

func (c *recordingChannel) sent() []notify.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Outcome(nil), c.outcomes...)
}

type harness struct {
	service  *Service
	scanner  *MockScanner
	tracker  *trackertest.Memory
	channel  *recordingChannel
	registry *tracker.Registry
}

func newHarness(t *testing.T, static config.Config, fetcher config.RepositoryConfigFetcher, client *MockScanner, timeout time.Duration) *harness {
	t.Helper()
	if static.Flow.BugTracker == "" {
		static.Flow.BugTracker = "NONE"
	}
	if client == nil {
		client = &MockScanner{}
	}

	mem := trackertest.NewMemory()
	registry := tracker.NewRegistry()
	factory := func(config.EffectiveConfig) (tracker.Tracker, error) { return mem, nil }
	registry.Register("Jira", factory)
	registry.Register("GitHub", factory)

	channel := &recordingChannel{}
	service := NewService(Options{
		Resolver:     config.NewResolver(static, registry),
		Fetcher:      fetcher,
		Orchestrator: scanner.NewOrchestrator(client, 5*time.Millisecond, static.Flow.DuplicatePolicy),
		Registry:     registry,
		Reconciler:   tracker.NewReconciler(tracker.ReconcilerOptions{Concurrency: 2}),
		Dispatcher:   notify.NewDispatcher(channel),
		ScanTimeout:  timeout,
	})
	t.Cleanup(func() { _ = service.Shutdown(context.Background()) })

	return &harness{service: service, scanner: client, tracker: mem, channel: channel, registry: registry}
}

func pullRequestDraft() admission.Draft {
	return admission.Draft{
		CorrelationID: "delivery-1",
		Event:         admission.EventPullRequest,
		Action:        "opened",
		Repository:    "octo/app",
		Namespace:     "octo",
		RepoName:      "app",
		CloneURL:      "https://github.com/octo/app.git",
		Branch:        "udi-tests",
		TargetBranch:  "main",
		Ref:           "0123abcd",
		PullRequest:   3,
	}
}

func TestRunConfigAsCodeCustomBean(t *testing.T) {
	static := config.Config{
		GitHub: config.GitHubConfig{ConfigAsCode: ".scanglue.yml"},
		Flow:   config.FlowConfig{BugTracker: "JIRA", Branches: []string{"main"}},
	}
	fetcher := &MockFetcher{FetchFunc: func(repository, ref, path string) ([]byte, error) {
		assert.Equal(t, "octo/app", repository)
		assert.Equal(t, "0123abcd", ref)
		assert.Equal(t, ".scanglue.yml", path)
		return []byte("bugTracker:\n  type: CUSTOM\n  customBean: GitHub\n"), nil
	}}

	var submitted models.ScanRequest
	client := &MockScanner{SubmitFunc: func(_ context.Context, req models.ScanRequest) (scanner.Handle, error) {
		submitted = req
		return scanner.Handle{ID: "scan-7", ScopeKey: req.ScopeKey()}, nil
	}}
	h := newHarness(t, static, fetcher, client, time.Second)

	outcome, err := h.service.Run(context.Background(), pullRequestDraft())
	require.NoError(t, err)

	assert.Equal(t, models.BugTrackerCustom, submitted.BugTracker.Type)
	assert.Equal(t, "GitHub", submitted.BugTracker.CustomBean)
	assert.Equal(t, "udi-tests", submitted.Branch)
	assert.Equal(t, "delivery-1", submitted.CorrelationID)

	assert.Len(t, outcome.Findings, 2)
	assert.Len(t, outcome.Result.Created, 2)
	assert.Equal(t, 2, h.tracker.Creates)

	sent := h.channel.sent()
	require.Len(t, sent, 1)
	assert.NoError(t, sent[0].Err)
	assert.Equal(t, submitted.BugTracker, sent[0].Request.BugTracker)
}

func TestRunConfigAsCodeWidensBranches(t *testing.T) {
	static := config.Config{
		GitHub: config.GitHubConfig{ConfigAsCode: ".scanglue.yml"},
		Flow:   config.FlowConfig{BugTracker: "JIRA", Branches: []string{"main"}},
	}
	fetcher := &MockFetcher{FetchFunc: func(string, string, string) ([]byte, error) {
		return []byte("branches:\n  - main\n  - release/*\n"), nil
	}}
	h := newHarness(t, static, fetcher, nil, time.Second)

	d := pullRequestDraft()
	d.TargetBranch = "release/3"
	_, err := h.service.Run(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.scanner.submits.Load())

	d.TargetBranch = "develop"
	_, err = h.service.Run(context.Background(), d)
	assert.ErrorIs(t, err, models.ErrBranchNotAllowed)
	assert.Equal(t, int32(1), h.scanner.submits.Load())
}

func TestRunIsIdempotent(t *testing.T) {
	static := config.Config{Flow: config.FlowConfig{BugTracker: "JIRA"}}
	h := newHarness(t, static, nil, nil, time.Second)

	_, err := h.service.Run(context.Background(), pullRequestDraft())
	require.NoError(t, err)

	outcome, err := h.service.Run(context.Background(), pullRequestDraft())
	require.NoError(t, err)
	assert.True(t, outcome.Result.Empty())
	assert.Equal(t, 2, h.tracker.Creates)
}

func TestRunTimeoutSkipsReconciliation(t *testing.T) {
	client := &MockScanner{PollFunc: func(context.Context, scanner.Handle) (scanner.Status, error) {
		return scanner.Status{State: scanner.StateRunning}, nil
	}}
	h := newHarness(t, config.Config{Flow: config.FlowConfig{BugTracker: "JIRA"}}, nil, client, 30*time.Millisecond)

	outcome, err := h.service.Run(context.Background(), pullRequestDraft())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrScanTimeout)
	assert.Equal(t, models.StageScan, models.StageOf(err))

	assert.Zero(t, h.tracker.Mutations())
	assert.Zero(t, h.tracker.Lists)
	assert.Empty(t, outcome.Findings)

	sent := h.channel.sent()
	require.Len(t, sent, 1)
	assert.ErrorIs(t, sent[0].Err, models.ErrScanTimeout)
}

func TestRunSingleFlight(t *testing.T) {
	var active, maxActive atomic.Int32
	client := &MockScanner{}
	client.SubmitFunc = func(_ context.Context, req models.ScanRequest) (scanner.Handle, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		return scanner.Handle{ID: req.CorrelationID, ScopeKey: req.ScopeKey()}, nil
	}
	var polls sync.Map
	client.PollFunc = func(_ context.Context, handle scanner.Handle) (scanner.Status, error) {
		v, _ := polls.LoadOrStore(handle.ID, new(atomic.Int32))
		if v.(*atomic.Int32).Add(1) < 3 {
			return scanner.Status{State: scanner.StateRunning}, nil
		}
		active.Add(-1)
		return scanner.Status{State: scanner.StateDone, Report: []byte(report)}, nil
	}
	h := newHarness(t, config.Config{}, nil, client, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := pullRequestDraft()
			d.CorrelationID = fmt.Sprintf("delivery-%d", i)
			_, err := h.service.Run(context.Background(), d)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), h.scanner.submits.Load())
	assert.Equal(t, int32(1), maxActive.Load())
}

// slowLister delays listing so that overlapping reconciliations would both
// see an empty ticket set.
type slowLister struct {
	*trackertest.Memory
	delay time.Duration
}

func (s slowLister) ListOpenTickets(ctx context.Context, scope tracker.Scope) ([]models.Ticket, error) {
	time.Sleep(s.delay)
	return s.Memory.ListOpenTickets(ctx, scope)
}

func TestRunSingleFlightCoversReconciliation(t *testing.T) {
	h := newHarness(t, config.Config{Flow: config.FlowConfig{BugTracker: "JIRA"}}, nil, nil, time.Second)
	h.registry.Register("Jira", func(config.EffectiveConfig) (tracker.Tracker, error) {
		return slowLister{Memory: h.tracker, delay: 50 * time.Millisecond}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := pullRequestDraft()
			d.CorrelationID = fmt.Sprintf("delivery-%d", i)
			_, err := h.service.Run(context.Background(), d)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, h.tracker.Creates)
	assert.Len(t, h.tracker.Open(tracker.Scope{Repository: "octo/app", Branch: "udi-tests"}), 2)
}

func TestRunRejectsDuplicate(t *testing.T) {
	release := make(chan struct{})
	client := &MockScanner{PollFunc: func(ctx context.Context, _ scanner.Handle) (scanner.Status, error) {
		select {
		case <-release:
			return scanner.Status{State: scanner.StateDone, Report: []byte(report)}, nil
		default:
			return scanner.Status{State: scanner.StateRunning}, nil
		}
	}}
	static := config.Config{Flow: config.FlowConfig{DuplicatePolicy: config.PolicyReject}}
	h := newHarness(t, static, nil, client, time.Second)

	first := make(chan error, 1)
	go func() {
		_, err := h.service.Run(context.Background(), pullRequestDraft())
		first <- err
	}()

	require.Eventually(t, func() bool { return h.scanner.submits.Load() == 1 }, time.Second, time.Millisecond)

	_, err := h.service.Run(context.Background(), pullRequestDraft())
	assert.ErrorIs(t, err, models.ErrScanAlreadyInProgress)

	close(release)
	assert.NoError(t, <-first)
	assert.Equal(t, int32(1), h.scanner.submits.Load())
}

func TestRunAbortsBeforeScan(t *testing.T) {
	testCases := []struct {
		name     string
		file     string
		static   config.Config
		wantErr  error
		notified bool
	}{
		{
			name:     "Malformed config-as-code",
			file:     "bugTracker: [unclosed",
			wantErr:  models.ErrConfigParse,
			notified: true,
		},
		{
			name:     "Unknown custom bean",
			file:     "bugTracker:\n  type: CUSTOM\n  customBean: Bugzilla\n",
			wantErr:  models.ErrUnknownBugTrackerBean,
			notified: true,
		},
		{
			name:    "Repository disabled",
			file:    "active: false\n",
			wantErr: models.ErrScanDisabled,
		},
		{
			name:    "Branch removed from allow-list",
			file:    "branches: [release/*]\n",
			wantErr: models.ErrBranchNotAllowed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			static := tc.static
			static.GitHub.ConfigAsCode = ".scanglue.yml"
			fetcher := &MockFetcher{FetchFunc: func(string, string, string) ([]byte, error) {
				return []byte(tc.file), nil
			}}
			h := newHarness(t, static, fetcher, nil, time.Second)

			_, err := h.service.Run(context.Background(), pullRequestDraft())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, models.StageConfig, models.StageOf(err))
			assert.Zero(t, h.scanner.submits.Load())
			assert.Equal(t, tc.notified, len(h.channel.sent()) == 1)
		})
	}
}

func TestRunTrackerFactoryFailure(t *testing.T) {
	h := newHarness(t, config.Config{Flow: config.FlowConfig{BugTracker: "TRELLO"}}, nil, nil, time.Second)
	h.registry.Register("Trello", func(config.EffectiveConfig) (tracker.Tracker, error) {
		return nil, errors.New("trello board is not configured")
	})

	_, err := h.service.Run(context.Background(), pullRequestDraft())
	require.Error(t, err)
	assert.ErrorContains(t, err, "trello board is not configured")
	assert.Zero(t, h.scanner.submits.Load())
}

func TestRunWithoutTracker(t *testing.T) {
	h := newHarness(t, config.Config{Flow: config.FlowConfig{BugTracker: "NONE"}}, nil, nil, time.Second)

	outcome, err := h.service.Run(context.Background(), pullRequestDraft())
	require.NoError(t, err)
	assert.Len(t, outcome.Findings, 2)
	assert.True(t, outcome.Result.Empty())
	assert.Zero(t, h.tracker.Lists)
	assert.Len(t, h.channel.sent(), 1)
}

func TestRunScanFailure(t *testing.T) {
	testCases := []struct {
		name   string
		client *MockScanner
	}{
		{
			name: "Scanner reports failure",
			client: &MockScanner{PollFunc: func(context.Context, scanner.Handle) (scanner.Status, error) {
				return scanner.Status{State: scanner.StateFailed, Message: "clone failed"}, nil
			}},
		},
		{
			name: "Submit rejected",
			client: &MockScanner{SubmitFunc: func(context.Context, models.ScanRequest) (scanner.Handle, error) {
				return scanner.Handle{}, errors.New("503 service unavailable")
			}},
		},
		{
			name: "Malformed report",
			client: &MockScanner{PollFunc: func(context.Context, scanner.Handle) (scanner.Status, error) {
				return scanner.Status{State: scanner.StateDone, Report: []byte("<html>")}, nil
			}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, config.Config{Flow: config.FlowConfig{BugTracker: "JIRA"}}, nil, tc.client, time.Second)

			_, err := h.service.Run(context.Background(), pullRequestDraft())
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrScanFailed)
			assert.Zero(t, h.tracker.Mutations())

			sent := h.channel.sent()
			require.Len(t, sent, 1)
			assert.Equal(t, "ScanFailed", models.ErrorCode(sent[0].Err))
		})
	}
}

func TestTriggerAndShutdown(t *testing.T) {
	h := newHarness(t, config.Config{Flow: config.FlowConfig{BugTracker: "JIRA"}}, nil, nil, time.Second)

	id := h.service.Trigger(pullRequestDraft())
	assert.Equal(t, "delivery-1", id)

	require.NoError(t, h.service.Shutdown(context.Background()))
	assert.Len(t, h.channel.sent(), 1)
	assert.Equal(t, 2, h.tracker.Creates)
}

func TestShutdownCancelsRuns(t *testing.T) {
	client := &MockScanner{PollFunc: func(context.Context, scanner.Handle) (scanner.Status, error) {
		return scanner.Status{State: scanner.StateRunning}, nil
	}}
	h := newHarness(t, config.Config{}, nil, client, time.Hour)

	h.service.Trigger(pullRequestDraft())
	require.Eventually(t, func() bool { return h.scanner.submits.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.service.Shutdown(ctx), context.DeadlineExceeded)
}

func TestNewScanRequestCopiesSlices(t *testing.T) {
	eff := config.EffectiveConfig{
		Team:     "/CxServer/SP",
		Branches: []string{"main"},
		Emails:   []string{"a@example.com"},
	}
	req := NewScanRequest(pullRequestDraft(), eff)

	eff.Branches[0] = "mutated"
	eff.Emails[0] = "mutated"

	assert.Equal(t, []string{"main"}, req.Branches)
	assert.Equal(t, []string{"a@example.com"}, req.Emails)
	assert.Equal(t, "/CxServer/SP", req.Team)
	assert.Equal(t, 3, req.PullRequest)
}
