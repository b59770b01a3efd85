// Package flow drives one orchestration run from an admitted event to its
// notification.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danielolaszy/scanglue/internal/admission"
	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/internal/metrics"
	"github.com/danielolaszy/scanglue/internal/normalize"
	"github.com/danielolaszy/scanglue/internal/notify"
	"github.com/danielolaszy/scanglue/internal/scanner"
	"github.com/danielolaszy/scanglue/internal/tracker"
	"github.com/danielolaszy/scanglue/pkg/models"
)

const defaultScanTimeout = 30 * time.Minute

// Options wires the collaborators of a Service.
type Options struct {
	Resolver     *config.Resolver
	Fetcher      config.RepositoryConfigFetcher
	Orchestrator *scanner.Orchestrator
	Registry     *tracker.Registry
	Reconciler   *tracker.Reconciler
	Dispatcher   *notify.Dispatcher
	ScanTimeout  time.Duration
}

// Service runs the pipeline. Runs started with Trigger execute in their own
// goroutine and are tracked until Shutdown.
type Service struct {
	resolver     *config.Resolver
	fetcher      config.RepositoryConfigFetcher
	orchestrator *scanner.Orchestrator
	registry     *tracker.Registry
	reconciler   *tracker.Reconciler
	dispatcher   *notify.Dispatcher
	scanTimeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		resolver:     opts.Resolver,
		fetcher:      opts.Fetcher,
		orchestrator: opts.Orchestrator,
		registry:     opts.Registry,
		reconciler:   opts.Reconciler,
		dispatcher:   opts.Dispatcher,
		scanTimeout:  opts.ScanTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	if s.scanTimeout <= 0 {
		s.scanTimeout = defaultScanTimeout
	}
	if s.reconciler == nil {
		s.reconciler = tracker.NewReconciler(tracker.ReconcilerOptions{})
	}
	if s.dispatcher == nil {
		s.dispatcher = notify.NewDispatcher()
	}
	return s
}

// Trigger starts a run for d in the background and returns its correlation
// id. The caller never observes the outcome.
func (s *Service) Trigger(d admission.Draft) string {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.Run(s.ctx, d)
	}()
	return d.CorrelationID
}

// Shutdown waits for triggered runs to finish. When ctx expires first the
// remaining runs are cancelled and Shutdown returns ctx's error.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Run executes the pipeline for d: resolve, scan, normalize, reconcile and
// notify, strictly in that order. The returned error is the one that
// aborted the run; per-ticket failures are reported in the outcome instead.
func (s *Service) Run(ctx context.Context, d admission.Draft) (notify.Outcome, error) {
	start := time.Now()
	log := logging.With(
		"correlation_id", d.CorrelationID,
		"repository", d.Repository,
		"branch", d.Branch)

	metrics.RunsInProgress.Inc()
	defer metrics.RunsInProgress.Dec()

	outcome := notify.Outcome{Request: models.ScanRequest{
		CorrelationID: d.CorrelationID,
		Repository:    d.Repository,
		Branch:        d.Branch,
		Ref:           d.Ref,
		PullRequest:   d.PullRequest,
	}}

	err := s.run(ctx, d, &outcome)
	outcome.Duration = time.Since(start)
	outcome.Err = err

	switch {
	case errors.Is(err, models.ErrScanDisabled), errors.Is(err, models.ErrBranchNotAllowed):
		metrics.RunsTotal.WithLabelValues(models.ErrorCode(err)).Inc()
		log.Info("run skipped", "reason", models.ErrorCode(err))
		return outcome, err
	case err != nil:
		metrics.RunsTotal.WithLabelValues(models.ErrorCode(err)).Inc()
		log.Error("run failed",
			"stage", models.StageOf(err),
			"code", models.ErrorCode(err),
			"error", err,
			"duration", outcome.Duration)
	default:
		metrics.RunsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
		log.Info("run completed",
			"findings", len(outcome.Findings),
			"created", len(outcome.Result.Created),
			"updated", len(outcome.Result.Updated),
			"closed", len(outcome.Result.Closed),
			"failed", len(outcome.Result.Failures),
			"duration", outcome.Duration)
	}

	s.dispatcher.Notify(context.WithoutCancel(ctx), outcome)
	return outcome, err
}

func (s *Service) run(ctx context.Context, d admission.Draft, outcome *notify.Outcome) error {
	ref := d.Ref
	if ref == "" {
		ref = d.Branch
	}
	eff, err := s.resolver.Resolve(ctx, config.Target{Repository: d.Repository, Ref: ref}, d.Overrides, s.fetcher)
	if err != nil {
		return err
	}

	if !eff.Active {
		return models.NewFlowError(models.StageConfig, models.ErrScanDisabled)
	}
	if !admission.BranchAllowed(gateBranch(d), eff.Branches) {
		return models.NewFlowError(models.StageConfig,
			fmt.Errorf("%w: %s", models.ErrBranchNotAllowed, gateBranch(d)))
	}

	req := NewScanRequest(d, eff)
	outcome.Request = req

	// The tracker is built before the scan so a misconfigured tracker does
	// not cost a scan.
	t, err := s.registry.New(eff)
	if err != nil {
		return models.NewFlowError(models.StageConfig, err)
	}

	// One run per (repository, branch) from submit to the last ticket
	// operation, so concurrent runs never reconcile the same ticket set.
	release, err := s.orchestrator.Acquire(ctx, req.ScopeKey())
	if err != nil {
		return models.NewFlowError(models.StageScan, err)
	}
	defer release()

	findings, err := s.scan(ctx, req)
	if err != nil {
		return err
	}
	outcome.Findings = findings

	if t == nil {
		logging.Debug("no tracker selected, skipping reconciliation",
			"correlation_id", req.CorrelationID,
			"bug_tracker", req.BugTracker.String())
		return nil
	}

	scope := tracker.ScopeFromRequest(req, TrackerProject(eff))
	result, err := s.reconciler.Sync(ctx, t, scope, findings)
	if err != nil {
		return models.NewFlowError(models.StageReconciliation, err)
	}
	outcome.Result = result
	return nil
}

// scan submits req, waits for the report and returns the normalized
// findings. The caller holds the scope lock.
func (s *Service) scan(ctx context.Context, req models.ScanRequest) ([]models.Finding, error) {
	started := time.Now()
	handle, err := s.orchestrator.Submit(ctx, req)
	if err != nil {
		return nil, models.NewFlowError(models.StageScan, err)
	}

	report, err := s.orchestrator.Await(ctx, handle, s.scanTimeout)
	if err != nil {
		return nil, models.NewFlowError(models.StageScan, err)
	}
	metrics.ScanDuration.Observe(time.Since(started).Seconds())

	findings, err := normalize.New(req.SeverityThreshold).Normalize(report)
	if err != nil {
		return nil, models.NewFlowError(models.StageScan, fmt.Errorf("%w: %v", models.ErrScanFailed, err))
	}
	return findings, nil
}
