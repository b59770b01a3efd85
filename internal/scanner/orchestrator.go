package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/pkg/models"
)

const defaultPollInterval = 10 * time.Second

// Orchestrator submits scans, waits for their completion and serializes
// runs that target the same repository and branch.
type Orchestrator struct {
	client       Client
	pollInterval time.Duration
	policy       string

	mu    sync.Mutex
	locks map[string]*scopeLock
}

type scopeLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewOrchestrator creates an Orchestrator. policy is config.PolicyQueue or
// config.PolicyReject.
func NewOrchestrator(client Client, pollInterval time.Duration, policy string) *Orchestrator {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if policy == "" {
		policy = config.PolicyQueue
	}
	return &Orchestrator{
		client:       client,
		pollInterval: pollInterval,
		policy:       policy,
		locks:        make(map[string]*scopeLock),
	}
}

// Acquire takes the per-scope lock. With the queue policy it blocks until
// the running job for key finishes or ctx is done; with the reject policy it
// fails immediately with ErrScanAlreadyInProgress. The returned release
// function is safe to call more than once.
func (o *Orchestrator) Acquire(ctx context.Context, key string) (func(), error) {
	o.mu.Lock()
	l, ok := o.locks[key]
	if !ok {
		l = &scopeLock{sem: semaphore.NewWeighted(1)}
		o.locks[key] = l
	}
	l.refs++
	o.mu.Unlock()

	var err error
	switch {
	case l.sem.TryAcquire(1):
	case o.policy == config.PolicyReject:
		err = fmt.Errorf("%w: %s", models.ErrScanAlreadyInProgress, key)
	default:
		logging.Info("scan already running for scope, queueing", "scope", key)
		err = l.sem.Acquire(ctx, 1)
	}
	if err != nil {
		o.unref(key, l)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.sem.Release(1)
			o.unref(key, l)
		})
	}, nil
}

func (o *Orchestrator) unref(key string, l *scopeLock) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(o.locks, key)
	}
}

// Submit starts a scan for req.
func (o *Orchestrator) Submit(ctx context.Context, req models.ScanRequest) (Handle, error) {
	handle, err := o.client.Submit(ctx, req)
	if err != nil {
		if !errors.Is(err, models.ErrScanFailed) {
			err = fmt.Errorf("%w: %v", models.ErrScanFailed, err)
		}
		return Handle{}, err
	}
	logging.Info("scan submitted",
		"scan_id", handle.ID,
		"repository", req.Repository,
		"branch", req.Branch)
	return handle, nil
}

// Await polls the scan until it completes and returns the raw report. When
// timeout elapses first it returns ErrScanTimeout; cancellation of ctx is
// returned as ctx.Err().
func (o *Orchestrator) Await(ctx context.Context, handle Handle, timeout time.Duration) ([]byte, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		status, err := o.client.Poll(waitCtx, handle)
		switch {
		case err != nil && waitCtx.Err() == nil:
			if !errors.Is(err, models.ErrScanFailed) {
				err = fmt.Errorf("%w: %v", models.ErrScanFailed, err)
			}
			return nil, err
		case err == nil && status.State == StateDone:
			return status.Report, nil
		case err == nil && status.State == StateFailed:
			return nil, fmt.Errorf("%w: scan %s: %s", models.ErrScanFailed, handle.ID, status.Message)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: scan %s did not finish within %s", models.ErrScanTimeout, handle.ID, timeout)
		case <-ticker.C:
			logging.Debug("scan still running", "scan_id", handle.ID)
		}
	}
}
