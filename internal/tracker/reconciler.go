package tracker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/internal/metrics"
	"github.com/danielolaszy/scanglue/pkg/models"
)

const defaultConcurrency = 4

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	// Concurrency bounds the number of tracker calls in flight
	Concurrency int
	// RatePerSecond throttles tracker calls; zero disables throttling
	RatePerSecond float64
	// ManagedOnly restricts auto-close to tickets created by scanglue
	ManagedOnly bool
}

// Reconciler applies Plans to a Tracker.
type Reconciler struct {
	concurrency int
	limiter     *rate.Limiter
	managedOnly bool
}

// NewReconciler creates a Reconciler.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	r := &Reconciler{
		concurrency: opts.Concurrency,
		managedOnly: opts.ManagedOnly,
	}
	if r.concurrency <= 0 {
		r.concurrency = defaultConcurrency
	}
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return r
}

// Sync lists the open tickets of scope and reconciles findings against them.
// Only a failure to list is returned; per-ticket failures are reported in
// the result.
func (r *Reconciler) Sync(ctx context.Context, t Tracker, scope Scope, findings []models.Finding) (models.ReconciliationResult, error) {
	existing, err := t.ListOpenTickets(ctx, scope)
	if err != nil {
		metrics.TicketOperations.WithLabelValues("list", metrics.ResultError).Inc()
		return models.ReconciliationResult{}, fmt.Errorf("failed to list open tickets for %s: %w", scope.Key(), err)
	}
	metrics.TicketOperations.WithLabelValues("list", metrics.ResultSuccess).Inc()

	return r.Reconcile(ctx, t, scope, findings, existing), nil
}

// Reconcile computes the plan for findings and existing, then applies it.
// Independent operations run concurrently; a failing operation is recorded
// in Failures and never stops its siblings.
func (r *Reconciler) Reconcile(ctx context.Context, t Tracker, scope Scope, findings []models.Finding, existing []models.Ticket) models.ReconciliationResult {
	plan := Diff(findings, existing, r.managedOnly)

	logging.Info("reconciling tickets",
		"scope", scope.Key(),
		"findings", len(findings),
		"open_tickets", len(existing),
		"create", len(plan.Create),
		"update", len(plan.Update),
		"close", len(plan.Close))

	if plan.Empty() {
		return models.ReconciliationResult{}
	}

	created := make([]*models.Ticket, len(plan.Create))
	updated := make([]*models.Ticket, len(plan.Update))
	closed := make([]*models.Ticket, len(plan.Close))

	var (
		mu       sync.Mutex
		failures []models.TicketFailure
	)
	fail := func(fp string, op models.TicketOp, err error) {
		logging.Error("ticket operation failed",
			"scope", scope.Key(),
			"fingerprint", fp,
			"op", op,
			"error", err)
		metrics.TicketOperations.WithLabelValues(string(op), metrics.ResultError).Inc()
		mu.Lock()
		failures = append(failures, models.TicketFailure{Fingerprint: fp, Op: op, Err: err})
		mu.Unlock()
	}
	ok := func(op models.TicketOp) {
		metrics.TicketOperations.WithLabelValues(string(op), metrics.ResultSuccess).Inc()
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, f := range plan.Create {
		g.Go(func() error {
			if err := r.wait(ctx); err != nil {
				fail(f.Fingerprint, models.OpCreate, err)
				return nil
			}
			ticket, err := t.Create(ctx, scope, f)
			if err != nil {
				fail(f.Fingerprint, models.OpCreate, err)
				return nil
			}
			ok(models.OpCreate)
			created[i] = &ticket
			return nil
		})
	}

	for i, c := range plan.Update {
		g.Go(func() error {
			if err := r.wait(ctx); err != nil {
				fail(c.Finding.Fingerprint, models.OpUpdate, err)
				return nil
			}
			ticket, err := t.Update(ctx, scope, c.Ticket, c.Finding)
			if err != nil {
				fail(c.Finding.Fingerprint, models.OpUpdate, err)
				return nil
			}
			ok(models.OpUpdate)
			updated[i] = &ticket
			return nil
		})
	}

	for i, ticket := range plan.Close {
		g.Go(func() error {
			if err := r.wait(ctx); err != nil {
				fail(ticket.Fingerprint, models.OpClose, err)
				return nil
			}
			if err := t.Close(ctx, scope, ticket); err != nil {
				fail(ticket.Fingerprint, models.OpClose, err)
				return nil
			}
			ok(models.OpClose)
			ticket.Status = models.TicketClosed
			closed[i] = &ticket
			return nil
		})
	}

	_ = g.Wait()

	result := models.ReconciliationResult{
		Created:  compact(created),
		Updated:  compact(updated),
		Closed:   compact(closed),
		Failures: failures,
	}

	logging.Info("reconciliation finished",
		"scope", scope.Key(),
		"created", len(result.Created),
		"updated", len(result.Updated),
		"closed", len(result.Closed),
		"failed", len(result.Failures))

	return result
}

func (r *Reconciler) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

func compact(in []*models.Ticket) []models.Ticket {
	var out []models.Ticket
	for _, t := range in {
		if t != nil {
			out = append(out, *t)
		}
	}
	return out
}
