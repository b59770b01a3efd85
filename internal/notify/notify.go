// Package notify reports the outcome of a run to pull requests and mail
// recipients.
package notify

import (
	"context"
	"time"

	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/internal/metrics"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// Outcome is everything a channel may report about one run.
type Outcome struct {
	Request  models.ScanRequest
	Findings []models.Finding
	Result   models.ReconciliationResult
	Duration time.Duration

	// Err is the error that aborted the run, nil when it completed
	Err error
}

// Failed reports whether the run was aborted.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Channel delivers an Outcome somewhere.
type Channel interface {
	Name() string
	Send(ctx context.Context, o Outcome) error
}

// Dispatcher fans an Outcome out to every configured channel.
type Dispatcher struct {
	channels []Channel
}

// NewDispatcher creates a Dispatcher. Nil channels are ignored.
func NewDispatcher(channels ...Channel) *Dispatcher {
	d := &Dispatcher{}
	for _, c := range channels {
		if c != nil {
			d.channels = append(d.channels, c)
		}
	}
	return d
}

// Channels returns the names of the configured channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	return names
}

// Notify sends o through every channel. Delivery failures are logged and
// counted; they never fail the run.
func (d *Dispatcher) Notify(ctx context.Context, o Outcome) {
	for _, c := range d.channels {
		if err := c.Send(ctx, o); err != nil {
			metrics.NotificationsTotal.WithLabelValues(c.Name(), metrics.ResultError).Inc()
			logging.Warn("notification failed",
				"channel", c.Name(),
				"correlation_id", o.Request.CorrelationID,
				"error", models.NewFlowError(models.StageNotification, err))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(c.Name(), metrics.ResultSuccess).Inc()
		logging.Debug("notification sent",
			"channel", c.Name(),
			"correlation_id", o.Request.CorrelationID)
	}
}
