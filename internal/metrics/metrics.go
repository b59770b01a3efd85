// Package metrics holds the Prometheus collectors of scanglue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Webhook metrics
var (
	// WebhooksTotal tracks inbound deliveries by admission result
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanglue_webhooks_total",
			Help: "Total number of webhook deliveries by admission result",
		},
		[]string{"result"},
	)

	// RunsInProgress tracks orchestration runs currently executing
	RunsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanglue_runs_in_progress",
			Help: "Number of orchestration runs currently in progress",
		},
	)
)

// Run metrics
var (
	// RunsTotal tracks finished runs by outcome code
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanglue_runs_total",
			Help: "Total number of orchestration runs by outcome",
		},
		[]string{"outcome"},
	)

	// ScanDuration tracks the time from scan submission to report
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanglue_scan_duration_seconds",
			Help:    "Scan duration in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)

	// TicketOperations tracks tracker calls by operation and result
	TicketOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanglue_tickets_total",
			Help: "Total number of tracker operations by operation and result",
		},
		[]string{"op", "result"},
	)

	// NotificationsTotal tracks notification deliveries by channel and result
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanglue_notifications_total",
			Help: "Total number of notifications by channel and result",
		},
		[]string{"channel", "result"},
	)
)
