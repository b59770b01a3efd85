// Package scanner submits scans to the external SAST engine and waits for
// their reports.
package scanner

import (
	"context"

	"github.com/danielolaszy/scanglue/pkg/models"
)

// State is the lifecycle state of a submitted scan.
type State string

const (
	StateRunning State = "RUNNING"
	StateDone    State = "DONE"
	StateFailed  State = "FAILED"
)

// Handle identifies a submitted scan.
type Handle struct {
	ID string
	// ScopeKey is the (repository, branch) key of the request
	ScopeKey string
}

// Status is one observation of a running scan.
type Status struct {
	State State
	// Report is the raw scanner report, set once State is StateDone
	Report []byte
	// Message carries the scanner's explanation of a failure
	Message string
}

// Client talks to the scanning engine.
type Client interface {
	Submit(ctx context.Context, req models.ScanRequest) (Handle, error)
	Poll(ctx context.Context, handle Handle) (Status, error)
}
