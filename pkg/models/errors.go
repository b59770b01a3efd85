package models

import (
	"errors"
	"fmt"
)

// Stage names the pipeline stage an error originated in.
type Stage string

const (
	StageAdmission      Stage = "admission"
	StageConfig         Stage = "config"
	StageScan           Stage = "scan"
	StageReconciliation Stage = "reconciliation"
	StageNotification   Stage = "notification"
)

// Pipeline errors.
var (
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrBranchNotAllowed      = errors.New("branch not allowed")
	ErrUnsupportedEvent      = errors.New("unsupported event")
	ErrMalformedPayload      = errors.New("malformed payload")
	ErrConfigParse           = errors.New("config-as-code parse error")
	ErrUnknownBugTrackerBean = errors.New("unknown bug tracker bean")
	ErrScanFailed            = errors.New("scan failed")
	ErrScanTimeout           = errors.New("scan timed out")
	ErrScanAlreadyInProgress = errors.New("scan already in progress")
	ErrScanDisabled          = errors.New("scanning disabled for repository")
)

// FlowError attaches a pipeline stage and a stable code to an error.
type FlowError struct {
	Stage Stage
	Code  string
	Err   error
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Code, e.Err)
}

// Unwrap returns the underlying error.
func (e *FlowError) Unwrap() error {
	return e.Err
}

// NewFlowError creates a FlowError. The code defaults to the stable name of
// the wrapped sentinel when one is found.
func NewFlowError(stage Stage, err error) *FlowError {
	return &FlowError{Stage: stage, Code: ErrorCode(err), Err: err}
}

// ErrorCode maps known sentinels to the reason codes used on the wire.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return "InvalidSignature"
	case errors.Is(err, ErrBranchNotAllowed):
		return "BranchNotAllowed"
	case errors.Is(err, ErrUnsupportedEvent):
		return "UnsupportedEvent"
	case errors.Is(err, ErrMalformedPayload):
		return "MalformedPayload"
	case errors.Is(err, ErrConfigParse):
		return "ConfigParseError"
	case errors.Is(err, ErrUnknownBugTrackerBean):
		return "UnknownBugTrackerBean"
	case errors.Is(err, ErrScanTimeout):
		return "ScanTimeout"
	case errors.Is(err, ErrScanAlreadyInProgress):
		return "ScanAlreadyInProgress"
	case errors.Is(err, ErrScanDisabled):
		return "ScanDisabled"
	case errors.Is(err, ErrScanFailed):
		return "ScanFailed"
	default:
		return "InternalError"
	}
}

// StageOf returns the stage recorded on err, or an empty stage.
func StageOf(err error) Stage {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Stage
	}
	return ""
}
