package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRoleNotFound means the ledger has no role with the given ID.
	ErrRoleNotFound = errors.New("role not found")

	// ErrAlreadyInProgress means an execution attempt for the role is
	// already in flight. The second caller is rejected, never queued.
	ErrAlreadyInProgress = errors.New("execution already in progress")

	// ErrMonitorStopped means the monitor was torn down and accepts no
	// further operations.
	ErrMonitorStopped = errors.New("monitor stopped")
)

// RemoteError wraps a transient ledger/transport failure. Retryable by
// construction: the next poll tick simply tries again.
type RemoteError struct {
	Op         string
	RetryAfter time.Duration // 0 = no hint
	Err        error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote unavailable: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsRemote reports whether err is (or wraps) a RemoteError.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// RejectReason classifies why the ledger refused an execution.
type RejectReason string

const (
	// RejectAlreadyExecuted: someone else won the readiness window. An
	// expected outcome under permissionless execution, not a failure.
	RejectAlreadyExecuted RejectReason = "already_executed"

	RejectInsufficientBalance RejectReason = "insufficient_balance"
	RejectRoleInactive        RejectReason = "role_inactive"
	RejectOther               RejectReason = "rejected"
)

// RejectedError is a definitive ledger rejection of a submitted execution.
type RejectedError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// AsRejected extracts a RejectedError from err, or nil.
func AsRejected(err error) *RejectedError {
	var re *RejectedError
	if errors.As(err, &re) {
		return re
	}
	return nil
}
