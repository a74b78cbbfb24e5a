package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by the synchronous helpers once the engine no
// longer accepts events.
var ErrStopped = errors.New("engine stopped")

// RuntimeErrorCode categorizes errors detected while processing events.
type RuntimeErrorCode string

const (
	// ErrCodeCommandFailed indicates a local command was rejected and its
	// transaction aborted.
	ErrCodeCommandFailed RuntimeErrorCode = "COMMAND_FAILED"

	// ErrCodeRemoteRejected indicates a remote transaction could not be
	// applied and was dropped.
	ErrCodeRemoteRejected RuntimeErrorCode = "REMOTE_REJECTED"

	// ErrCodeStaleResult indicates a code result arrived for a cell whose
	// code has changed since evaluation started.
	ErrCodeStaleResult RuntimeErrorCode = "STALE_RESULT"
)

// RuntimeError is an event-processing failure with enough context to find
// the transaction or cell involved.
type RuntimeError struct {
	Code    RuntimeErrorCode
	Message string

	// TxID identifies the transaction, when there is one.
	TxID string

	Err error
}

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.TxID != "" {
		msg += fmt.Sprintf(" (tx=%s)", e.TxID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// IsRemoteRejected reports whether err is a rejected remote transaction.
func IsRemoteRejected(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeRemoteRejected
}

// IsStaleResult reports whether err is a discarded stale code result.
func IsStaleResult(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeStaleResult
}
