package events

import "time"

const (
	// KindOperationFailed identifies a rejected or misused engine operation.
	KindOperationFailed Kind = "operation.failed"
	// KindOperationTimedOut identifies an engine operation that got stuck.
	KindOperationTimedOut Kind = "operation.timed_out"
)

// OperationFailed carries the error of a failed engine operation.
type OperationFailed struct {
	Base
	Operation string
	Message   string
	Err       error
}

// NewOperationFailed creates an operation failed event.
func NewOperationFailed(operation, message string, err error) OperationFailed {
	return OperationFailed{Base: NewBase(KindOperationFailed), Operation: operation, Message: message, Err: err}
}

// OperationTimedOut marks an engine operation that exceeded its time budget.
type OperationTimedOut struct {
	Base
	Operation string
	Elapsed   time.Duration
}

// NewOperationTimedOut creates an operation timed out event.
func NewOperationTimedOut(operation string, elapsed time.Duration) OperationTimedOut {
	return OperationTimedOut{Base: NewBase(KindOperationTimedOut), Operation: operation, Elapsed: elapsed}
}
