package store

import (
	"fmt"

	"github.com/rohmanhakim/polite-crawler/pkg/failure"
)

type StoreErrorCause string

const (
	ErrCauseConnection   StoreErrorCause = "connection failure"
	ErrCauseSchema       StoreErrorCause = "schema initialization failure"
	ErrCauseQuery        StoreErrorCause = "query failure"
	ErrCauseInvalidInput StoreErrorCause = "invalid input"
)

// StoreError wraps a single failed operation. Per the spec's error
// handling design, a StoreError rolls back that one operation only; it
// never aborts the worker pool.
type StoreError struct {
	Message   string
	Retryable bool
	Cause     StoreErrorCause
	Err       error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store error: %s: %s: %v", e.Cause, e.Message, e.Err)
	}
	return fmt.Sprintf("store error: %s: %s", e.Cause, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *StoreError) IsRetryable() bool {
	return e.Retryable
}
