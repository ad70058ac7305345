package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the root of every "does not exist" error below.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate reports a unique constraint other than the live-task
	// index, which maps to domain.ErrDuplicateSubjectWork instead.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity reports rows the database refused: foreign key,
	// check or not-null violations, or a task without components.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransactionFailed wraps begin and commit failures.
	ErrTransactionFailed = errors.New("transaction failed")

	ErrTaskNotFound    = fmt.Errorf("%w: task", ErrNotFound)
	ErrSubjectNotFound = fmt.Errorf("%w: subject", ErrNotFound)
	// ErrWorkerNotFound means the worker never registered.
	ErrWorkerNotFound = fmt.Errorf("%w: worker", ErrNotFound)
)

// StoreError adds the entity and operation to a failed store call.
type StoreError struct {
	Entity    string // "task", "subject", "worker"
	Operation string // "claim", "complete", "upsert", ...
	Message   string
	Err       error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s operation on %s failed: %s: %v", e.Operation, e.Entity, e.Message, e.Err)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError builds a StoreError.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{Entity: entity, Operation: operation, Message: message, Err: err}
}
