package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/store"
)

// Error wraps an unexpected failure with the operation that produced it.
type Error struct {
	// Service names the failing service (e.g., "dispatch", "ingest")
	Service string
	// Operation is the operation that failed (e.g., "get_work", "submit")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := fmt.Sprintf("%s service %s operation failed", e.Service, e.Operation)
	if e.Service == "" {
		prefix = fmt.Sprintf("%s operation failed", e.Operation)
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return prefix
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// expected lists the errors that describe caller mistakes or races rather
// than faults. They pass through NewError untouched.
var expected = []error{
	domain.ErrValidation,
	domain.ErrUnknownComponent,
	domain.ErrEmptyContent,
	domain.ErrInvalidWorker,
	domain.ErrUnknownWorker,
	domain.ErrTaskMismatch,
	domain.ErrDuplicateSubjectWork,
	domain.ErrInvalidSubmission,
	domain.ErrSubjectIDEmpty,
	store.ErrNotFound,
}

// NewError wraps err for service and operation. It returns nil for a nil
// err and returns expected sentinel errors unchanged. A store
// ErrWorkerNotFound becomes domain.ErrUnknownWorker.
func NewError(service, operation, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrWorkerNotFound) {
		return domain.ErrUnknownWorker
	}
	if IsExpected(err) {
		return err
	}
	return &Error{
		Service:   service,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// IsExpected reports whether err is one of the sentinel conditions
// services surface to callers as-is.
func IsExpected(err error) bool {
	for _, target := range expected {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
