// Package domain defines the core scheduler entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownComponent is returned when a string does not name one of the
	// component types in the closed enumeration.
	ErrUnknownComponent = errors.New("unknown component type")

	// ErrEmptyContent is returned when generated component content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidWorker is returned when a worker registration is malformed,
	// for example when the worker ID is missing.
	ErrInvalidWorker = errors.New("invalid worker")

	// ErrUnknownWorker is returned for heartbeats or work requests from a
	// worker that never registered.
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrInvalidTaskStatus is returned when a task status string is not valid.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrTaskMismatch is returned when a submission or completion names a
	// task that is not currently assigned to the submitting worker, or that
	// belongs to a different subject. Callers must not retry blindly.
	ErrTaskMismatch = errors.New("task is not assigned to this worker")

	// ErrDuplicateSubjectWork is returned when a non-terminal task already
	// exists for the subject.
	ErrDuplicateSubjectWork = errors.New("subject already has live work")

	// ErrInvalidSubmission is returned when a result payload names
	// components the task does not cover or carries empty text.
	ErrInvalidSubmission = errors.New("invalid submission")
)
