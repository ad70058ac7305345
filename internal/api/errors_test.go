package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		message string
	}{
		{domain.ErrInvalidWorker, http.StatusBadRequest, "Invalid worker ID"},
		{fmt.Errorf("%w: %w", domain.ErrInvalidSubmission, domain.ErrEmptyContent), http.StatusBadRequest, "Component content cannot be empty"},
		{domain.ErrInvalidSubmission, http.StatusBadRequest, "Invalid submission"},
		{store.ErrInvalidEntity, http.StatusBadRequest, "Invalid request data"},
		{fmt.Errorf("dispatch: %w", domain.ErrUnknownWorker), http.StatusNotFound, "Worker not registered"},
		{store.ErrTaskNotFound, http.StatusNotFound, "Task not found"},
		{store.ErrSubjectNotFound, http.StatusNotFound, "Subject not found"},
		{store.ErrNotFound, http.StatusNotFound, "Not found"},
		{domain.ErrTaskMismatch, http.StatusConflict, "Task is not assigned to this worker"},
		{domain.ErrDuplicateSubjectWork, http.StatusConflict, "Subject already has live work"},
		{errors.New("postgres://u:p@db failed"), http.StatusInternalServerError, "An unexpected error occurred"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, MapErrorToStatusCode(tt.err))
			assert.Equal(t, tt.message, GetSafeErrorMessage(tt.err))
		})
	}

	assert.Equal(t, http.StatusOK, MapErrorToStatusCode(nil))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}

func TestSanitizeValidationError(t *testing.T) {
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("boom")))
}
