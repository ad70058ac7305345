package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "service, message and cause",
			err:      &Error{Service: "dispatch", Operation: "get_work", Message: "claim failed", Err: errors.New("connection reset")},
			expected: "dispatch service get_work operation failed: claim failed: connection reset",
		},
		{
			name:     "cause only",
			err:      &Error{Service: "ingest", Operation: "submit", Err: errors.New("boom")},
			expected: "ingest service submit operation failed: boom",
		},
		{
			name:     "no service name",
			err:      &Error{Operation: "reset_stuck", Message: "nothing to do"},
			expected: "reset_stuck operation failed: nothing to do",
		},
		{
			name:     "bare",
			err:      &Error{Service: "dispatch", Operation: "register"},
			expected: "dispatch service register operation failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNewError(t *testing.T) {
	assert.NoError(t, NewError("dispatch", "op", "msg", nil))

	mismatch := fmt.Errorf("%w: task abc", domain.ErrTaskMismatch)
	assert.Same(t, mismatch, NewError("ingest", "submit", "msg", mismatch))

	assert.Equal(t, domain.ErrUnknownWorker, NewError("dispatch", "heartbeat", "msg", store.ErrWorkerNotFound))

	notFound := NewError("ingest", "submit", "msg", store.ErrTaskNotFound)
	assert.ErrorIs(t, notFound, store.ErrNotFound)

	cause := errors.New("disk full")
	wrapped := NewError("ingest", "submit", "failed to save", cause)
	var svcErr *Error
	if assert.ErrorAs(t, wrapped, &svcErr) {
		assert.Equal(t, "ingest", svcErr.Service)
		assert.Equal(t, "submit", svcErr.Operation)
	}
	assert.ErrorIs(t, wrapped, cause)
	assert.False(t, IsExpected(wrapped))
}
