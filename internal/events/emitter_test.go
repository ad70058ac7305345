package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (h *recordingHandler) HandleEvent(ctx context.Context, event *Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func TestInMemoryEventEmitter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("emit event with no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		event, err := NewEvent(SubjectProgressed, "s1", nil)
		require.NoError(t, err)
		assert.NoError(t, emitter.EmitEvent(context.Background(), event))
	})

	t.Run("handlers only see subscribed types", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		progress := &recordingHandler{}
		all := &recordingHandler{}
		emitter.Subscribe(progress, SubjectProgressed)
		emitter.Subscribe(all, SubjectProgressed, SubjectCompleted, TaskReclaimed)

		for _, typ := range []string{SubjectProgressed, SubjectCompleted, TaskReclaimed} {
			event, err := NewEvent(typ, "s1", nil)
			require.NoError(t, err)
			require.NoError(t, emitter.EmitEvent(context.Background(), event))
		}

		assert.Len(t, progress.events, 1)
		assert.Equal(t, SubjectProgressed, progress.events[0].Type)
		assert.Len(t, all.events, 3)
	})

	t.Run("failing handler does not stop the others", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		failing := &recordingHandler{err: errors.New("handler error")}
		ok := &recordingHandler{}
		emitter.Subscribe(failing, SubjectCompleted)
		emitter.Subscribe(ok, SubjectCompleted)

		event, err := NewEvent(SubjectCompleted, "s1", nil)
		require.NoError(t, err)

		err = emitter.EmitEvent(context.Background(), event)
		require.Error(t, err)
		assert.Equal(t, "handler error", err.Error())
		assert.Len(t, failing.events, 1)
		assert.Len(t, ok.events, 1)
	})

	t.Run("handler func adapter", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		var got string
		emitter.Subscribe(HandlerFunc(func(ctx context.Context, e *Event) error {
			got = e.SubjectID
			return nil
		}), TaskReclaimed)

		event, err := NewEvent(TaskReclaimed, "s9", ReclaimPayload{Requeued: 2})
		require.NoError(t, err)
		require.NoError(t, emitter.EmitEvent(context.Background(), event))
		assert.Equal(t, "s9", got)
	})
}
