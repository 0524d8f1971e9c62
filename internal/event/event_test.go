package event_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Marquee/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_ValidPayloads(t *testing.T) {
	bus := event.New()

	received := make(map[event.Event]event.Payload)
	record := func(ev event.Event, payload event.Payload) { received[ev] = payload }
	for _, ev := range []event.Event{event.ListUpdateEvent, event.MovieUpdateEvent, event.SweepCompleteEvent, event.TaskCompleteEvent} {
		bus.RegisterHandlerFunction(ev, record)
	}

	taskID := uuid.New()
	bus.Dispatch(event.ListUpdateEvent, event.ListPage{List: "popular", Page: 1})
	bus.Dispatch(event.MovieUpdateEvent, int64(42))
	bus.Dispatch(event.SweepCompleteEvent, 3)
	bus.Dispatch(event.TaskCompleteEvent, taskID)

	assert.Equal(t, event.ListPage{List: "popular", Page: 1}, received[event.ListUpdateEvent])
	assert.Equal(t, int64(42), received[event.MovieUpdateEvent])
	assert.Equal(t, 3, received[event.SweepCompleteEvent])
	assert.Equal(t, taskID, received[event.TaskCompleteEvent])
}

func TestDispatch_InvalidPayloadDropped(t *testing.T) {
	bus := event.New()

	called := false
	bus.RegisterHandlerFunction(event.MovieUpdateEvent, func(event.Event, event.Payload) { called = true })

	bus.Dispatch(event.MovieUpdateEvent, "42")
	bus.Dispatch(event.MovieUpdateEvent, nil)
	bus.Dispatch(event.Event("unknown"), int64(1))
	assert.False(t, called, "handlers must not receive payloads which fail validation")
}

func TestDispatch_ChannelAndAsyncHandlers(t *testing.T) {
	bus := event.New()

	ch := make(event.HandlerChannel, 2)
	bus.RegisterHandlerChannel(ch, event.FavoriteUpdateEvent, event.TaskFailedEvent)

	asyncCalled := make(chan struct{})
	bus.RegisterAsyncHandlerFunction(event.FavoriteUpdateEvent, func(event.Event, event.Payload) { close(asyncCalled) })

	bus.Dispatch(event.FavoriteUpdateEvent, int64(7))
	bus.Dispatch(event.TaskFailedEvent, uuid.Nil)

	first := <-ch
	assert.Equal(t, event.FavoriteUpdateEvent, first.Event)
	assert.Equal(t, int64(7), first.Payload)
	second := <-ch
	assert.Equal(t, event.TaskFailedEvent, second.Event)

	select {
	case <-asyncCalled:
	case <-time.After(time.Second):
		require.Fail(t, "async handler was never called")
	}
}
