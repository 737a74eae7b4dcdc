package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var received []Type

	bus.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.Type)
	})
	bus.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.Type)
	})

	bus.Publish(Event{Type: TaskCompleted, Message: "done"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, TaskCompleted, received[0])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	calls := 0

	token := bus.Subscribe(func(e Event) { calls++ })
	bus.Publish(Event{Type: TaskClaimed})
	bus.Unsubscribe(token)
	bus.Publish(Event{Type: TaskClaimed})

	assert.Equal(t, 1, calls)
}

func TestPublishSurvivesPanickingSubscriber(t *testing.T) {
	bus := NewBus()
	secondCalled := false

	bus.Subscribe(func(e Event) { panic("boom") })
	bus.Subscribe(func(e Event) { secondCalled = true })

	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: TaskFailed})
	})
	assert.True(t, secondCalled)
}
