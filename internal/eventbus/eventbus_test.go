package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()

	id, ch := bus.Subscribe(8)
	defer bus.Unsubscribe(id)

	bus.PublishNew(EventTypeTaskCreated, "task-1", "My task", map[string]string{"runId": "run-1"})

	select {
	case ev := <-ch:
		assert.Equal(t, EventTypeTaskCreated, ev.Type)
		assert.Equal(t, "task-1", ev.ResourceID)
		assert.Equal(t, "My task", ev.Payload)
		assert.Equal(t, "run-1", ev.Metadata["runId"])
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.CreatedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := New()

	id1, ch1 := bus.Subscribe(8)
	defer bus.Unsubscribe(id1)
	id2, ch2 := bus.Subscribe(8)
	defer bus.Unsubscribe(id2)

	bus.PublishNew(EventTypeRunFinished, "run-1", "completed", nil)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventTypeRunFinished, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := New()

	id, ch := bus.Subscribe(1)
	defer bus.Unsubscribe(id)

	// Second publish exceeds the buffer; it must drop, not block.
	done := make(chan struct{})
	go func() {
		bus.PublishNew(EventTypeTaskStatusChanged, "task-1", "running", nil)
		bus.PublishNew(EventTypeTaskStatusChanged, "task-1", "waiting_review", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	ev := <-ch
	assert.Equal(t, "running", ev.Payload)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()

	id, ch := bus.Subscribe(1)
	bus.Unsubscribe(id)

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.PublishNew(EventTypeTaskDeleted, "task-1", "", nil)
}
