package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revloop/revloop/internal/runner"
)

func TestBrokerLateJoinerReplay(t *testing.T) {
	b := NewBroker()
	b.Register("r1")

	b.Publish("r1", runner.Event{Type: runner.EventTypeUserMessage, Content: "one"})
	b.Publish("r1", runner.Event{Type: runner.EventTypeToken, Content: "two"})

	ch, unsubscribe := b.Subscribe("r1", 8)
	require.NotNil(t, ch)
	defer unsubscribe()

	assert.Equal(t, "one", (<-ch).Content)
	assert.Equal(t, "two", (<-ch).Content)

	b.Publish("r1", runner.Event{Type: runner.EventTypeToken, Content: "three"})
	assert.Equal(t, "three", (<-ch).Content)
}

func TestBrokerCompleteClosesSubscribers(t *testing.T) {
	b := NewBroker()
	b.Register("r1")

	ch, _ := b.Subscribe("r1", 8)
	b.Publish("r1", runner.Event{Type: runner.EventTypeSessionEnd})
	b.Complete("r1")

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, runner.EventTypeSessionEnd, ev.Type)

	_, ok = <-ch
	assert.False(t, ok, "channel must be closed after completion")
}

func TestBrokerSubscribeAfterComplete(t *testing.T) {
	b := NewBroker()
	b.Register("r1")
	b.Publish("r1", runner.Event{Type: runner.EventTypeUserMessage, Content: "history"})
	b.Complete("r1")

	ch, _ := b.Subscribe("r1", 8)
	require.NotNil(t, ch)

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "history", ev.Content)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestBrokerUnknownRun(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe("missing", 8)
	assert.Nil(t, ch)
	unsubscribe()

	// Publishing to an unknown run is a no-op.
	b.Publish("missing", runner.Event{Type: runner.EventTypeToken})
	b.Complete("missing")
}

func TestBrokerPublishAfterCompleteIsDropped(t *testing.T) {
	b := NewBroker()
	b.Register("r1")
	b.Complete("r1")
	b.Publish("r1", runner.Event{Type: runner.EventTypeToken, Content: "late"})

	ch, _ := b.Subscribe("r1", 8)
	_, ok := <-ch
	assert.False(t, ok, "no events should survive past completion")
}
