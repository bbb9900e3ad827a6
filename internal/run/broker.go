package run

import (
	"sync"

	"github.com/revloop/revloop/internal/runner"
)

// Broker manages per-run channels for streaming execution events to
// observers. Subscription is explicit per run ID, and late joiners replay
// the buffered events before receiving live ones.
type Broker struct {
	mu   sync.Mutex
	runs map[string]*runStream
}

type runStream struct {
	mu          sync.Mutex
	subscribers []chan runner.Event
	buffer      []runner.Event
	completed   bool
}

func NewBroker() *Broker {
	return &Broker{
		runs: make(map[string]*runStream),
	}
}

// Register opens a stream for a run. Must be called before Publish or
// Complete for that run ID.
func (b *Broker) Register(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runs[runID] = &runStream{}
}

// Publish fans an event out to all subscribers and buffers it for late
// joiners. No-op when the run is not registered or already completed.
// Slow subscribers are skipped, never waited on.
func (b *Broker) Publish(runID string, ev runner.Event) {
	b.mu.Lock()
	rs, ok := b.runs[runID]
	b.mu.Unlock()
	if !ok {
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.completed {
		return
	}
	rs.buffer = append(rs.buffer, ev)
	for _, ch := range rs.subscribers {
		select {
		case ch <- ev:
		default:
			// Drop for this subscriber; the buffer has the full history.
		}
	}
}

// Complete marks a run's stream finished and closes all subscriber channels.
func (b *Broker) Complete(runID string) {
	b.mu.Lock()
	rs, ok := b.runs[runID]
	b.mu.Unlock()
	if !ok {
		return
	}

	rs.mu.Lock()
	rs.completed = true
	subs := rs.subscribers
	rs.subscribers = nil
	rs.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// Subscribe returns a channel of events for the given run, closed when the
// run completes, plus a cleanup function to unsubscribe. Returns a nil
// channel if the run ID is unknown.
//
// Late joiners receive all buffered events immediately before live events.
func (b *Broker) Subscribe(runID string, bufSize int) (<-chan runner.Event, func()) {
	b.mu.Lock()
	rs, ok := b.runs[runID]
	b.mu.Unlock()
	if !ok {
		return nil, func() {}
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	// Sized so the replay below can never block while holding the lock.
	ch := make(chan runner.Event, len(rs.buffer)+bufSize)

	for _, ev := range rs.buffer {
		ch <- ev
	}

	if rs.completed {
		close(ch)
		return ch, func() {}
	}

	rs.subscribers = append(rs.subscribers, ch)

	unsubscribe := func() {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		for i, sub := range rs.subscribers {
			if sub == ch {
				rs.subscribers = append(rs.subscribers[:i], rs.subscribers[i+1:]...)
				break
			}
		}
	}

	return ch, unsubscribe
}

// Drop discards a run's stream entirely.
func (b *Broker) Drop(runID string) {
	b.Complete(runID)
	b.mu.Lock()
	delete(b.runs, runID)
	b.mu.Unlock()
}
