package run_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revloop/revloop/internal/eventbus"
	"github.com/revloop/revloop/internal/run"
	"github.com/revloop/revloop/internal/run/repositoryimpl"
	"github.com/revloop/revloop/internal/runner"
	"github.com/revloop/revloop/pkg/cerr"
	"github.com/revloop/revloop/pkg/storage"
)

func ts(sec int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, sec, 0, time.UTC)
}

// scriptedRunner replays a fixed event sequence, optionally pausing until
// released to make abort timing deterministic.
type scriptedRunner struct {
	id      string
	events  []runner.Event
	gate    chan struct{} // when non-nil, stream waits here before each event
	mu      sync.Mutex
	aborted bool
}

func (s *scriptedRunner) ID() string   { return s.id }
func (s *scriptedRunner) Name() string { return s.id }

func (s *scriptedRunner) Capabilities() runner.Capabilities {
	return runner.Capabilities{TaskKinds: []runner.TaskKind{runner.TaskKindChat}, Streaming: true, Abortable: true}
}

func (s *scriptedRunner) Run(ctx context.Context, input runner.Input) (<-chan runner.Event, error) {
	ch := make(chan runner.Event)
	go func() {
		defer close(ch)
		for _, ev := range s.events {
			if s.gate != nil {
				select {
				case <-s.gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *scriptedRunner) Abort() {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
}

func (s *scriptedRunner) IsAvailable(ctx context.Context) (bool, error) {
	return true, nil
}

func newTestEngine(t *testing.T, runners ...runner.Runner) *run.Engine {
	t.Helper()
	summary, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	logs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return newEngineOn(summary, logs, runners...)
}

func newEngineOn(summary, logs storage.Storage, runners ...runner.Runner) *run.Engine {
	registry := runner.NewRegistry()
	for _, rn := range runners {
		registry.Register(rn)
	}
	return run.NewEngine(repositoryimpl.NewYAMLRepository(summary), run.NewLogStore(logs), registry, eventbus.New())
}

func happyEvents() []runner.Event {
	return []runner.Event{
		{Type: runner.EventTypeSessionStart, SessionID: "sess-1", Timestamp: ts(0)},
		{Type: runner.EventTypeUserMessage, Content: "build it", Timestamp: ts(1)},
		{Type: runner.EventTypeAssistantMessage, Content: "done", Timestamp: ts(2)},
		{Type: runner.EventTypeSessionEnd, SessionID: "sess-1", Reason: "success", Timestamp: ts(3)},
	}
}

func TestExecuteRunCompletes(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, &scriptedRunner{id: "scripted", events: happyEvents()})

	r, err := eng.CreateRun(ctx, "task-1", 1, "scripted", &run.Context{Description: "build it"})
	require.NoError(t, err)
	assert.Equal(t, run.StatusPending, r.Status)

	require.NoError(t, eng.ExecuteRun(ctx, r.ID))

	got, err := eng.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, got.Status)
	assert.Equal(t, "sess-1", got.SessionID)
	require.NotNil(t, got.FinishedAt)

	snapshot, err := eng.GetSnapshot(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Messages, 2)
	assert.Equal(t, run.RoleAssistant, snapshot.Messages[1].Role)
	assert.Equal(t, "done", snapshot.Messages[1].Content)

	log, err := eng.GetEventLog(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, log, 4)
}

func TestExecuteRunSharedStorageKeepsListingsClean(t *testing.T) {
	ctx := context.Background()
	// Summaries and event logs sharing one backend must not pollute each
	// other's key space.
	shared, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	eng := newEngineOn(shared, shared, &scriptedRunner{id: "scripted", events: happyEvents()})

	r, err := eng.CreateRun(ctx, "task-1", 1, "scripted", &run.Context{Description: "x"})
	require.NoError(t, err)
	require.NoError(t, eng.ExecuteRun(ctx, r.ID))

	runs, total, err := eng.ListRuns(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, runs, 1)
	assert.Equal(t, r.ID, runs[0].ID)
}

func TestExecuteRunUnknownRunnerFailsRun(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	r, err := eng.CreateRun(ctx, "task-1", 1, "nope", &run.Context{Description: "x"})
	require.NoError(t, err)

	require.NoError(t, eng.ExecuteRun(ctx, r.ID))

	got, err := eng.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "runner not found")
}

func TestExecuteRunUnknownRunIsInvariantViolation(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.ExecuteRun(context.Background(), "no-such-run")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestAbortRunCancelsInFlight(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	rn := &scriptedRunner{id: "scripted", events: happyEvents(), gate: gate}
	eng := newTestEngine(t, rn)

	r, err := eng.CreateRun(ctx, "task-1", 1, "scripted", &run.Context{Description: "x"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- eng.ExecuteRun(ctx, r.ID)
	}()

	// Let the first event through, then abort while the stream is blocked.
	gate <- struct{}{}
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, eng.AbortRun(ctx, r.ID))

	require.NoError(t, <-done)

	got, err := eng.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCancelled, got.Status)

	rn.mu.Lock()
	defer rn.mu.Unlock()
	assert.True(t, rn.aborted)
}

func TestAbortAfterCompletionDoesNotChangeStatus(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, &scriptedRunner{id: "scripted", events: happyEvents()})

	r, err := eng.CreateRun(ctx, "task-1", 1, "scripted", &run.Context{Description: "x"})
	require.NoError(t, err)
	require.NoError(t, eng.ExecuteRun(ctx, r.ID))

	require.NoError(t, eng.AbortRun(ctx, r.ID))

	got, err := eng.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, got.Status, "a late abort must not cancel a completed run")
}

func TestDeleteRunRemovesEverything(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, &scriptedRunner{id: "scripted", events: happyEvents()})

	r, err := eng.CreateRun(ctx, "task-1", 1, "scripted", &run.Context{Description: "x"})
	require.NoError(t, err)
	require.NoError(t, eng.ExecuteRun(ctx, r.ID))

	require.NoError(t, eng.DeleteRun(ctx, r.ID))

	_, err = eng.GetRun(ctx, r.ID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	_, err = eng.GetSnapshot(ctx, r.ID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestSubscribeReceivesLiveEvents(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, &scriptedRunner{id: "scripted", events: happyEvents()})

	r, err := eng.CreateRun(ctx, "task-1", 1, "scripted", &run.Context{Description: "x"})
	require.NoError(t, err)

	ch, unsubscribe := eng.Subscribe(r.ID, 16)
	require.NotNil(t, ch)
	defer unsubscribe()

	require.NoError(t, eng.ExecuteRun(ctx, r.ID))

	var received []runner.EventType
	for ev := range ch {
		received = append(received, ev.Type)
	}
	assert.Equal(t, []runner.EventType{
		runner.EventTypeSessionStart,
		runner.EventTypeUserMessage,
		runner.EventTypeAssistantMessage,
		runner.EventTypeSessionEnd,
	}, received)
}
