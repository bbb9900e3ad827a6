// Package run owns the execution pipeline: it creates Run records, drives a
// backend Runner to completion or cancellation, folds the event stream into
// a Snapshot, and persists the outcome.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/revloop/revloop/internal/eventbus"
	"github.com/revloop/revloop/internal/runner"
	"github.com/revloop/revloop/pkg/cerr"
	"github.com/revloop/revloop/pkg/panicerr"
)

type Engine struct {
	repo     Repository
	logs     *LogStore
	registry *runner.Registry
	bus      *eventbus.Bus
	broker   *Broker

	// commitMu serializes terminal status transitions so an abort racing a
	// natural completion resolves to whichever commits first.
	commitMu sync.Mutex

	mu       sync.Mutex
	contexts map[string]*Context
	aborts   map[string]*atomic.Bool
	cancels  map[string]context.CancelFunc
}

func NewEngine(repo Repository, logs *LogStore, registry *runner.Registry, bus *eventbus.Bus) *Engine {
	return &Engine{
		repo:     repo,
		logs:     logs,
		registry: registry,
		bus:      bus,
		broker:   NewBroker(),
		contexts: make(map[string]*Context),
		aborts:   make(map[string]*atomic.Bool),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// CreateRun allocates a pending Run and stores its input context in memory
// for the upcoming ExecuteRun.
func (e *Engine) CreateRun(ctx context.Context, taskID string, sequence int, runnerID string, runContext *Context) (*Run, error) {
	if sequence < 1 {
		return nil, cerr.NewError(cerr.FailedPrecondition, "run sequence must be positive", nil)
	}
	if runContext == nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, "run context is required", nil)
	}

	now := time.Now()
	r := &Run{
		ID:        ulid.Make().String(),
		TaskID:    taskID,
		Sequence:  sequence,
		RunnerID:  runnerID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.repo.Create(ctx, r); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.contexts[r.ID] = runContext
	e.aborts[r.ID] = &atomic.Bool{}
	e.mu.Unlock()
	e.broker.Register(r.ID)

	return r, nil
}

// ExecuteRun drives a pending Run to a terminal status. Recoverable
// failures (unavailable backend, streaming errors) are recorded on the Run
// and do not surface as errors; only invariant violations do.
func (e *Engine) ExecuteRun(ctx context.Context, runID string) error {
	r, err := e.repo.Get(ctx, runID)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			return cerr.NewError(cerr.FailedPrecondition, "executing unknown run: "+runID, err)
		}
		return err
	}
	if r.Status != StatusPending {
		return cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("run %s is %s, expected pending", runID, r.Status), nil)
	}

	e.mu.Lock()
	runContext := e.contexts[runID]
	flag := e.aborts[runID]
	e.mu.Unlock()
	if runContext == nil {
		return cerr.NewError(cerr.FailedPrecondition, "run context missing for "+runID, nil)
	}
	if flag == nil {
		flag = &atomic.Bool{}
	}

	started := time.Now()
	r.Status = StatusRunning
	r.StartedAt = &started
	r.UpdatedAt = started
	if err := e.repo.Update(ctx, r); err != nil {
		return err
	}
	e.bus.PublishNew(eventbus.EventTypeRunStarted, runID, "", map[string]string{"taskId": r.TaskID})

	rn, err := e.registry.Get(r.RunnerID)
	if err != nil {
		e.failRun(ctx, runID, fmt.Sprintf("runner not found: %s", r.RunnerID))
		return nil
	}
	available, err := rn.IsAvailable(ctx)
	if err != nil || !available {
		msg := fmt.Sprintf("runner %s is not available", r.RunnerID)
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		e.failRun(ctx, runID, msg)
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancels[runID] = cancel
	e.mu.Unlock()

	input := runner.Input{
		Prompt:        runContext.BuildPrompt(),
		Files:         runContext.Files,
		WorkspacePath: runContext.WorkspacePath,
		Options:       runContext.Options,
	}
	events, err := rn.Run(runCtx, input)
	if err != nil {
		e.failRun(ctx, runID, fmt.Sprintf("failed to start runner: %v", err))
		return nil
	}

	var log []runner.Event
	var fold folder
	sessionID := ""
	aborted := false

	for ev := range events {
		if flag.Load() {
			aborted = true
			break
		}
		log = append(log, ev)
		fold.apply(ev)
		if ev.Type == runner.EventTypeSessionStart && ev.SessionID != "" {
			sessionID = ev.SessionID
		}
		e.broadcast(runID, ev)
	}
	if !aborted && flag.Load() {
		// Abort landed between the last event and stream exhaustion.
		aborted = true
	}

	if aborted {
		cancel()
		if err := e.logs.WriteEventLog(ctx, runID, log); err != nil {
			slog.Warn("failed to persist event log for aborted run", "runId", runID, "error", err)
		}
		e.commitTerminal(ctx, runID, StatusCancelled, "", sessionID)
		e.cleanup(runID)
		return nil
	}

	snapshot := BuildSnapshot(log, time.Since(started))
	if err := e.logs.WriteEventLog(ctx, runID, log); err != nil {
		e.failRun(ctx, runID, fmt.Sprintf("failed to persist event log: %v", err))
		return nil
	}
	if err := e.logs.WriteSnapshot(ctx, runID, snapshot); err != nil {
		e.failRun(ctx, runID, fmt.Sprintf("failed to persist snapshot: %v", err))
		return nil
	}

	e.commitTerminal(ctx, runID, StatusCompleted, "", sessionID)
	e.cleanup(runID)
	return nil
}

// AbortRun requests cooperative cancellation of a run. Aborting a run that
// already reached a terminal status is a no-op; in particular a completed
// run never becomes cancelled.
func (e *Engine) AbortRun(ctx context.Context, runID string) error {
	r, err := e.repo.Get(ctx, runID)
	if err != nil {
		return err
	}
	if r.Terminal() {
		return nil
	}

	e.mu.Lock()
	flag := e.aborts[runID]
	cancel := e.cancels[runID]
	e.mu.Unlock()
	if flag != nil {
		flag.Store(true)
	}
	if cancel != nil {
		cancel()
	}
	if rn, err := e.registry.Get(r.RunnerID); err == nil {
		rn.Abort()
	}

	e.commitTerminal(ctx, runID, StatusCancelled, "", "")
	e.cleanup(runID)
	return nil
}

// DeleteRun removes a run, its stored context and its logs. Reviews
// referencing the run are the caller's responsibility.
func (e *Engine) DeleteRun(ctx context.Context, runID string) error {
	r, err := e.repo.Get(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status == StatusRunning {
		return cerr.NewError(cerr.FailedPrecondition, "cannot delete a running run", nil)
	}

	if err := e.logs.Delete(ctx, runID); err != nil {
		return err
	}
	if err := e.repo.Delete(ctx, runID); err != nil {
		return err
	}
	e.cleanup(runID)
	e.broker.Drop(runID)
	return nil
}

func (e *Engine) GetRun(ctx context.Context, runID string) (*Run, error) {
	return e.repo.Get(ctx, runID)
}

func (e *Engine) ListRuns(ctx context.Context, taskID string, limit, offset int) ([]*Run, int, error) {
	return e.repo.List(ctx, taskID, limit, offset)
}

func (e *Engine) GetSnapshot(ctx context.Context, runID string) (*Snapshot, error) {
	return e.logs.ReadSnapshot(ctx, runID)
}

func (e *Engine) GetEventLog(ctx context.Context, runID string) ([]runner.Event, error) {
	return e.logs.ReadEventLog(ctx, runID)
}

// Subscribe attaches an observer to a run's live event stream.
func (e *Engine) Subscribe(runID string, bufSize int) (<-chan runner.Event, func()) {
	return e.broker.Subscribe(runID, bufSize)
}

// broadcast fans an event out to observers. Fire-and-forget: a panicking or
// slow observer never fails the fold.
func (e *Engine) broadcast(runID string, ev runner.Event) {
	if err := panicerr.Safe(func() error {
		e.broker.Publish(runID, ev)
		return nil
	})(); err != nil {
		slog.Error("event broadcast failed", "runId", runID, "error", err)
	}
}

// commitTerminal writes a terminal status unless one is already committed.
// First commit wins; the loser is silently dropped.
func (e *Engine) commitTerminal(ctx context.Context, runID string, status Status, errMsg, sessionID string) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	r, err := e.repo.Get(ctx, runID)
	if err != nil {
		slog.Error("failed to load run for terminal transition", "runId", runID, "error", err)
		return
	}
	if r.Terminal() {
		return
	}

	now := time.Now()
	r.Status = status
	r.Error = errMsg
	if sessionID != "" {
		r.SessionID = sessionID
	}
	r.FinishedAt = &now
	r.UpdatedAt = now
	if err := e.repo.Update(ctx, r); err != nil {
		slog.Error("failed to persist terminal transition", "runId", runID, "status", status, "error", err)
		return
	}

	e.bus.PublishNew(eventbus.EventTypeRunFinished, runID, string(status), map[string]string{"taskId": r.TaskID})
	e.broker.Complete(runID)
}

func (e *Engine) failRun(ctx context.Context, runID, msg string) {
	slog.Warn("run failed", "runId", runID, "error", msg)
	e.commitTerminal(ctx, runID, StatusFailed, msg, "")
	e.cleanup(runID)
}

// cleanup drops the in-memory context and control state for a finished run.
func (e *Engine) cleanup(runID string) {
	e.mu.Lock()
	delete(e.contexts, runID)
	delete(e.aborts, runID)
	delete(e.cancels, runID)
	e.mu.Unlock()
}
