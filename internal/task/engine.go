// Package task owns the Task lifecycle state machine. It starts runs
// through the run engine and closes the retry loop by folding review
// feedback into the next run's prompt.
package task

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc"

	"github.com/revloop/revloop/internal/eventbus"
	"github.com/revloop/revloop/internal/gitcontext"
	"github.com/revloop/revloop/internal/review"
	"github.com/revloop/revloop/internal/run"
	"github.com/revloop/revloop/internal/runner"
	"github.com/revloop/revloop/pkg/cerr"
	"github.com/revloop/revloop/pkg/panicerr"
)

type Engine struct {
	repo          Repository
	runs          *run.Engine
	reviews       *review.Engine
	bus           *eventbus.Bus
	workspaceRoot string
	gitCollector  *gitcontext.Collector
	waitGroup     *conc.WaitGroup
}

func NewEngine(repo Repository, runs *run.Engine, reviews *review.Engine, bus *eventbus.Bus, workspaceRoot string) *Engine {
	return &Engine{
		repo:          repo,
		runs:          runs,
		reviews:       reviews,
		bus:           bus,
		workspaceRoot: workspaceRoot,
		waitGroup:     conc.NewWaitGroup(),
	}
}

// UseGitContext enables best-effort git state collection when a review
// opens. Without it reviews carry no git context.
func (e *Engine) UseGitContext(c *gitcontext.Collector) {
	e.gitCollector = c
}

// Wait blocks until all in-flight background runs settle. Used on shutdown.
func (e *Engine) Wait() {
	e.waitGroup.Wait()
}

type CreateTaskRequest struct {
	Title       string
	Description string
	Kind        runner.TaskKind
	Priority    Priority
	RunnerID    string
	WorkspaceID string
	Tags        []string
	ParentID    string
}

func (e *Engine) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	if req.Title == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task title is required", nil)
	}
	if req.RunnerID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task runner is required", nil)
	}

	now := time.Now()
	t := &Task{
		ID:          ulid.Make().String(),
		Title:       req.Title,
		Description: req.Description,
		Kind:        req.Kind,
		Status:      StatusDraft,
		Priority:    req.Priority,
		RunnerID:    req.RunnerID,
		WorkspaceID: req.WorkspaceID,
		Tags:        req.Tags,
		ParentID:    req.ParentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Kind == "" {
		t.Kind = runner.TaskKindChat
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}

	if err := e.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	if t.ParentID != "" {
		e.linkChild(ctx, t.ParentID, t.ID)
	}

	e.bus.PublishNew(eventbus.EventTypeTaskCreated, t.ID, t.Title, nil)
	return t, nil
}

func (e *Engine) GetTask(ctx context.Context, id string) (*Task, error) {
	return e.repo.Get(ctx, id)
}

func (e *Engine) ListTasks(ctx context.Context, status Status, limit, offset int) ([]*Task, int, error) {
	return e.repo.List(ctx, status, limit, offset)
}

// StartTask builds the first run's context from the task description and
// fires it off. Execution proceeds asynchronously; the caller observes
// progress through run status and the event stream.
func (e *Engine) StartTask(ctx context.Context, id string) (*Task, error) {
	t, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.ActiveRunID != "" || t.Status == StatusRunning {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task already has an active run", nil)
	}

	return e.startRun(ctx, t, &run.Context{
		Description:   t.Description,
		Kind:          t.Kind,
		WorkspacePath: e.workspacePath(t),
	})
}

// CancelTask aborts the active run, if any, and moves the task to cancelled.
func (e *Engine) CancelTask(ctx context.Context, id string) (*Task, error) {
	t, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Terminal() {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task is already finished", nil)
	}

	if t.ActiveRunID != "" {
		if err := e.runs.AbortRun(ctx, t.ActiveRunID); err != nil {
			slog.Warn("failed to abort active run", "taskId", id, "runId", t.ActiveRunID, "error", err)
		}
	}

	return e.transition(ctx, t, StatusCancelled, "")
}

// CompleteTask terminally completes a task once its review resolves.
func (e *Engine) CompleteTask(ctx context.Context, id string) (*Task, error) {
	t, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.ActiveRunID != "" {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task still has an active run", nil)
	}
	if t.Terminal() {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task is already finished", nil)
	}
	return e.transition(ctx, t, StatusCompleted, "")
}

// MarkTaskFailed terminally fails a task. Run failures do not call this
// automatically; failing the task is an explicit caller decision so the UI
// can offer a retry without losing task context.
func (e *Engine) MarkTaskFailed(ctx context.Context, id, errMsg string) (*Task, error) {
	t, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Terminal() {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task is already finished", nil)
	}
	return e.transition(ctx, t, StatusFailed, errMsg)
}

// MarkTaskWaitingReview moves the task to waiting_review and opens a review
// for the given completed run.
func (e *Engine) MarkTaskWaitingReview(ctx context.Context, id, runID string) (*Task, error) {
	t, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.HasRun(runID) {
		return nil, cerr.NewError(cerr.FailedPrecondition, "run does not belong to this task", nil)
	}

	rv, err := e.reviews.CreateReview(ctx, runID, t.ID)
	if err != nil {
		if !cerr.IsCode(err, cerr.AlreadyExists) {
			return nil, err
		}
	} else if e.gitCollector != nil {
		e.attachGitContext(ctx, rv.ID, e.workspacePath(t))
	}
	return e.transition(ctx, t, StatusWaitingReview, "")
}

// RetryTaskFromReview starts the next run with the review's feedback folded
// into the prompt. The referenced review must carry feedback.
func (e *Engine) RetryTaskFromReview(ctx context.Context, id, reviewID string) (*Task, error) {
	t, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.ActiveRunID != "" || t.Status == StatusRunning {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task already has an active run", nil)
	}

	rv, err := e.reviews.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if rv.TaskID != t.ID {
		return nil, cerr.NewError(cerr.FailedPrecondition, "review does not belong to this task", nil)
	}
	if rv.Feedback == nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, "review carries no feedback to retry from", nil)
	}

	// Accumulate feedback from all decided reviews of this task, newest
	// last, then cap it so the prompt does not grow without bound across
	// revision cycles.
	items := e.collectFeedback(ctx, t, rv)
	block := review.RenderFeedbackBlock(review.BudgetFeedback(items))

	return e.startRun(ctx, t, &run.Context{
		Description:   t.Description,
		FeedbackBlock: block,
		Kind:          t.Kind,
		WorkspacePath: e.workspacePath(t),
	})
}

// DeleteTask cascades: all runs, all reviews, then the task itself. A task
// with an active run cannot be deleted.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	t, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.ActiveRunID != "" {
		return cerr.NewError(cerr.FailedPrecondition, "cannot delete a task with an active run", nil)
	}

	for _, runID := range t.RunIDs {
		if err := e.runs.DeleteRun(ctx, runID); err != nil && !cerr.IsCode(err, cerr.NotFound) {
			return err
		}
	}
	if err := e.reviews.DeleteByTask(ctx, id); err != nil {
		return err
	}
	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}

	e.bus.PublishNew(eventbus.EventTypeTaskDeleted, id, t.Title, nil)
	return nil
}

// startRun allocates the next run, records it on the task, and drives it in
// the background. Sequence numbers follow creation order with no gaps.
func (e *Engine) startRun(ctx context.Context, t *Task, runContext *run.Context) (*Task, error) {
	r, err := e.runs.CreateRun(ctx, t.ID, len(t.RunIDs)+1, t.RunnerID, runContext)
	if err != nil {
		return nil, err
	}

	t.RunIDs = append(t.RunIDs, r.ID)
	t.ActiveRunID = r.ID
	t.Status = StatusRunning
	t.Error = ""
	t.UpdatedAt = time.Now()
	if err := e.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	e.bus.PublishNew(eventbus.EventTypeTaskStatusChanged, t.ID, string(StatusRunning), map[string]string{"runId": r.ID})

	// Fire and forget. The background context outlives the caller's
	// request; run failures settle into run status, never propagate here.
	bgCtx := context.WithoutCancel(ctx)
	taskID, runID := t.ID, r.ID
	e.waitGroup.Go(func() {
		if err := panicerr.SafeContext(func(ctx context.Context) error {
			return e.runs.ExecuteRun(ctx, runID)
		})(bgCtx); err != nil {
			slog.Error("run execution failed", "taskId", taskID, "runId", runID, "error", err)
		}
		e.settleRun(bgCtx, taskID, runID)
	})

	return t, nil
}

// settleRun reconciles the task with its run's terminal status: the active
// run pointer is cleared, and a completed run moves the task into review.
func (e *Engine) settleRun(ctx context.Context, taskID, runID string) {
	r, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		slog.Error("failed to load settled run", "taskId", taskID, "runId", runID, "error", err)
		return
	}

	t, err := e.repo.Get(ctx, taskID)
	if err != nil {
		slog.Error("failed to load task for settling", "taskId", taskID, "error", err)
		return
	}
	if t.ActiveRunID == runID {
		t.ActiveRunID = ""
		t.UpdatedAt = time.Now()
		if err := e.repo.Update(ctx, t); err != nil {
			slog.Error("failed to clear active run", "taskId", taskID, "error", err)
			return
		}
	}

	if r.Status == run.StatusCompleted && t.Status == StatusRunning {
		if _, err := e.MarkTaskWaitingReview(ctx, taskID, runID); err != nil {
			slog.Error("failed to move task into review", "taskId", taskID, "runId", runID, "error", err)
		}
	}
}

// collectFeedback gathers feedback from the task's decided reviews in
// creation order, ensuring the triggering review's feedback is included.
func (e *Engine) collectFeedback(ctx context.Context, t *Task, triggering *review.Review) []review.Feedback {
	var items []review.Feedback
	reviews, _, err := e.reviews.ListReviews(ctx, t.ID, 0, 0)
	if err != nil {
		slog.Warn("failed to list reviews for feedback accumulation", "taskId", t.ID, "error", err)
		return []review.Feedback{*triggering.Feedback}
	}

	found := false
	for _, rv := range reviews {
		if rv.Feedback == nil {
			continue
		}
		items = append(items, *rv.Feedback)
		if rv.ID == triggering.ID {
			found = true
		}
	}
	if !found {
		items = append(items, *triggering.Feedback)
	}
	return items
}

func (e *Engine) transition(ctx context.Context, t *Task, status Status, errMsg string) (*Task, error) {
	t.Status = status
	t.Error = errMsg
	t.ActiveRunID = ""
	t.UpdatedAt = time.Now()
	if err := e.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	e.bus.PublishNew(eventbus.EventTypeTaskStatusChanged, t.ID, string(status), nil)
	return t, nil
}

// attachGitContext is best-effort: a workspace without a git repository is
// not an error, the review simply carries no git context.
func (e *Engine) attachGitContext(ctx context.Context, reviewID, workspacePath string) {
	gc, err := e.gitCollector.Collect(ctx, workspacePath, "")
	if err != nil {
		slog.Debug("git context collection skipped", "reviewId", reviewID, "path", workspacePath, "error", err)
		return
	}
	if _, err := e.reviews.AttachGitContext(ctx, reviewID, gc); err != nil {
		slog.Warn("failed to attach git context", "reviewId", reviewID, "error", err)
	}
}

func (e *Engine) workspacePath(t *Task) string {
	if t.WorkspaceID == "" {
		return e.workspaceRoot
	}
	return filepath.Join(e.workspaceRoot, t.WorkspaceID)
}

func (e *Engine) linkChild(ctx context.Context, parentID, childID string) {
	parent, err := e.repo.Get(ctx, parentID)
	if err != nil {
		slog.Warn("parent task not found", "parentId", parentID, "childId", childID)
		return
	}
	parent.ChildIDs = append(parent.ChildIDs, childID)
	parent.UpdatedAt = time.Now()
	if err := e.repo.Update(ctx, parent); err != nil {
		slog.Warn("failed to link child task", "parentId", parentID, "error", err)
	}
}
