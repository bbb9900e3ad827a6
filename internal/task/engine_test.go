package task_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revloop/revloop/internal/eventbus"
	"github.com/revloop/revloop/internal/review"
	reviewrepo "github.com/revloop/revloop/internal/review/repositoryimpl"
	"github.com/revloop/revloop/internal/run"
	runrepo "github.com/revloop/revloop/internal/run/repositoryimpl"
	"github.com/revloop/revloop/internal/runner"
	"github.com/revloop/revloop/internal/task"
	taskrepo "github.com/revloop/revloop/internal/task/repositoryimpl"
	"github.com/revloop/revloop/pkg/cerr"
	"github.com/revloop/revloop/pkg/storage"
)

// recordingRunner replays fixed events and records every input it was given.
type recordingRunner struct {
	id     string
	events []runner.Event

	mu     sync.Mutex
	inputs []runner.Input
}

func (r *recordingRunner) ID() string   { return r.id }
func (r *recordingRunner) Name() string { return r.id }

func (r *recordingRunner) Capabilities() runner.Capabilities {
	return runner.Capabilities{TaskKinds: []runner.TaskKind{runner.TaskKindChat}, Streaming: true, Abortable: true}
}

func (r *recordingRunner) Run(ctx context.Context, input runner.Input) (<-chan runner.Event, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, input)
	r.mu.Unlock()

	ch := make(chan runner.Event)
	go func() {
		defer close(ch)
		for _, ev := range r.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (r *recordingRunner) Abort() {}

func (r *recordingRunner) IsAvailable(ctx context.Context) (bool, error) {
	return true, nil
}

func (r *recordingRunner) lastInput() runner.Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputs[len(r.inputs)-1]
}

type fixture struct {
	tasks   *task.Engine
	runs    *run.Engine
	reviews *review.Engine
	runner  *recordingRunner
}

func newFixture(t *testing.T, events []runner.Event) *fixture {
	t.Helper()
	summary, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	logs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	rn := &recordingRunner{id: "fake", events: events}
	registry := runner.NewRegistry()
	registry.Register(rn)
	bus := eventbus.New()

	runs := run.NewEngine(runrepo.NewYAMLRepository(summary), run.NewLogStore(logs), registry, bus)
	reviews := review.NewEngine(reviewrepo.NewYAMLRepository(summary), bus)
	tasks := task.NewEngine(taskrepo.NewYAMLRepository(summary), runs, reviews, bus, t.TempDir())

	return &fixture{tasks: tasks, runs: runs, reviews: reviews, runner: rn}
}

func successEvents(content string) []runner.Event {
	return []runner.Event{
		{Type: runner.EventTypeUserMessage, Content: "go"},
		{Type: runner.EventTypeAssistantMessage, Content: content},
		{Type: runner.EventTypeSessionEnd, SessionID: "s1", Reason: "success"},
	}
}

func TestCreateTaskStartsAsDraft(t *testing.T) {
	f := newFixture(t, nil)

	created, err := f.tasks.CreateTask(context.Background(), task.CreateTaskRequest{
		Title:    "build the thing",
		RunnerID: "fake",
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusDraft, created.Status)
	assert.Empty(t, created.RunIDs)
	assert.Empty(t, created.ActiveRunID)
}

func TestCreateTaskValidation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.tasks.CreateTask(context.Background(), task.CreateTaskRequest{RunnerID: "fake"})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	_, err = f.tasks.CreateTask(context.Background(), task.CreateTaskRequest{Title: "x"})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestStartTaskRunsToWaitingReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, successEvents("done"))

	created, err := f.tasks.CreateTask(ctx, task.CreateTaskRequest{
		Title:       "do it",
		Description: "please do it",
		RunnerID:    "fake",
	})
	require.NoError(t, err)

	started, err := f.tasks.StartTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, started.Status)
	require.Len(t, started.RunIDs, 1)
	assert.Equal(t, started.RunIDs[0], started.ActiveRunID)

	f.tasks.Wait()

	settled, err := f.tasks.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusWaitingReview, settled.Status)
	assert.Empty(t, settled.ActiveRunID)

	r, err := f.runs.GetRun(ctx, started.RunIDs[0])
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, r.Status)
	assert.Equal(t, 1, r.Sequence)

	snapshot, err := f.runs.GetSnapshot(ctx, r.ID)
	require.NoError(t, err)
	var assistant []run.Message
	for _, m := range snapshot.Messages {
		if m.Role == run.RoleAssistant {
			assistant = append(assistant, m)
		}
	}
	require.Len(t, assistant, 1)
	assert.Equal(t, "done", assistant[0].Content)

	// A review was opened for the completed run.
	rv, err := f.reviews.GetReviewByRunID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusPending, rv.Status)
}

func TestStartTaskRejectsSecondActiveRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, successEvents("done"))

	created, _ := f.tasks.CreateTask(ctx, task.CreateTaskRequest{Title: "x", RunnerID: "fake"})
	_, err := f.tasks.StartTask(ctx, created.ID)
	require.NoError(t, err)

	_, err = f.tasks.StartTask(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	f.tasks.Wait()
}

func TestRetryFromReviewBuildsFeedbackPrompt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, successEvents("attempt"))

	created, err := f.tasks.CreateTask(ctx, task.CreateTaskRequest{
		Title:       "fix the bug",
		Description: "original description",
		RunnerID:    "fake",
	})
	require.NoError(t, err)

	_, err = f.tasks.StartTask(ctx, created.ID)
	require.NoError(t, err)
	f.tasks.Wait()

	settled, _ := f.tasks.GetTask(ctx, created.ID)
	rv, err := f.reviews.GetReviewByRunID(ctx, settled.RunIDs[0])
	require.NoError(t, err)

	_, err = f.reviews.AddComment(ctx, rv.ID, review.CommentRequest{
		Content:  "fix X",
		Type:     review.CommentIssue,
		Priority: review.PriorityHigh,
	})
	require.NoError(t, err)

	decided, err := f.reviews.SubmitDecision(ctx, rv.ID, review.DecisionRequest{
		NeedsRevision:    true,
		GenerateFeedback: true,
	})
	require.NoError(t, err)
	require.NotNil(t, decided.Feedback)
	assert.Contains(t, decided.Feedback.Content, "fix X")

	retried, err := f.tasks.RetryTaskFromReview(ctx, created.ID, rv.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, retried.Status)
	require.Len(t, retried.RunIDs, 2)

	f.tasks.Wait()

	second, err := f.runs.GetRun(ctx, retried.RunIDs[1])
	require.NoError(t, err)
	assert.Equal(t, 2, second.Sequence)

	prompt := f.runner.lastInput().Prompt
	assert.Contains(t, prompt, "fix X")
	assert.Contains(t, prompt, "original description")
	// Feedback block precedes the original description.
	assert.Less(t,
		strings.Index(prompt, "fix X"),
		strings.Index(prompt, "original description"))
}

func TestRetryFromReviewRequiresFeedback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, successEvents("done"))

	created, _ := f.tasks.CreateTask(ctx, task.CreateTaskRequest{Title: "x", RunnerID: "fake"})
	_, err := f.tasks.StartTask(ctx, created.ID)
	require.NoError(t, err)
	f.tasks.Wait()

	settled, _ := f.tasks.GetTask(ctx, created.ID)
	rv, err := f.reviews.GetReviewByRunID(ctx, settled.RunIDs[0])
	require.NoError(t, err)

	// Decided without feedback.
	_, err = f.reviews.SubmitDecision(ctx, rv.ID, review.DecisionRequest{NeedsRevision: true})
	require.NoError(t, err)

	_, err = f.tasks.RetryTaskFromReview(ctx, created.ID, rv.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestSequenceNumbersAreGapless(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, successEvents("done"))

	created, _ := f.tasks.CreateTask(ctx, task.CreateTaskRequest{Title: "x", Description: "d", RunnerID: "fake"})

	// Each attempt settles into waiting_review, which allows another start.
	for i := 0; i < 3; i++ {
		_, err := f.tasks.StartTask(ctx, created.ID)
		require.NoError(t, err)
		f.tasks.Wait()
	}

	final, _ := f.tasks.GetTask(ctx, created.ID)
	require.Len(t, final.RunIDs, 3)
	for i, runID := range final.RunIDs {
		r, err := f.runs.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, i+1, r.Sequence)
	}
}

func TestCancelTaskAbortsActiveRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, successEvents("done"))

	created, _ := f.tasks.CreateTask(ctx, task.CreateTaskRequest{Title: "x", RunnerID: "fake"})
	_, err := f.tasks.StartTask(ctx, created.ID)
	require.NoError(t, err)

	cancelled, err := f.tasks.CancelTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, cancelled.Status)
	assert.Empty(t, cancelled.ActiveRunID)

	f.tasks.Wait()
}

func TestDeleteTaskCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, successEvents("done"))

	created, _ := f.tasks.CreateTask(ctx, task.CreateTaskRequest{Title: "x", Description: "d", RunnerID: "fake"})
	_, err := f.tasks.StartTask(ctx, created.ID)
	require.NoError(t, err)
	f.tasks.Wait()

	settled, _ := f.tasks.GetTask(ctx, created.ID)
	runID := settled.RunIDs[0]
	rv, err := f.reviews.GetReviewByRunID(ctx, runID)
	require.NoError(t, err)

	require.NoError(t, f.tasks.DeleteTask(ctx, created.ID))

	_, err = f.tasks.GetTask(ctx, created.ID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	_, err = f.runs.GetRun(ctx, runID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	_, err = f.reviews.GetReview(ctx, rv.ID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestDeleteTaskWithActiveRunFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, successEvents("done"))

	created, _ := f.tasks.CreateTask(ctx, task.CreateTaskRequest{Title: "x", RunnerID: "fake"})
	_, err := f.tasks.StartTask(ctx, created.ID)
	require.NoError(t, err)

	err = f.tasks.DeleteTask(ctx, created.ID)
	if err != nil {
		assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	}

	f.tasks.Wait()
}
