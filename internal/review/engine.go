// Package review owns human evaluation of runs: comment accumulation, the
// accept/reject decision, and feedback synthesis for the retry loop.
package review

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/revloop/revloop/internal/eventbus"
	"github.com/revloop/revloop/internal/gitcontext"
	"github.com/revloop/revloop/pkg/cerr"
)

type Engine struct {
	repo Repository
	bus  *eventbus.Bus
}

func NewEngine(repo Repository, bus *eventbus.Bus) *Engine {
	return &Engine{repo: repo, bus: bus}
}

// CreateReview opens a review for a completed run. At most one review
// exists per run.
func (e *Engine) CreateReview(ctx context.Context, runID, taskID string) (*Review, error) {
	if existing, err := e.repo.GetByRunID(ctx, runID); err == nil {
		return nil, cerr.NewError(cerr.AlreadyExists, "review already exists for run "+existing.RunID, nil)
	} else if !cerr.IsCode(err, cerr.NotFound) {
		return nil, err
	}

	now := time.Now()
	rv := &Review{
		ID:        ulid.Make().String(),
		RunID:     runID,
		TaskID:    taskID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.repo.Create(ctx, rv); err != nil {
		return nil, err
	}
	return rv, nil
}

func (e *Engine) GetReview(ctx context.Context, id string) (*Review, error) {
	return e.repo.Get(ctx, id)
}

func (e *Engine) GetReviewByRunID(ctx context.Context, runID string) (*Review, error) {
	return e.repo.GetByRunID(ctx, runID)
}

func (e *Engine) ListReviews(ctx context.Context, taskID string, limit, offset int) ([]*Review, int, error) {
	return e.repo.List(ctx, taskID, limit, offset)
}

type CommentRequest struct {
	MessageIndex *int
	ToolCallID   string
	FilePath     string
	Line         int
	Content      string
	Type         CommentType
	Priority     Priority
}

func (e *Engine) AddComment(ctx context.Context, reviewID string, req CommentRequest) (*Comment, error) {
	rv, err := e.mutableReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	c := Comment{
		ID:           ulid.Make().String(),
		MessageIndex: req.MessageIndex,
		ToolCallID:   req.ToolCallID,
		FilePath:     req.FilePath,
		Line:         req.Line,
		Content:      req.Content,
		Type:         req.Type,
		Priority:     req.Priority,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if c.Type == "" {
		c.Type = CommentIssue
	}
	if c.Priority == "" {
		c.Priority = PriorityMedium
	}

	rv.Comments = append(rv.Comments, c)
	if rv.Status == StatusPending {
		rv.Status = StatusInProgress
	}
	rv.UpdatedAt = now
	if err := e.repo.Update(ctx, rv); err != nil {
		return nil, err
	}
	return &c, nil
}

func (e *Engine) UpdateComment(ctx context.Context, reviewID, commentID, content string, priority Priority) (*Comment, error) {
	rv, err := e.mutableReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	c := findComment(rv, commentID)
	if c == nil {
		return nil, cerr.NewError(cerr.NotFound, "comment not found: "+commentID, nil)
	}
	if content != "" {
		c.Content = content
	}
	if priority != "" {
		c.Priority = priority
	}
	c.UpdatedAt = time.Now()
	rv.UpdatedAt = c.UpdatedAt
	if err := e.repo.Update(ctx, rv); err != nil {
		return nil, err
	}
	return c, nil
}

func (e *Engine) DeleteComment(ctx context.Context, reviewID, commentID string) error {
	rv, err := e.mutableReview(ctx, reviewID)
	if err != nil {
		return err
	}

	for i := range rv.Comments {
		if rv.Comments[i].ID == commentID {
			rv.Comments = append(rv.Comments[:i], rv.Comments[i+1:]...)
			rv.UpdatedAt = time.Now()
			return e.repo.Update(ctx, rv)
		}
	}
	return cerr.NewError(cerr.NotFound, "comment not found: "+commentID, nil)
}

func (e *Engine) ResolveComment(ctx context.Context, reviewID, commentID string) (*Comment, error) {
	rv, err := e.repo.Get(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	c := findComment(rv, commentID)
	if c == nil {
		return nil, cerr.NewError(cerr.NotFound, "comment not found: "+commentID, nil)
	}
	now := time.Now()
	c.Resolved = true
	c.ResolvedAt = &now
	c.UpdatedAt = now
	rv.UpdatedAt = now
	if err := e.repo.Update(ctx, rv); err != nil {
		return nil, err
	}
	return c, nil
}

type DecisionRequest struct {
	Approved         bool
	NeedsRevision    bool
	Rating           int
	Notes            string
	GenerateFeedback bool
	// FeedbackOverride replaces synthesized feedback when set.
	FeedbackOverride *Feedback
}

// SubmitDecision records the reviewer's verdict. A decision is immutable:
// submitting against a decided review fails with FailedPrecondition.
func (e *Engine) SubmitDecision(ctx context.Context, reviewID string, req DecisionRequest) (*Review, error) {
	rv, err := e.repo.Get(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if rv.Decided() {
		return nil, cerr.NewError(cerr.FailedPrecondition, "review decision already recorded", nil)
	}
	if req.Rating != 0 && (req.Rating < 1 || req.Rating > 5) {
		return nil, cerr.NewError(cerr.InvalidArgument, "rating must be between 1 and 5", nil)
	}

	now := time.Now()
	rv.Decision = &Decision{
		Approved:      req.Approved,
		NeedsRevision: req.NeedsRevision,
		Rating:        req.Rating,
		Notes:         req.Notes,
		DecidedAt:     now,
	}

	switch {
	case req.Approved:
		rv.Status = StatusApproved
	case req.NeedsRevision:
		rv.Status = StatusNeedsRevision
		if req.FeedbackOverride != nil {
			rv.Feedback = req.FeedbackOverride
		} else if req.GenerateFeedback {
			rv.Feedback = SynthesizeFeedback(rv.Comments)
		}
	default:
		rv.Status = StatusRejected
	}

	rv.UpdatedAt = now
	if err := e.repo.Update(ctx, rv); err != nil {
		return nil, err
	}

	e.bus.PublishNew(eventbus.EventTypeReviewDecided, rv.ID, string(rv.Status), map[string]string{
		"taskId": rv.TaskID,
		"runId":  rv.RunID,
	})
	return rv, nil
}

// AttachGitContext stores a git snapshot on the review. The data comes from
// an external collector and is treated as opaque here.
func (e *Engine) AttachGitContext(ctx context.Context, reviewID string, gc *gitcontext.Context) (*Review, error) {
	rv, err := e.repo.Get(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	rv.GitContext = gc
	rv.UpdatedAt = time.Now()
	if err := e.repo.Update(ctx, rv); err != nil {
		return nil, err
	}
	return rv, nil
}

// DeleteByTask removes every review belonging to a task. Used by the task
// delete cascade.
func (e *Engine) DeleteByTask(ctx context.Context, taskID string) error {
	reviews, _, err := e.repo.List(ctx, taskID, 0, 0)
	if err != nil {
		return err
	}
	for _, rv := range reviews {
		if err := e.repo.Delete(ctx, rv.ID); err != nil {
			return err
		}
	}
	return nil
}

// mutableReview loads a review that can still accept comment edits.
func (e *Engine) mutableReview(ctx context.Context, reviewID string) (*Review, error) {
	rv, err := e.repo.Get(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if rv.Decided() {
		return nil, cerr.NewError(cerr.FailedPrecondition, "review is already decided", nil)
	}
	return rv, nil
}

func findComment(rv *Review, commentID string) *Comment {
	for i := range rv.Comments {
		if rv.Comments[i].ID == commentID {
			return &rv.Comments[i]
		}
	}
	return nil
}
