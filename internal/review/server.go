package review

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/revloop/revloop/internal/gitcontext"
	"github.com/revloop/revloop/pkg/cerr"
)

// Server exposes reviews, comments and decisions over HTTP.
type Server struct {
	engine    *Engine
	collector *gitcontext.Collector
}

func NewServer(engine *Engine, collector *gitcontext.Collector) *Server {
	return &Server{engine: engine, collector: collector}
}

func (s *Server) Routes(r chi.Router) {
	r.Route("/reviews", func(r chi.Router) {
		r.Get("/", s.list)
		r.Route("/{reviewID}", func(r chi.Router) {
			r.Get("/", s.get)
			r.Post("/comments", s.addComment)
			r.Put("/comments/{commentID}", s.updateComment)
			r.Delete("/comments/{commentID}", s.deleteComment)
			r.Post("/comments/{commentID}/resolve", s.resolveComment)
			r.Post("/decision", s.submitDecision)
			r.Post("/git-context", s.attachGitContext)
		})
	})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	taskID := r.URL.Query().Get("taskId")

	if runID := r.URL.Query().Get("runId"); runID != "" {
		rv, err := s.engine.GetReviewByRunID(ctx, runID)
		if err != nil {
			cerr.WriteError(ctx, w, err)
			return
		}
		cerr.WriteJSON(ctx, w, map[string]any{"reviews": []*Review{rv}, "total": 1})
		return
	}

	reviews, total, err := s.engine.ListReviews(ctx, taskID, limit, offset)
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, map[string]any{"reviews": reviews, "total": total})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rv, err := s.engine.GetReview(ctx, chi.URLParam(r, "reviewID"))
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, rv)
}

type commentBody struct {
	MessageIndex *int   `json:"messageIndex"`
	ToolCallID   string `json:"toolCallId"`
	FilePath     string `json:"filePath"`
	Line         int    `json:"line"`
	Content      string `json:"content"`
	Type         string `json:"type"`
	Priority     string `json:"priority"`
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body commentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.InvalidArgument, "invalid request body", err))
		return
	}

	c, err := s.engine.AddComment(ctx, chi.URLParam(r, "reviewID"), CommentRequest{
		MessageIndex: body.MessageIndex,
		ToolCallID:   body.ToolCallID,
		FilePath:     body.FilePath,
		Line:         body.Line,
		Content:      body.Content,
		Type:         CommentType(body.Type),
		Priority:     Priority(body.Priority),
	})
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, c)
}

func (s *Server) updateComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		Content  string `json:"content"`
		Priority string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.InvalidArgument, "invalid request body", err))
		return
	}

	c, err := s.engine.UpdateComment(ctx, chi.URLParam(r, "reviewID"), chi.URLParam(r, "commentID"), body.Content, Priority(body.Priority))
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, c)
}

func (s *Server) deleteComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.engine.DeleteComment(ctx, chi.URLParam(r, "reviewID"), chi.URLParam(r, "commentID")); err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, map[string]string{"status": "deleted"})
}

func (s *Server) resolveComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.engine.ResolveComment(ctx, chi.URLParam(r, "reviewID"), chi.URLParam(r, "commentID"))
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, c)
}

func (s *Server) submitDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		Approved         bool      `json:"approved"`
		NeedsRevision    bool      `json:"needsRevision"`
		Rating           int       `json:"rating"`
		Notes            string    `json:"notes"`
		GenerateFeedback bool      `json:"generateFeedback"`
		FeedbackOverride *Feedback `json:"feedbackOverride"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.InvalidArgument, "invalid request body", err))
		return
	}

	rv, err := s.engine.SubmitDecision(ctx, chi.URLParam(r, "reviewID"), DecisionRequest{
		Approved:         body.Approved,
		NeedsRevision:    body.NeedsRevision,
		Rating:           body.Rating,
		Notes:            body.Notes,
		GenerateFeedback: body.GenerateFeedback,
		FeedbackOverride: body.FeedbackOverride,
	})
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, rv)
}

func (s *Server) attachGitContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		WorkspacePath string `json:"workspacePath"`
		BaseCommit    string `json:"baseCommit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.InvalidArgument, "invalid request body", err))
		return
	}
	if body.WorkspacePath == "" {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.InvalidArgument, "workspacePath is required", nil))
		return
	}

	gc, err := s.collector.Collect(ctx, body.WorkspacePath, body.BaseCommit)
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}

	rv, err := s.engine.AttachGitContext(ctx, chi.URLParam(r, "reviewID"), gc)
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, rv)
}
