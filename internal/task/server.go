package task

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/revloop/revloop/internal/runner"
	"github.com/revloop/revloop/pkg/cerr"
)

// Server exposes the task lifecycle over HTTP.
type Server struct {
	engine *Engine
}

func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

func (s *Server) Routes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.create)
		r.Get("/", s.list)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", s.get)
			r.Delete("/", s.delete)
			r.Post("/start", s.start)
			r.Post("/cancel", s.cancel)
			r.Post("/complete", s.complete)
			r.Post("/fail", s.fail)
			r.Post("/retry", s.retry)
		})
	})
}

type createRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Kind        string   `json:"kind"`
	Priority    string   `json:"priority"`
	RunnerID    string   `json:"runnerId"`
	WorkspaceID string   `json:"workspaceId"`
	Tags        []string `json:"tags"`
	ParentID    string   `json:"parentId"`
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.InvalidArgument, "invalid request body", err))
		return
	}

	t, err := s.engine.CreateTask(ctx, CreateTaskRequest{
		Title:       req.Title,
		Description: req.Description,
		Kind:        runner.TaskKind(req.Kind),
		Priority:    Priority(req.Priority),
		RunnerID:    req.RunnerID,
		WorkspaceID: req.WorkspaceID,
		Tags:        req.Tags,
		ParentID:    req.ParentID,
	})
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, t)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	status := Status(r.URL.Query().Get("status"))

	tasks, total, err := s.engine.ListTasks(ctx, status, limit, offset)
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, map[string]any{"tasks": tasks, "total": total})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.engine.GetTask(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, t)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.engine.StartTask(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, t)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.engine.CancelTask(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, t)
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.engine.CompleteTask(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, t)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.InvalidArgument, "invalid request body", err))
		return
	}

	t, err := s.engine.MarkTaskFailed(ctx, chi.URLParam(r, "taskID"), req.Error)
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, t)
}

func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		ReviewID string `json:"reviewId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.InvalidArgument, "invalid request body", err))
		return
	}

	t, err := s.engine.RetryTaskFromReview(ctx, chi.URLParam(r, "taskID"), req.ReviewID)
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, t)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.engine.DeleteTask(ctx, chi.URLParam(r, "taskID")); err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, map[string]string{"status": "deleted"})
}
