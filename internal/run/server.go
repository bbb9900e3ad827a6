package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/revloop/revloop/pkg/cerr"
)

const streamBufferSize = 64

// Server exposes run inspection and live streaming over HTTP.
type Server struct {
	engine *Engine
}

func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

func (s *Server) Routes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.list)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.get)
			r.Delete("/", s.delete)
			r.Get("/snapshot", s.snapshot)
			r.Get("/events", s.events)
			r.Get("/stream", s.stream)
			r.Post("/abort", s.abort)
		})
	})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	taskID := r.URL.Query().Get("taskId")

	runs, total, err := s.engine.ListRuns(ctx, taskID, limit, offset)
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, map[string]any{"runs": runs, "total": total})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rn, err := s.engine.GetRun(ctx, chi.URLParam(r, "runID"))
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, rn)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := s.engine.GetSnapshot(ctx, chi.URLParam(r, "runID"))
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, snap)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	events, err := s.engine.GetEventLog(ctx, chi.URLParam(r, "runID"))
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, map[string]any{"events": events})
}

// stream replays buffered events and follows live ones as server-sent events.
// The stream ends when the run completes or the client disconnects.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "runID")

	if _, err := s.engine.GetRun(ctx, runID); err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.Internal, "streaming unsupported", nil))
		return
	}

	ch, unsubscribe := s.engine.Subscribe(runID, streamBufferSize)
	if ch == nil {
		// Run is terminal and its stream already dropped; serve the stored log.
		events, err := s.engine.GetEventLog(ctx, runID)
		if err != nil {
			cerr.WriteError(ctx, w, err)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		for _, ev := range events {
			writeSSEEvent(ctx, w, ev)
		}
		flusher.Flush()
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			writeSSEEvent(ctx, w, ev)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(ctx context.Context, w http.ResponseWriter, ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.WarnContext(ctx, "failed to marshal stream event", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.engine.AbortRun(ctx, chi.URLParam(r, "runID")); err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, map[string]string{"status": "aborted"})
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.engine.DeleteRun(ctx, chi.URLParam(r, "runID")); err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, map[string]string{"status": "deleted"})
}
