package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/revloop/revloop/pkg/cerr"
)

const streamBufferSize = 256

// Server streams lifecycle events to clients as server-sent events.
type Server struct {
	bus *Bus
}

func NewServer(bus *Bus) *Server {
	return &Server{bus: bus}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/events/stream", s.stream)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.Internal, "streaming unsupported", nil))
		return
	}

	id, ch := s.bus.Subscribe(streamBufferSize)
	defer s.bus.Unsubscribe(id)

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
			data, err := json.Marshal(ev)
			if err != nil {
				slog.WarnContext(ctx, "failed to marshal bus event", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
