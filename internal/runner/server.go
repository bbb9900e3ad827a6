package runner

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/revloop/revloop/pkg/cerr"
)

const probeTimeout = 10 * time.Second

// Server exposes the registered runners over HTTP.
type Server struct {
	registry *Registry
}

func NewServer(registry *Registry) *Server {
	return &Server{registry: registry}
}

func (s *Server) Routes(r chi.Router) {
	r.Route("/runners", func(r chi.Router) {
		r.Get("/", s.list)
		r.Get("/available", s.available)
		r.Get("/{runnerID}", s.get)
	})
}

type runnerInfo struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

func describe(rn Runner) runnerInfo {
	return runnerInfo{ID: rn.ID(), Name: rn.Name(), Capabilities: rn.Capabilities()}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	infos := make([]runnerInfo, 0)
	for _, rn := range s.registry.List() {
		infos = append(infos, describe(rn))
	}
	cerr.WriteJSON(ctx, w, map[string]any{"runners": infos})
}

func (s *Server) available(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Availability probes shell out to external binaries; bound them.
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	infos := make([]runnerInfo, 0)
	for _, rn := range s.registry.Available(probeCtx) {
		infos = append(infos, describe(rn))
	}
	cerr.WriteJSON(ctx, w, map[string]any{"runners": infos})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rn, err := s.registry.Get(chi.URLParam(r, "runnerID"))
	if err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, describe(rn))
}
