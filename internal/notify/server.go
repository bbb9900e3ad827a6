package notify

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/revloop/revloop/internal/config"
	"github.com/revloop/revloop/pkg/cerr"
)

// Server manages web push subscriptions over HTTP.
type Server struct {
	env  *config.PushEnv
	repo Repository
}

func NewServer(env *config.PushEnv, repo Repository) *Server {
	return &Server{env: env, repo: repo}
}

func (s *Server) Routes(r chi.Router) {
	r.Route("/push", func(r chi.Router) {
		r.Get("/vapid-public-key", s.vapidPublicKey)
		r.Post("/subscribe", s.subscribe)
		r.Post("/unsubscribe", s.unsubscribe)
	})
}

func (s *Server) vapidPublicKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.env.VAPIDPublicKey == "" {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.FailedPrecondition, "push notifications are not configured", nil))
		return
	}
	cerr.WriteJSON(ctx, w, map[string]string{"publicKey": s.env.VAPIDPublicKey})
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.InvalidArgument, "invalid request body", err))
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.InvalidArgument, "endpoint and keys are required", nil))
		return
	}

	// Re-subscribing the same endpoint is a no-op.
	existing, err := s.repo.FindByEndpoint(ctx, req.Endpoint)
	if err == nil {
		cerr.WriteJSON(ctx, w, existing)
		return
	}
	if !cerr.IsCode(err, cerr.NotFound) {
		cerr.WriteError(ctx, w, err)
		return
	}

	sub := &Subscription{
		ID:        ulid.Make().String(),
		Endpoint:  req.Endpoint,
		P256dhKey: req.Keys.P256dh,
		AuthKey:   req.Keys.Auth,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, sub)
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.InvalidArgument, "invalid request body", err))
		return
	}
	if req.Endpoint == "" {
		cerr.WriteError(ctx, w, cerr.NewError(cerr.InvalidArgument, "endpoint is required", nil))
		return
	}

	if err := s.repo.DeleteByEndpoint(ctx, req.Endpoint); err != nil {
		cerr.WriteError(ctx, w, err)
		return
	}
	cerr.WriteJSON(ctx, w, map[string]string{"status": "unsubscribed"})
}
