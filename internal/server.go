package internal

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/revloop/revloop/internal/config"
	"github.com/revloop/revloop/internal/eventbus"
	"github.com/revloop/revloop/internal/notify"
	"github.com/revloop/revloop/internal/review"
	"github.com/revloop/revloop/internal/run"
	"github.com/revloop/revloop/internal/runner"
	"github.com/revloop/revloop/internal/task"
	"github.com/revloop/revloop/pkg/cerr"
	"github.com/revloop/revloop/pkg/clog"
)

type Server struct {
	server       *http.Server
	env          *config.Env
	taskServer   *task.Server
	runServer    *run.Server
	reviewServer *review.Server
	runnerServer *runner.Server
	notifyServer *notify.Server
	eventServer  *eventbus.Server
}

func NewServer(
	env *config.Env,
	taskServer *task.Server,
	runServer *run.Server,
	reviewServer *review.Server,
	runnerServer *runner.Server,
	notifyServer *notify.Server,
	eventServer *eventbus.Server,
) *Server {
	return &Server{
		env:          env,
		taskServer:   taskServer,
		runServer:    runServer,
		reviewServer: reviewServer,
		runnerServer: runnerServer,
		notifyServer: notifyServer,
		eventServer:  eventServer,
	}
}

// ListenAndServe starts the HTTP server. The provided context is used as the
// base context for all incoming requests via http.Server.BaseContext. When ctx
// is cancelled (e.g. on shutdown signal), all event stream contexts are also
// cancelled, allowing the server to shut down without waiting for streams.
func (s *Server) ListenAndServe(ctx context.Context) error {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(clog.SlogChiMiddleware())
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.WriteJSONError(r.Context(), w, cerr.NewError(cerr.NotFound, "not found", nil))
		})

		s.taskServer.Routes(r)
		s.runServer.Routes(r)
		s.reviewServer.Routes(r)
		s.runnerServer.Routes(r)
		s.notifyServer.Routes(r)
		s.eventServer.Routes(r)
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)

	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr: addr,
		Handler: h2c.NewHandler(cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(s.apiKeyMiddleware(mux)), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip API key check for the health endpoint.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.Header.Get("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}
		if apiKey != s.env.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
