// Package api is the ingress surface: the webhook the reduction service calls
// and the read endpoints for scores and status.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okian/swapbridge/internal/adapters/mq/queue"
	"github.com/okian/swapbridge/internal/domain/dedupe"
	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/pkg/logger"
)

// Bridge is the part of the control bridge the handlers use.
type Bridge interface {
	Enqueue(ctx context.Context, action queue.Action, payload any, onComplete queue.Callback) error
	Scores() model.ScoreSnapshot
	Alive() bool
	Err() error
}

// Guard protects a handler with inbound credentials.
type Guard interface {
	Require(next http.Handler) http.Handler
}

// StatusFunc renders the plain-text status line.
type StatusFunc func(ctx context.Context) string

// Server wires HTTP routes for the bridge.
type Server struct {
	guard Guard

	statusHandler   *StatusHandler
	scoresHandler   *ScoresHandler
	classifyHandler *ClassifyHandler
	healthHandler   *HealthHandler

	extra  map[string]http.Handler
	logger logger.Logger
}

// NewServer creates a server with all handlers. Classifications accepted by
// the classify handler are handed to bridge with notify as their callback;
// notify may be nil.
func NewServer(deduper dedupe.Deduper, bridge Bridge, guard Guard, opts ...Option) *Server {
	s := &Server{
		guard: guard,
		extra: make(map[string]http.Handler),
	}
	cfg := options{}
	for _, opt := range opts {
		opt(&cfg)
	}
	s.logger = cfg.logger
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}
	for path, h := range cfg.extra {
		s.extra[path] = h
	}

	s.statusHandler = NewStatusHandler(bridge, cfg.status)
	s.scoresHandler = NewScoresHandler(bridge)
	s.classifyHandler = NewClassifyHandler(deduper, bridge, cfg.notify, s.logger)
	s.healthHandler = NewHealthHandler()
	return s
}

// Routes returns the router. /, /status and /metrics are open; /scores and
// /classify require credentials.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", MetricsMiddleware(s.statusHandler.HandleStatus, "status"))
	r.Get("/status", MetricsMiddleware(s.statusHandler.HandleStatus, "status"))
	r.Get("/metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	for path, h := range s.extra {
		r.Handle(path, h)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.guard.Require)
		r.Get("/scores", MetricsMiddleware(s.scoresHandler.HandleScores, "scores"))
		r.Post("/classify", MetricsMiddleware(s.classifyHandler.HandleClassify, "classify"))
	})

	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
