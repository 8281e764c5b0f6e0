// Package gateway exposes the orchestration engine over HTTP: conversation
// turns, task polling and cancellation, itinerary retrieval, a websocket
// progress stream, and Prometheus metrics.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tripstream/tripstream/config"
	"github.com/tripstream/tripstream/engine"
	"github.com/tripstream/tripstream/itinerary"
	"github.com/tripstream/tripstream/progress"
	"github.com/tripstream/tripstream/storage"
	"github.com/tripstream/tripstream/task"
)

// Orchestrator is the engine surface the gateway calls. *engine.Engine
// implements it.
type Orchestrator interface {
	HandleTurn(ctx context.Context, conversationID, turnID, text string) (engine.TurnResult, error)
	StartGeneration(ctx context.Context, conversationID string) (task.Task, error)
	Replan(ctx context.Context, versionID, modification string) (task.Task, error)
	Cancel(ctx context.Context, taskID string) (task.Task, error)
}

// Server is the HTTP gateway.
type Server struct {
	orchestrator Orchestrator
	progress     *progress.Publisher
	itineraries  *itinerary.Store
	logger       *slog.Logger
	httpServer   *http.Server
}

// New creates a gateway server bound to cfg.Addr.
func New(cfg config.GatewayConfig, orchestrator Orchestrator, pub *progress.Publisher, itineraries *itinerary.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orchestrator: orchestrator,
		progress:     pub,
		itineraries:  itineraries,
		logger:       logger,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/conversations/{id}/turns", s.handleTurn)
	mux.HandleFunc("POST /v1/conversations/{id}/plan", s.handlePlan)
	mux.HandleFunc("GET /v1/conversations/{id}/itinerary", s.handleConversationItinerary)

	mux.HandleFunc("GET /v1/tasks/{id}", s.handleTaskGet)
	mux.HandleFunc("GET /v1/tasks/{id}/stream", s.handleTaskStream)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", s.handleTaskCancel)

	mux.HandleFunc("GET /v1/itineraries/{id}", s.handleItineraryGet)
	mux.HandleFunc("POST /v1/itineraries/{id}/replan", s.handleReplan)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Gateway listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var failure *task.Failure
	if errors.As(err, &failure) {
		switch failure.Code {
		case task.CodeInvalidRequest:
			return http.StatusBadRequest
		case task.CodeAmbiguousModification:
			return http.StatusUnprocessableEntity
		case task.CodeUnknownTask:
			return http.StatusNotFound
		case task.CodeStorageUnavailable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	}
	switch {
	case errors.Is(err, task.ErrUnknownTask), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
