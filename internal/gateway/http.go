package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rahul/dealdesk/internal/agent"
	"github.com/rahul/dealdesk/internal/observability"
	"go.uber.org/zap"
)

// retryAfterSeconds is the Retry-After hint sent with 503 responses.
const retryAfterSeconds = "2"

// maxTurnBody bounds a turn request body.
const maxTurnBody = 64 << 10

// HTTPServer exposes the Turn API.
type HTTPServer struct {
	turns   TurnHandler
	metrics http.Handler
	logger  *observability.Logger
}

// NewHTTPServer builds the server. A nil metrics handler leaves /metrics
// unrouted.
func NewHTTPServer(turns TurnHandler, metrics http.Handler, logger *observability.Logger) *HTTPServer {
	return &HTTPServer{turns: turns, metrics: metrics, logger: logger}
}

// Handler returns the routed handler.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	r.Post("/v1/turns", s.handleTurn)
	return r
}

type turnReply struct {
	Text              string `json:"text"`
	EntityRef         string `json:"entity_ref,omitempty"`
	EntityDisplayName string `json:"entity_display_name,omitempty"`
}

func (s *HTTPServer) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req agent.TurnRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object with session_id and text")
		return
	}

	resp, err := s.turns.HandleTurn(r.Context(), req)
	if err != nil {
		s.writeTurnError(w, r, req.SessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, turnReply{
		Text:              resp.Text,
		EntityRef:         resp.EntityRef,
		EntityDisplayName: resp.EntityDisplayName,
	})
}

func (s *HTTPServer) writeTurnError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	fields := []zap.Field{
		zap.String("session_id", sessionID),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, agent.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case agent.IsRetryable(err):
		s.logger.Warn("turn failed, client may retry", fields...)
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("turn failed", fields...)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
