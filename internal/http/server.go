// Package http exposes the batch event surface: one endpoint per event
// source (queue, change stream) plus a health probe. Handlers mirror the
// upstream handler contract — 200 for handled-or-partially-handled batches
// with a JSON count summary, 500 for failures before the batch is understood.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/theuncproject/chatflow/internal/config"
	"github.com/theuncproject/chatflow/internal/ingest"
	"github.com/theuncproject/chatflow/internal/notify"
	"github.com/theuncproject/chatflow/pkg/protocol"
)

const maxEventBody = 10 << 20 // batches are bounded upstream; 10 MiB is generous

// Server handles the inbound event HTTP surface.
type Server struct {
	cfg      *config.Config
	router   *ingest.Router
	notifier *notify.Notifier
	limiter  *rate.Limiter

	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg *config.Config, router *ingest.Router, notifier *notify.Notifier) *Server {
	s := &Server{cfg: cfg, router: router, notifier: notifier}
	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rps), rps*2)
	}
	return s
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events/queue", requireMethod(http.MethodPost, s.withRateLimit(s.handleQueueEvent)))
	mux.HandleFunc("/v1/events/stream", requireMethod(http.MethodPost, s.withRateLimit(s.handleStreamEvent)))
	mux.HandleFunc("/health", requireMethod(http.MethodGet, s.handleHealth))

	s.mux = mux
	return mux
}

// Start begins serving and blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("event server listening", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("event server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requireMethod restricts a route to one HTTP method, matching the
// behavior of Go 1.22+ method patterns on ServeMux (405 with an Allow
// header on mismatch) for toolchains that predate them.
func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleQueueEvent(w http.ResponseWriter, r *http.Request) {
	var event protocol.QueueEvent
	if err := decodeEvent(w, r, &event); err != nil {
		return
	}

	summary, err := s.router.ProcessBatch(r.Context(), event)
	if err != nil {
		slog.Error("queue handler failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStreamEvent(w http.ResponseWriter, r *http.Request) {
	var event protocol.StreamEvent
	if err := decodeEvent(w, r, &event); err != nil {
		return
	}

	summary, err := s.notifier.HandleStream(r.Context(), event)
	if err != nil {
		slog.Error("stream handler failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeEvent decodes the request body into v. A malformed top-level event
// is a failure of the whole invocation (the batch was never understood), so
// it answers 500 and reports handled=false via a non-nil error.
func decodeEvent(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(v); err != nil {
		slog.Error("malformed event payload", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}
