// Package httpapi exposes the read-only admin/observability surface of
// §4.13: health, per-symbol detection status, tracked icebergs, and
// Prometheus metrics. Every handler only reads through a component's own
// mutex (Book, Registry, cohort/toxicity analyzers) — it never touches
// the symbol-owning goroutine's channels (§5).
//
// Grounded on the teacher's internal/api/server.go graceful-shutdown
// shape, generalized from net/http.ServeMux to chi, and forgequant's
// mcp/cmd/server/main.go chi router/middleware setup.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coreengine/internal/metrics"
	"coreengine/internal/symbol"
)

// SymbolProvider is the capability Server needs from the process-level
// orchestrator: the current set of running symbol tasks. Kept as an
// interface so this package never imports internal/engine directly.
type SymbolProvider interface {
	Symbols() map[string]*symbol.Engine
}

// Server runs the admin HTTP API.
type Server struct {
	provider SymbolProvider
	metrics  *metrics.Metrics
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds the chi router and wraps it in an http.Server bound to
// port. provider supplies live symbol state; m's private registry backs
// /metrics.
func NewServer(port int, provider SymbolProvider, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		provider: provider,
		metrics:  m,
		logger:   logger.With("component", "httpapi"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/symbols", s.handleListSymbols)
	r.Get("/symbols/{symbol}", s.handleSymbolStatus)
	r.Get("/symbols/{symbol}/icebergs", s.handleSymbolIcebergs)
	if m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests that want to drive it directly
// via httptest without binding a real port.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start blocks serving HTTP until Stop is called, returning
// http.ErrServerClosed wrapped as nil on a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("admin api starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	symbols := s.provider.Symbols()
	names := make([]string, 0, len(symbols))
	for sym := range symbols {
		names = append(names, sym)
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Symbols: names})
}

func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := s.provider.Symbols()
	names := make([]string, 0, len(symbols))
	for sym := range symbols {
		names = append(names, sym)
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleSymbolStatus(w http.ResponseWriter, r *http.Request) {
	symName := chi.URLParam(r, "symbol")
	eng, ok := s.provider.Symbols()[symName]
	if !ok {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, buildSymbolStatus(symName, eng))
}

func (s *Server) handleSymbolIcebergs(w http.ResponseWriter, r *http.Request) {
	symName := chi.URLParam(r, "symbol")
	eng, ok := s.provider.Symbols()[symName]
	if !ok {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}
	levels := eng.Registry.Snapshot()
	now := time.Now()
	out := make([]IcebergStatus, 0, len(levels))
	for _, lvl := range levels {
		side := "bid"
		if lvl.IsAsk {
			side = "ask"
		}
		confidence, _ := eng.Registry.GetDecayedConfidence(lvl.Price, lvl.IsAsk, now)
		out = append(out, IcebergStatus{
			Price:             lvl.Price.String(),
			Side:              side,
			Status:            string(lvl.Status),
			TotalHiddenVolume: lvl.TotalHiddenVolume.String(),
			RefillCount:       lvl.RefillCount,
			ConfidenceScore:   confidence,
			CreationTimeMs:    lvl.CreationTimeMs,
			LastUpdateTimeMs:  lvl.LastUpdateTimeMs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("httpapi: encode response failed", "error", err)
	}
}
