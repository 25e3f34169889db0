package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/speechlink/internal/infrastructure/mqtt"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/diagnostics", s.handleDiagnostics)

		r.Route("/ptt", func(r chi.Router) {
			r.Get("/state", s.handlePTTState)

			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware)
				r.Post("/engage", s.handleEngage)
				r.Post("/release", s.handleRelease)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// brokerState returns the broker connection state, or disconnected when the
// server runs without a broker.
func (s *Server) brokerState() mqtt.ConnectionState {
	if s.broker == nil {
		return mqtt.StateDisconnected
	}
	return s.broker.State()
}

// handleHealth returns the server health status. A missing broker
// connection degrades the client but does not make it unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	broker := s.brokerState()
	status := "ok"
	if broker != mqtt.StateConnected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"broker":  broker.String(),
	})
}
