package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/esp32-osc-core/internal/panel"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	// Directory page (embedded static UI)
	r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.panelDir)))
	r.Handle("/panel", http.RedirectHandler("/panel/", http.StatusMovedPermanently))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/log-level", s.handleGetLogLevel)
		r.Put("/log-level", s.handleSetLogLevel)
		r.Post("/reload", s.handleReloadDevices)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/motor", s.handleMotorSpeed)
				r.Post("/haptic", s.handleHapticEvent)
				r.Post("/{action}", s.handleDeviceAction)
			})
		})

		r.Get("/audit", s.handleListAudit)

		// Device self-registration, polled by firmware over plain GET
		r.Route("/registry", func(r chi.Router) {
			r.Get("/update", s.handleRegistryUpdate)
			r.Get("/devices.json", s.handleRegistryDevices)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.manager.Snapshot()
	status := "ok"
	if snap.Enabled && !snap.Initialized {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"version":   s.version,
		"devices":   len(snap.Devices),
		"connected": snap.Connected(),
	})
}
