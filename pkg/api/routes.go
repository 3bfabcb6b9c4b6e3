package api

import (
	"net/http"

	"github.com/husmancristian/TA_CONSOLE/pkg/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors" // Import CORS package
)

// SetupRouter initializes the Chi router and defines the API endpoints.
func SetupRouter(api *API, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// --- CORS Configuration ---
	// Credentials cannot be combined with the "*" origin.
	allowCredentials := true
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			allowCredentials = false
		}
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: allowCredentials,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})

	// --- Standard Middleware Stack ---
	r.Use(corsMiddleware.Handler) // Apply CORS middleware FIRST or early
	r.Use(middleware.RequestID)   // Assign unique request IDs
	r.Use(middleware.RealIP)      // Get real client IP
	// Replace chi's default logger with our custom structured logger
	r.Use(StructuredRequestLogger(api.Logger))
	r.Use(middleware.Recoverer) // Recover from panics

	// Basic health check endpoint (doesn't need API struct)
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Live run stream; lives as long as the run is pending, so no request timeout.
		r.Get("/test-runs/{runId}/watch", api.HandleWatchTestRun)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))

			r.Get("/test-runs/{runId}", api.HandleGetTestRun)

			r.Route("/test-cases", func(r chi.Router) {
				testCaseResource(api).mount(r)
				r.Get("/{id}/runs", api.HandleListTestCaseRuns)
				r.Post("/{id}/run", api.HandleRunTestCase) // ?queued=true enqueues instead
			})
			r.Route("/browser-configs", browserConfigResource(api).mount)
			r.Route("/secrets", secretResource(api).mount)
			r.Route("/projects", projectResource(api).mount)

			r.Get("/queue/status", api.HandleGetQueueStatus)

			r.Route("/archive/runs", func(r chi.Router) {
				r.Get("/", api.HandleListArchivedRuns)
				r.Get("/{runId}", api.HandleGetArchivedRun)
			})
		})
	})

	return r
}
