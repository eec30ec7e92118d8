// Package app assembles the process: router construction, readiness checks,
// and background maintenance loops.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ai-video-pipeline/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-video-pipeline/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input means any origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(httpserver.Metrics())

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Mutating endpoints are rate limited per client IP.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))

		wr.Post("/v1/jobs", srv.CreateJobHandler())
		wr.Post("/v1/jobs/bulk", srv.BulkJobsHandler())
		wr.Post("/v1/jobs/{id}/start", srv.StartJobHandler())
		wr.Post("/v1/jobs/{id}/retry", srv.RetryJobHandler())
		wr.Post("/v1/jobs/{id}/cancel", srv.CancelJobHandler())
		wr.Delete("/v1/jobs/{id}", srv.DeleteJobHandler())
		wr.Post("/v1/uploads", srv.UploadImageHandler())

		wr.Route("/v1/admin", func(ar chi.Router) {
			ar.Post("/pause", srv.PauseHandler())
			ar.Post("/resume", srv.ResumeHandler())
			ar.Post("/reset", srv.ResetHandler())
			ar.Post("/restart-workers", srv.RestartWorkersHandler())
			ar.Post("/accounts/import", srv.ImportAccountsHandler())
			ar.Post("/accounts/{id}/status", srv.AccountStatusHandler())
			ar.Post("/accounts/{id}/refresh-credits", srv.RefreshCreditsHandler())
		})
	})

	// Read-only endpoints.
	r.Get("/v1/jobs", srv.ListJobsHandler())
	r.Get("/v1/jobs/{id}", srv.GetJobHandler())
	r.Get("/v1/jobs/{id}/video", srv.VideoFileHandler())
	r.Get("/v1/admin/queue-status", srv.QueueStatusHandler())
	r.Get("/v1/admin/accounts", srv.ListAccountsHandler())

	// Health and metrics.
	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
