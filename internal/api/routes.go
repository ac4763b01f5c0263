package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all routes. Everything under /api requires a
// tenant identity.
func SetupRoutes(h *Handlers, d Deps, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderTenant, HeaderUser, HeaderTier, HeaderRole},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if d.Health != nil {
		r.Get("/health", d.Health.HandleHealth)
		r.Get("/health/live", d.Health.HandleLiveness)
		r.Get("/health/ready", d.Health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})
	}
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireIdentity)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.SubmitCampaign)
			r.Get("/", h.ListCampaigns)
			r.Post("/preview", h.PreviewCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Get("/messages", h.ListMessages)
				r.Get("/jobs", h.ListJobs)
				r.Get("/events", h.StreamEvents)
				r.Post("/pause", h.PauseCampaign)
				r.Post("/resume", h.ResumeCampaign)
			})
		})

		r.Route("/blacklist", func(r chi.Router) {
			r.Get("/", h.ListBlacklist)
			r.Post("/", h.AddToBlacklist)
			r.Get("/stats", h.BlacklistStats)
			r.Get("/check", h.CheckBlacklist)
			r.Post("/check", h.ValidateBatch)
			r.Post("/reports", h.ReportAbuse)
			r.Get("/reports", h.ListReports)
			r.Delete("/{phone}", h.RemoveFromBlacklist)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.ListSchedules)
			r.Get("/{id}", h.GetSchedule)
			r.Delete("/{id}", h.CancelSchedule)
		})

		r.Get("/queue/stats", h.QueueStats)
	})

	return r
}
