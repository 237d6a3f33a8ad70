package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/AlfredDev/virtualize/config"
	"github.com/AlfredDev/virtualize/handler"
	gwmw "github.com/AlfredDev/virtualize/middleware"
	"github.com/AlfredDev/virtualize/observability"
)

// Handlers bundles every route handler the router mounts, so New's
// signature stays stable as the handler set grows.
type Handlers struct {
	Virtual    *handler.VirtualHandler
	Content    *handler.ContentHandler
	Monitoring *handler.MonitoringHandler
}

// New returns a configured chi Router with the full middleware chain and
// every route from the HTTP surface mounted under /v1.
func New(cfg *config.Config, appLogger zerolog.Logger, h Handlers, metrics *observability.Metrics) http.Handler {
	r := chi.NewRouter()

	// --- Middleware Chain (order matters) ---
	r.Use(gwmw.CORSMiddleware(cfg.CORSOrigins))
	r.Use(gwmw.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(appLogger))
	r.Use(observability.TracingMiddleware)
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	// --- Health endpoints (no auth required) ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"virtualize"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"virtualize"}`))
	})

	if metrics != nil {
		r.Get("/metrics", metrics.Handler())
	}

	authMW := gwmw.NewAuthMiddleware(appLogger, cfg.JWTSecret)
	rateLimiter := gwmw.NewRateLimiter(appLogger, cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.RateLimitBurst)
	headerNorm := gwmw.NewHeaderNormalization(appLogger)
	timeoutMW := gwmw.NewTimeoutMiddleware(appLogger, cfg)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMW.Handler)
		r.Use(rateLimiter.Handler)
		r.Use(headerNorm.Handler)
		r.Use(timeoutMW.Handler)

		// Progressive Virtualization (§6.1)
		r.With(gwmw.RequireRole(gwmw.RoleStudent)).Post("/virtual/progressive-generation", h.Virtual.ProgressiveGeneration)
		r.With(gwmw.RequireRole(gwmw.RoleStudent)).Post("/virtual/trigger-next-topic", h.Virtual.TriggerNextTopic)
		r.With(gwmw.RequireRole(gwmw.RoleStudent)).Get("/virtual/modules/{id}", h.Virtual.GetModule)

		// Content results + authoring settings
		r.With(gwmw.RequireRole(gwmw.RoleStudent)).Post("/content/results", h.Content.RecordResult)
		r.With(gwmw.RequireRole(gwmw.RoleTeacher, gwmw.RoleInstituteAdmin, gwmw.RoleAdmin)).
			Put("/modules/{id}/virtualization-settings", h.Content.UpdateVirtualizationSettings)

		// Content authoring (§6.1 ContentAuthoringAPI): publish state and
		// topic-content CRUD, each fanning out through the Sync Reconciler.
		r.Route("/content", func(r chi.Router) {
			r.Use(gwmw.RequireRole(gwmw.RoleTeacher, gwmw.RoleInstituteAdmin, gwmw.RoleAdmin))
			r.Put("/topics/{id}/publish", h.Content.SetTopicPublished)
			r.Put("/topics/{id}/contents", h.Content.UpsertTopicContent)
			r.Delete("/topics/{id}", h.Content.DeleteTopic)
			r.Delete("/modules/{id}", h.Content.DeleteModule)
		})

		// AI-call monitoring & budget gate
		r.Post("/ai-monitoring/calls", h.Monitoring.RegisterCall)
		r.Put("/ai-monitoring/calls/{call_id}", h.Monitoring.UpdateCall)
		r.With(gwmw.RequireRole(gwmw.RoleAdmin)).Get("/ai-monitoring/stats", h.Monitoring.Stats)
		r.With(gwmw.RequireRole(gwmw.RoleAdmin)).Put("/ai-monitoring/config", h.Monitoring.PutConfig)
	})

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024 // default 1MB
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"success":false,"error":{"code":"validation","message":"request body too large"}}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
