package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nesthaus/riskengine/internal/auth"
	"github.com/nesthaus/riskengine/internal/engine"
	"github.com/nesthaus/riskengine/internal/handler"
	"github.com/nesthaus/riskengine/internal/infra"
	"github.com/nesthaus/riskengine/internal/metrics"
	"github.com/nesthaus/riskengine/internal/repository"
)

// streamTokenParam carries the bearer token on WebSocket upgrades.
const streamTokenParam = "access_token"

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Engine *engine.Engine
	JWTMgr *auth.JWTManager
	Hub    *infra.WSHub
	Guards *Guards
	// Pool is nil when the archive is disabled.
	Pool             *pgxpool.Pool
	Logger           *slog.Logger
	CORSOrigins      []string
	RequestTimeout   time.Duration
	BlockOnDetection bool
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	eng := deps.Engine
	logger := deps.Logger
	guards := deps.Guards

	var (
		archive *handler.Archive
		pinger  infra.Pinger
	)
	if deps.Pool != nil {
		archive = &handler.Archive{
			DB:     deps.Pool,
			Events: repository.NewSecurityEventRepository(),
			Alerts: repository.NewSecurityAlertRepository(),
		}
		pinger = deps.Pool
	}

	// Handlers
	securityHandler := handler.NewSecurityHandler(eng, archive, guards.Reports, logger)
	collectorHandler := handler.NewCollectorHandler(eng, guards.Notices, deps.BlockOnDetection, logger)
	authLockout := handler.NewAuthLockout(guards.Lockout, eng.Monitor(), logger)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handler.RequestLogger(logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", handler.SessionHeader, "Idempotency-Key"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(handler.JSONContentType)

	// Live feed: no request timeout, token may arrive as a query parameter.
	r.With(
		authLockout.Middleware,
		auth.Authenticate(deps.JWTMgr, authLockout.Hooks(), streamTokenParam, auth.RealmAnalyst),
		auth.RequireRole(auth.ReadRoles()...),
	).Get("/security/stream", handler.StreamHandler(deps.Hub))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(deps.RequestTimeout))

		// Ops (no auth)
		r.Get("/health", handler.HealthHandler(eng, pinger))
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		// Public browser collector
		r.Route("/collect", func(r chi.Router) {
			r.Use(handler.RateLimit(guards.Collector, handler.ClientIP, collectorHandler.OnRateLimited))
			r.Post("/track", collectorHandler.Track)
			r.Post("/devtools", collectorHandler.DevTools)
		})

		// Analyst API
		r.Route("/security", func(r chi.Router) {
			r.Use(authLockout.Middleware)
			r.Use(auth.Authenticate(deps.JWTMgr, authLockout.Hooks(), "", auth.RealmAnalyst, auth.RealmService))
			r.Use(handler.MethodLimits(guards.securityLimits(), callerKey))

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.ReadRoles()...))
				r.Get("/dashboard", securityHandler.Dashboard)
				r.Get("/events", securityHandler.Events)
				r.Get("/alerts", securityHandler.Alerts)
				r.Get("/config", securityHandler.Config)

				r.Route("/archive", func(r chi.Router) {
					r.Get("/events", securityHandler.ArchivedEvents)
					r.Get("/events/{id}", securityHandler.ArchivedEvent)
					r.Get("/alerts", securityHandler.ArchivedAlerts)
					r.Get("/summary", securityHandler.ArchiveSummary)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.WriteRoles()...))
				r.Post("/alerts/{id}/resolve", securityHandler.ResolveAlert)
				r.Post("/events/{id}/resolve", securityHandler.ResolveEvent)
				r.Put("/config", securityHandler.UpdateConfig)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.ReporterRoles()...))
				r.Post("/analyze", securityHandler.Analyze)
				r.Post("/report", securityHandler.Report)
			})
		})
	})

	return r
}
