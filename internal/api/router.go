// Package api provides the HTTP API for the air quality service.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/airwatch/airwatch/internal/api/handler"
	"github.com/airwatch/airwatch/internal/api/middleware"
	"github.com/airwatch/airwatch/internal/auth"
	"github.com/airwatch/airwatch/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// RequireTLS rejects forwarded plain-HTTP requests.
	RequireTLS bool

	// Readings serves the public read endpoints.
	Readings handler.ReadingService

	// Store is pinged by the readiness and status endpoints.
	Store       handler.Pinger
	StoreDriver string

	// Providers reports upstream circuit state on /ops/status. Optional.
	Providers *resilience.Registry

	// Ingest runs on POST /api/admin/ingest. Optional.
	Ingest handler.IngestRunner

	// Tokens validates bearer tokens for the operator endpoints.
	Tokens middleware.TokenValidator

	// PublicRateLimit overrides middleware.PublicRateLimit.
	PublicRateLimit *middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "airwatch-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.CORS())                     // Browser clients on any origin
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	readingsHandler := handler.NewReadingsHandler(cfg.Readings, cfg.Logger)
	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:     cfg.Version,
		BuildTime:   cfg.BuildTime,
		Store:       cfg.Store,
		StoreDriver: cfg.StoreDriver,
		Providers:   cfg.Providers,
	})
	adminHandler := handler.NewAdminHandler(cfg.Ingest, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.Tokens)

	publicLimit := middleware.PublicRateLimit
	if cfg.PublicRateLimit != nil {
		publicLimit = *cfg.PublicRateLimit
	}

	r.Route("/api", func(r chi.Router) {
		// Read endpoints (public) - per-IP rate limiting
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(publicLimit))
			r.Get("/pollutant-data/{latitude}/{longitude}", readingsHandler.PollutantData)
			r.Get("/pollutant-history/{latitude}/{longitude}", readingsHandler.PollutantHistory)
			r.Get("/pollutants", readingsHandler.Pollutants)
			r.Get("/map-data", readingsHandler.MapData)
		})

		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			// Status endpoint requires authentication
			r.With(authMiddleware).Get("/status", opsHandler.SystemStatus)
		})

		// Admin endpoints - admin role, per-subject rate limiting
		r.Route("/admin", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RequireRole(auth.RoleAdmin))
			r.Use(middleware.RateLimitBySubject(middleware.AdminRateLimit))
			r.Post("/ingest", adminHandler.TriggerIngest)
		})
	})

	return r
}
