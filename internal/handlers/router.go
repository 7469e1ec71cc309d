package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	mw "github.com/irisballot/backend/internal/middleware"
	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/services"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Credentials    *services.CredentialService
	Identity       *services.IdentityService
	Audit          *services.AuditService
	Kiosk          *services.KioskService
	Tokens         *mw.TokenIssuer
	Auth           *mw.Authenticator
	Health         Pinger
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	SwaggerURL     string
	Log            zerolog.Logger
}

// NewRouter wires the kiosk shell API.
func NewRouter(cfg RouterConfig) http.Handler {
	authH := NewAuthHandler(cfg.Credentials, cfg.Tokens, cfg.Auth, cfg.Log)
	sessionH := NewSessionHandler(cfg.Kiosk, cfg.Log)
	personH := NewPersonHandler(cfg.Identity, cfg.Kiosk, cfg.Log)
	userH := NewUserHandler(cfg.Credentials, cfg.Log)
	auditH := NewAuditHandler(cfg.Audit, cfg.Log)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.RequestLogger(cfg.Log))
	r.Use(chimw.Recoverer)
	r.Use(mw.SecurityHeaders)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.SwaggerURL != "" {
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL(cfg.SwaggerURL)))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authH.Login)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.Middleware)

			r.Post("/auth/logout", authH.Logout)
			r.Post("/users/{username}/totp", userH.EnrollTOTP)

			r.Route("/sessions", func(r chi.Router) {
				r.Use(mw.RequireRole(models.RoleAdmin, models.RoleOperator, models.RoleVoter))
				r.Post("/", sessionH.Start)
				r.Get("/{id}", sessionH.Get)
				r.Post("/{id}/vote", sessionH.Vote)
				r.With(mw.RequireRole(models.RoleAdmin, models.RoleOperator)).Delete("/{id}", sessionH.Cancel)
			})

			r.Route("/persons", func(r chi.Router) {
				r.Use(mw.RequireRole(models.RoleAdmin, models.RoleOperator))
				r.Post("/", personH.Enroll)
				r.Get("/{id}", personH.Get)
				r.Put("/{id}", personH.Update)
				r.Put("/{id}/template", personH.UpdateTemplate)
				r.Post("/{id}/deactivate", personH.Deactivate)
				r.Get("/{id}/access", personH.AccessLogs)
				r.With(mw.RequireRole(models.RoleAdmin)).Delete("/{id}", personH.Delete)
			})

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(models.RoleAdmin))
				r.Post("/users", userH.Register)
				r.Delete("/users/{username}", userH.Delete)
				r.Put("/users/{username}/role", userH.ChangeRole)
				r.Put("/users/{username}/password", userH.ResetPassword)
				r.Put("/users/{username}/person", userH.Link)
				r.Delete("/users/{username}/person", userH.Unlink)
				r.Get("/audit/verify", auditH.Verify)
				r.Get("/audit/events", auditH.Events)
			})
		})
	})

	return r
}
