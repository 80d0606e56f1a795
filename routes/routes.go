package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/pulse/app"
	"github.com/upb/pulse/handlers"
	"github.com/upb/pulse/middleware"
	"github.com/upb/pulse/services/audit"
	"github.com/upb/pulse/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(deps),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader, middleware.UserHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.Logger)
	if deps.DB != nil {
		health.Check("database", handlers.PingFunc(deps.DB.HealthCheck))
	}
	health.Check("sessions", sessionPinger(deps))
	if deps.Pulse != nil {
		health.WithStatus(deps.Pulse.Describe, auditStats(deps))
	}

	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/status", health.HandleStatus)

		if deps.Pulse == nil {
			return
		}

		connections := handlers.NewConnectionHandler(deps.Pulse, deps.Logger)
		accounts := handlers.NewAccountHandler(deps.Pulse, snapshotRecorder(deps), deps.Logger)

		r.Group(func(r chi.Router) {
			r.Use(authenticate(deps))

			r.Get("/providers", connections.HandleListProviders)

			r.Route("/connections", func(r chi.Router) {
				r.Post("/", connections.HandleConnect)
				r.Delete("/", connections.HandleDisconnect)
				r.Post("/{provider}/public-token", connections.HandleExchangePublicToken)
				r.Post("/{provider}/access-token", connections.HandleStoreAccessToken)
			})

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", accounts.HandleGetAccounts)
				r.Get("/snapshots", accounts.HandleListSnapshots)
				r.Post("/refresh", accounts.HandleRefresh)
				r.Get("/{accountID}/transactions", accounts.HandleGetTransactions)
			})

			if deps.Audit != nil {
				events := handlers.NewEventHandler(deps.Audit, deps.Logger)
				r.Route("/events", func(r chi.Router) {
					r.Get("/", events.HandleListEvents)
					r.Get("/failures", events.HandleFailureCounts)
				})
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

// authenticate validates bearer tokens, or trusts the user header when auth is disabled
func authenticate(deps *app.Dependencies) func(http.Handler) http.Handler {
	if deps.AuthMiddleware == nil {
		deps.AuthMiddleware = middleware.NewAuthMiddleware(nil, deps.Logger)
	}
	if deps.AuthEnabled() {
		return deps.AuthMiddleware.RequireAuth
	}
	return deps.AuthMiddleware.TrustHeader
}

func allowedOrigins(deps *app.Dependencies) []string {
	if deps.Config != nil && len(deps.Config.Server.AllowedOrigins) > 0 {
		return deps.Config.Server.AllowedOrigins
	}
	return []string{"http://localhost:*"}
}

func sessionPinger(deps *app.Dependencies) handlers.Pinger {
	if p := deps.SessionPinger(); p != nil {
		return p
	}
	return nil
}

func auditStats(deps *app.Dependencies) func() audit.Stats {
	if deps.Audit == nil {
		return nil
	}
	return deps.Audit.GetStats
}

// snapshotRecorder avoids handing a typed nil to the handler
func snapshotRecorder(deps *app.Dependencies) handlers.SnapshotRecorder {
	if deps.Snapshots == nil {
		return nil
	}
	return deps.Snapshots
}
