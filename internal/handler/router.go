package handler

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/phucdat/portal/backend/internal/handler/accounting"
	"github.com/phucdat/portal/backend/internal/handler/auth"
	"github.com/phucdat/portal/backend/internal/handler/chat"
	"github.com/phucdat/portal/backend/internal/handler/pages"
	"github.com/phucdat/portal/backend/internal/metrics"
	middlewarePkg "github.com/phucdat/portal/backend/internal/middleware"
	accountingService "github.com/phucdat/portal/backend/internal/service/accounting"
	authService "github.com/phucdat/portal/backend/internal/service/auth"
	chatService "github.com/phucdat/portal/backend/internal/service/chat"
	"github.com/phucdat/portal/backend/pkg/utils"
)

const healthTimeout = 2 * time.Second

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the services the router exposes.
type Deps struct {
	Logger       zerolog.Logger
	Auth         *authService.Service
	Chat         *chatService.Service
	Accounting   *accountingService.Service
	LoginLimiter *middlewarePkg.RateLimiter
	// RealIP lists the proxies whose forwarding headers are trusted; nil
	// keys clients on the socket address.
	RealIP         *middlewarePkg.RealIPConfig
	AllowedOrigins []string
	// Static is the front-end bundle; nil disables page serving.
	Static fs.FS
	Checks map[string]HealthCheck
	// Shutdown is cancelled when the server starts draining; live feeds
	// close on it.
	Shutdown context.Context
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middlewarePkg.RealIP(deps.RealIP))
	r.Use(middlewarePkg.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))
	r.Use(middlewarePkg.Session(deps.Auth))

	r.Get("/healthz", handleHealth(deps.Checks))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	var limiter func(http.Handler) http.Handler
	if deps.LoginLimiter != nil {
		limiter = deps.LoginLimiter.Handler
	}

	r.Route("/api", func(api chi.Router) {
		auth.New(deps.Auth, limiter).RegisterRoutes(api)
		chat.New(deps.Chat, deps.Accounting.Location(), deps.AllowedOrigins).CloseFeedsOn(deps.Shutdown).RegisterRoutes(api)

		api.With(middlewarePkg.RequireAdmin).Route("/accounting", accounting.New(deps.Accounting).RegisterRoutes)

		api.NotFound(func(w http.ResponseWriter, r *http.Request) {
			utils.RespondError(w, http.StatusNotFound, "not found")
		})
		api.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			utils.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
		})
	})

	if deps.Static != nil {
		pages.New(deps.Static).RegisterRoutes(r)
	}

	return r
}

func handleHealth(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Str("check", name).Msg("health check failed")
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		utils.RespondJSON(w, status, map[string]interface{}{
			"status": overall,
			"checks": results,
		})
	}
}
