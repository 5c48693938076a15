package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/licenselock/licenselock/internal/http/handler"
	"github.com/licenselock/licenselock/internal/http/middleware"
	"github.com/licenselock/licenselock/internal/http/response"
)

// ReadinessFunc reports whether the backing stores answer.
type ReadinessFunc func(r *http.Request) error

type Dependencies struct {
	AuthHandler    *handler.AuthHandler
	AdminHandler   *handler.AdminHandler
	Logger         *slog.Logger
	OperatorKey    string
	Readiness      ReadinessFunc
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	if dep.Logger != nil {
		r.Use(middleware.StructuredRequestLogger(dep.Logger))
	}
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness != nil {
			if err := dep.Readiness(r); err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", nil)
				return
			}
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", dep.AuthHandler.Register)
			r.Post("/login", dep.AuthHandler.Login)
			r.Post("/session/validate", dep.AuthHandler.Validate)
			r.Post("/logout", dep.AuthHandler.Logout)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireOperatorKey(dep.OperatorKey))
			r.Post("/products", dep.AdminHandler.CreateProduct)
			r.Get("/products", dep.AdminHandler.ListProducts)
			r.Post("/licenses", dep.AdminHandler.GrantLicense)
			r.Post("/licenses/{id}/revoke", dep.AdminHandler.RevokeLicense)
			r.Post("/bindings/rebind", dep.AdminHandler.Rebind)
			r.Get("/users/{id}/licenses", dep.AdminHandler.ListUserLicenses)
			r.Get("/users/{id}/entitlements/{product_id}", dep.AdminHandler.CheckEntitlement)
			r.Get("/users/{id}/bindings/{product_id}/history", dep.AdminHandler.BindingHistory)
			r.Post("/users/{id}/block", dep.AdminHandler.BlockUser)
			r.Post("/users/{id}/unblock", dep.AdminHandler.UnblockUser)
			r.Get("/users/{id}/sessions", dep.AdminHandler.ListUserSessions)
			r.Post("/users/{id}/sessions/revoke", dep.AdminHandler.RevokeUserSessions)
			r.Get("/audit", dep.AdminHandler.ListAudit)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
