package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/middleware"
)

// RouterDeps are the handlers mounted by NewRouter.
type RouterDeps struct {
	Health  *HealthHandler
	Config  *ConfigHandler
	Imports *ImportHandler
	Metrics http.Handler // optional
	Logger  *zap.Logger
}

// NewRouter builds the admin HTTP surface.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(deps.Logger))

	deps.Health.RegisterRoutes(r)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		deps.Config.RegisterRoutes(r)
		deps.Imports.RegisterRoutes(r)
	})
	return r
}
