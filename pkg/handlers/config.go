package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/services"
)

// ConfigHandler serves the read-only configuration listing.
type ConfigHandler struct {
	configService services.ConfigService
	logger        *zap.Logger
}

// NewConfigHandler creates a new configuration handler.
func NewConfigHandler(configService services.ConfigService, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{configService: configService, logger: logger}
}

// RegisterRoutes registers the configuration routes.
func (h *ConfigHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sources", h.ListSources)
	r.Get("/sources/{name}/mappings", h.ListMappings)
}

// ListSources handles GET /api/sources.
// Connection descriptors are never included.
func (h *ConfigHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.configService.ListSources(r.Context())
	if err != nil {
		writeError(w, err, "list sources", h.logger)
		return
	}
	writeData(w, http.StatusOK, sources, h.logger)
}

// ListMappings handles GET /api/sources/{name}/mappings.
func (h *ConfigHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.configService.ListMappings(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err, "list table mappings", h.logger)
		return
	}
	writeData(w, http.StatusOK, mappings, h.logger)
}
