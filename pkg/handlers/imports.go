package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
	"github.com/ekaya-inc/ekaya-etl/pkg/services"
)

// ImportLogPage is one page of a mapping's import logs.
type ImportLogPage struct {
	Logs   []*models.ImportLog `json:"logs"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// ImportHandler triggers runs and serves their audit trail.
type ImportHandler struct {
	runCtx        context.Context
	importService services.ImportService
	logger        *zap.Logger
}

// NewImportHandler creates a new import handler. Runs outlive the request
// that triggered them and are cancelled only when runCtx is done, typically
// at server shutdown.
func NewImportHandler(runCtx context.Context, importService services.ImportService, logger *zap.Logger) *ImportHandler {
	return &ImportHandler{runCtx: runCtx, importService: importService, logger: logger}
}

// RegisterRoutes registers the import routes.
func (h *ImportHandler) RegisterRoutes(r chi.Router) {
	r.Get("/transforms", h.ListTransforms)
	r.Post("/runs", h.Run)
	r.Get("/mappings/{id}/import-logs", h.ListImportLogs)
}

// ListTransforms handles GET /api/transforms.
func (h *ImportHandler) ListTransforms(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.importService.ListTransforms(), h.logger)
}

// Run handles POST /api/runs.
// A finished run responds 200 whether it succeeded or failed; the RunResult
// status tells which. A mapping that is already running responds 409 with the
// rejected RunResult.
func (h *ImportHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(h.runCtx, cancel)
	defer stop()

	res, err := h.importService.Run(ctx, req)
	if err != nil {
		if errors.Is(err, apperrors.ErrRunInProgress) && res != nil {
			response := ApiResponse{Success: false, Data: res, Error: "run_in_progress", Message: err.Error()}
			if err := WriteJSON(w, http.StatusConflict, response); err != nil {
				h.logger.Error("Failed to write response", zap.Error(err))
			}
			return
		}
		writeError(w, err, "run import", h.logger)
		return
	}

	writeData(w, http.StatusOK, res, h.logger)
}

// ListImportLogs handles GET /api/mappings/{id}/import-logs?limit&offset.
func (h *ImportHandler) ListImportLogs(w http.ResponseWriter, r *http.Request) {
	mappingID, ok := parseUUID(w, r, "id", "invalid_mapping_id", "Invalid table mapping ID format", h.logger)
	if !ok {
		return
	}
	limit, offset, ok := parsePage(w, r, h.logger)
	if !ok {
		return
	}

	logs, total, err := h.importService.ListImportLogs(r.Context(), mappingID, limit, offset)
	if err != nil {
		writeError(w, err, "list import logs", h.logger)
		return
	}

	writeData(w, http.StatusOK, ImportLogPage{Logs: logs, Total: total, Limit: limit, Offset: offset}, h.logger)
}
