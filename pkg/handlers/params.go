package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// parseUUID extracts and validates a UUID path parameter.
// Returns uuid.Nil and false after writing an error response when invalid.
func parseUUID(w http.ResponseWriter, r *http.Request, param, errorCode, message string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, message); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// parsePage reads limit and offset query parameters. Missing values are 0.
func parsePage(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (limit, offset int, ok bool) {
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &limit}, {"offset", &offset}} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_"+p.name, p.name+" must be a non-negative integer"); err != nil {
				logger.Error("Failed to write error response", zap.Error(err))
			}
			return 0, 0, false
		}
		*p.dst = n
	}
	return limit, offset, true
}
