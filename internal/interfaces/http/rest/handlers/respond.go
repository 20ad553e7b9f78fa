// Package handlers implements the REST endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	pkgerrors "mapsync/pkg/errors"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondError renders err with the status of its AppError. Errors that are
// not AppErrors become a generic 500 so internals are not leaked.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	appErr := pkgerrors.GetAppError(err)
	if appErr == nil {
		logger.Error("Unhandled error", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Type:    string(pkgerrors.ErrorTypeInternal),
			Message: "internal server error",
		}})
		return
	}
	status := pkgerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
	}
	respondJSON(w, status, errorBody{Error: errorDetail{
		Type:    string(appErr.Type),
		Message: appErr.Message,
	}})
}
