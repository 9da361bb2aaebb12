package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/urnaweb/server/internal/middleware"
	"github.com/urnaweb/server/internal/model"
)

const (
	kindInvalidRequest = "InvalidRequest"
	kindNotFound       = "NotFound"
)

// errorStatus maps a service error to its HTTP status and client-facing kind.
// Anything unclassified collapses to Internal.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrMissingIdentifier):
		return http.StatusBadRequest, model.ErrMissingIdentifier.Error()
	case errors.Is(err, model.ErrBadBallot):
		return http.StatusBadRequest, model.ErrBadBallot.Error()
	case errors.Is(err, model.ErrUnknownVoter):
		return http.StatusNotFound, model.ErrUnknownVoter.Error()
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, kindNotFound
	case errors.Is(err, model.ErrAlreadyVoted):
		return http.StatusForbidden, model.ErrAlreadyVoted.Error()
	case errors.Is(err, model.ErrDuplicateVote):
		return http.StatusForbidden, model.ErrDuplicateVote.Error()
	case errors.Is(err, model.ErrInvalidSession):
		return http.StatusUnauthorized, model.ErrInvalidSession.Error()
	case errors.Is(err, model.ErrSessionFailure):
		return http.StatusInternalServerError, model.ErrSessionFailure.Error()
	case errors.Is(err, model.ErrStoreError):
		return http.StatusInternalServerError, model.ErrStoreError.Error()
	default:
		return http.StatusInternalServerError, model.ErrInternal.Error()
	}
}

func respondJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response",
			"request_id", chimw.GetReqID(r.Context()),
			"error", err,
		)
	}
}

func respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, kind string) {
	respondJSON(w, r, statusCode, errorResponse{Success: false, Error: kind})
}

// respondWithServiceError writes the mapped error. 5xx causes are logged, never sent.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, operation string, err error, attrs ...any) {
	status, kind := errorStatus(err)
	args := append([]any{
		"request_id", chimw.GetReqID(r.Context()),
		"operation", operation,
		"kind", kind,
	}, attrs...)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", append(args, "error", err)...)
	} else {
		slog.InfoContext(r.Context(), "request rejected", args...)
	}
	respondWithError(w, r, status, kind)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// sessionToken reads the voter token from the Authorization header, falling back to ?token=
func sessionToken(r *http.Request) string {
	if tok, ok := middleware.BearerToken(r); ok {
		return tok
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// maskIdentifier keeps the first and last two characters of a voter identifier
func maskIdentifier(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return id[:2] + strings.Repeat("*", len(id)-4) + id[len(id)-2:]
}
