package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/urnaweb/server/internal/voting"
)

// AdminHandler serves results to administrators
type AdminHandler struct {
	votingService *voting.Service
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(votingService *voting.Service) *AdminHandler {
	return &AdminHandler{votingService: votingService}
}

// HandleTally handles GET /api/tally/{question_id}
func (h *AdminHandler) HandleTally(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "question_id"), 10, 64)
	if err != nil {
		respondWithError(w, r, http.StatusBadRequest, kindInvalidRequest)
		return
	}
	tally, err := h.votingService.Tally(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, r, "tally", err, "question_id", id)
		return
	}
	respondJSON(w, r, http.StatusOK, tally)
}
