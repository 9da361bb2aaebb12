package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/urnaweb/server/internal/model"
	"github.com/urnaweb/server/internal/voting"
)

// VotingHandler serves the ballot and accepts votes
type VotingHandler struct {
	votingService *voting.Service
}

// NewVotingHandler creates a new voting handler
func NewVotingHandler(votingService *voting.Service) *VotingHandler {
	return &VotingHandler{votingService: votingService}
}

type castRequest struct {
	Token      string `json:"token"`
	QuestionID int64  `json:"question_id"`
	OptionID   int64  `json:"option_id"`
}

type castResponse struct {
	Success  bool `json:"success"`
	Complete bool `json:"complete"`
}

// HandleQuestions handles GET /api/questions
func (h *VotingHandler) HandleQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.votingService.ListQuestions(r.Context(), sessionToken(r))
	if err != nil {
		respondWithServiceError(w, r, "list_questions", err)
		return
	}
	respondJSON(w, r, http.StatusOK, qs)
}

// HandleOptions handles GET /api/questions/{id}/options
func (h *VotingHandler) HandleOptions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondWithError(w, r, http.StatusNotFound, kindNotFound)
		return
	}
	opts, err := h.votingService.ListOptions(r.Context(), sessionToken(r), id)
	if err != nil {
		respondWithServiceError(w, r, "list_options", err, "question_id", id)
		return
	}
	respondJSON(w, r, http.StatusOK, opts)
}

// HandleBallot handles GET /api/ballot
func (h *VotingHandler) HandleBallot(w http.ResponseWriter, r *http.Request) {
	prog, err := h.votingService.Progress(r.Context(), sessionToken(r))
	if err != nil {
		respondWithServiceError(w, r, "ballot", err)
		return
	}
	if prog.Answered == nil {
		prog.Answered = []int64{}
	}
	respondJSON(w, r, http.StatusOK, prog)
}

// HandleCast handles POST /api/votes. The token may come from the body or the header.
func (h *VotingHandler) HandleCast(w http.ResponseWriter, r *http.Request) {
	var req castRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, kindInvalidRequest)
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		token = sessionToken(r)
	}
	if req.QuestionID <= 0 || req.OptionID <= 0 {
		respondWithServiceError(w, r, "cast", model.ErrBadBallot)
		return
	}

	res, err := h.votingService.Cast(r.Context(), token, req.QuestionID, req.OptionID)
	if err != nil {
		respondWithServiceError(w, r, "cast", err, "question_id", req.QuestionID)
		return
	}
	respondJSON(w, r, http.StatusOK, castResponse{Success: true, Complete: res.Complete})
}
