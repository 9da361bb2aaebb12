package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/urnaweb/server/internal/auth"
	"github.com/urnaweb/server/internal/middleware"
	"github.com/urnaweb/server/internal/model"
)

// AuthHandler handles voter login and session endpoints
type AuthHandler struct {
	authService *auth.Service
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type authRequest struct {
	Identifier string `json:"identifier"`
}

type authResponse struct {
	Success bool              `json:"success"`
	Token   string            `json:"token"`
	Voter   auth.VoterSummary `json:"voter"`
}

type sessionResponse struct {
	Success   bool              `json:"success"`
	Voter     auth.VoterSummary `json:"voter"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type logoutRequest struct {
	Token string `json:"token"`
}

// HandleAuth handles POST /api/auth
func (h *AuthHandler) HandleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, kindInvalidRequest)
		return
	}

	res, err := h.authService.Authenticate(r.Context(), req.Identifier, middleware.ClientIP(r))
	if err != nil {
		respondWithServiceError(w, r, "authenticate", err,
			"identifier", maskIdentifier(strings.TrimSpace(req.Identifier)))
		return
	}

	respondJSON(w, r, http.StatusOK, authResponse{
		Success: true,
		Token:   res.Token,
		Voter:   res.Voter,
	})
}

// HandleSession handles GET /api/session
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	voter, sess, err := h.authService.CurrentVoter(r.Context(), sessionToken(r))
	if err != nil {
		respondWithServiceError(w, r, "session", err)
		return
	}
	respondJSON(w, r, http.StatusOK, sessionResponse{
		Success:   true,
		Voter:     voter,
		ExpiresAt: sess.ExpiresAt.UTC(),
	})
}

// HandleLogout handles POST /api/logout. Unknown or already closed tokens succeed.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" && r.Body != nil {
		var req logoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			token = strings.TrimSpace(req.Token)
		}
	}
	if token == "" {
		respondWithServiceError(w, r, "logout", model.ErrInvalidSession)
		return
	}

	if err := h.authService.Logout(r.Context(), token); err != nil {
		respondWithServiceError(w, r, "logout", err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]bool{"success": true})
}
