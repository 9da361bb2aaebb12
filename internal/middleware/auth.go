package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/urnaweb/server/internal/auth"
)

type contextKey string

const adminClaimsKey contextKey = "admin_claims"

// BearerToken returns the token of an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

// AdminMiddleware rejects requests without a valid admin JWT
func AdminMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := BearerToken(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			claims, err := jwtService.VerifyAdminToken(tokenString)
			if err != nil {
				slog.WarnContext(r.Context(), "admin token rejected",
					"request_id", chimw.GetReqID(r.Context()),
					"error", err,
				)
				respondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), adminClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdmin returns the admin claims attached by AdminMiddleware
func GetAdmin(ctx context.Context) (*auth.AdminClaims, bool) {
	c, ok := ctx.Value(adminClaimsKey).(*auth.AdminClaims)
	return c, ok
}

func respondWithError(w http.ResponseWriter, statusCode int, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": kind})
}
