package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/urnaweb/server/internal/db"
	"github.com/urnaweb/server/internal/model"
)

// SessionRepo defines the interface for voter session rows
type SessionRepo interface {
	Create(ctx context.Context, voterID int64, tokenHash string, clientIP *string, expiresAt time.Time) (int64, error)
	FindActive(ctx context.Context, tokenHash string, now time.Time) (model.Session, bool, error)
	Deactivate(ctx context.Context, tokenHash string) error
	CountActiveForVoter(ctx context.Context, voterID int64, now time.Time) (int, error)
}

type sessionRepo struct {
	gw *db.Gateway
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(gw *db.Gateway) SessionRepo {
	return &sessionRepo{gw: gw}
}

func scanSession(row db.RowScanner) (model.Session, error) {
	var s model.Session
	err := row.Scan(&s.ID, &s.VoterID, &s.TokenHash, &s.ClientIP, &s.Active, &s.CreatedAt, &s.ExpiresAt)
	return s, err
}

// Create inserts an active session
func (r *sessionRepo) Create(ctx context.Context, voterID int64, tokenHash string, clientIP *string, expiresAt time.Time) (int64, error) {
	res, err := r.gw.Run(ctx, `
		INSERT INTO sessions (voter_id, token_hash, client_ip, active, expires_at)
		VALUES ($1, $2, $3, TRUE, $4)
		RETURNING id
	`, voterID, tokenHash, clientIP, expiresAt)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return res.LastInsertID, nil
}

// FindActive returns the session only if it is active and unexpired at now
func (r *sessionRepo) FindActive(ctx context.Context, tokenHash string, now time.Time) (model.Session, bool, error) {
	s, found, err := db.First(ctx, r.gw, scanSession, `
		SELECT id, voter_id, token_hash, client_ip, active, created_at, expires_at
		FROM sessions
		WHERE token_hash = $1 AND active AND expires_at > $2
	`, tokenHash, now)
	if err != nil {
		return model.Session{}, false, fmt.Errorf("find session: %w", err)
	}
	return s, found, nil
}

// Deactivate sets active = false. Unknown or already closed tokens are not an error.
func (r *sessionRepo) Deactivate(ctx context.Context, tokenHash string) error {
	if _, err := r.gw.Run(ctx, `UPDATE sessions SET active = FALSE WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

// CountActiveForVoter counts live sessions of a voter; logged at each login
func (r *sessionRepo) CountActiveForVoter(ctx context.Context, voterID int64, now time.Time) (int, error) {
	n, _, err := db.First(ctx, r.gw, func(row db.RowScanner) (int, error) {
		var n int
		err := row.Scan(&n)
		return n, err
	}, `SELECT COUNT(*) FROM sessions WHERE voter_id = $1 AND active AND expires_at > $2`, voterID, now)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}
