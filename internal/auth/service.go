package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/urnaweb/server/internal/model"
	"github.com/urnaweb/server/internal/repo"
	"github.com/urnaweb/server/internal/session"
)

// VoterSummary is the only voter data returned by a login
type VoterSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Result is a successful authentication
type Result struct {
	Token string
	Voter VoterSummary
}

// Service implements the voter login contract
type Service struct {
	voters   repo.VoterRepo
	sessions *session.Manager
}

// NewService creates a new auth service
func NewService(voters repo.VoterRepo, sessions *session.Manager) *Service {
	return &Service{
		voters:   voters,
		sessions: sessions,
	}
}

// Authenticate checks the identifier against the roll and opens a session.
// An unknown identifier is reported before the has-voted check so unregistered
// identifiers never learn anything about voting state.
func (s *Service) Authenticate(ctx context.Context, identifier, clientIP string) (*Result, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, model.ErrMissingIdentifier
	}

	voter, found, err := s.voters.FindByExternalID(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInternal, err)
	}
	if !found {
		return nil, model.ErrUnknownVoter
	}

	voted, err := s.voters.HasVoted(ctx, voter.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInternal, err)
	}
	if voted {
		return nil, model.ErrAlreadyVoted
	}

	token, err := s.sessions.Open(ctx, voter.ID, clientIP)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSessionFailure, err)
	}

	log := slog.With("operation", "authenticate", "voter_id", voter.ID)
	if n, err := s.sessions.ActiveCount(ctx, voter.ID); err != nil {
		log.WarnContext(ctx, "count active sessions failed", "error", err)
		log.InfoContext(ctx, "voter authenticated")
	} else {
		log.InfoContext(ctx, "voter authenticated", "active_sessions", n)
	}

	return &Result{
		Token: token,
		Voter: VoterSummary{ID: voter.ID, Name: voter.Name},
	}, nil
}

// Logout closes the session named by token; unknown tokens are accepted.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Close(ctx, token); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStoreError, err)
	}
	return nil
}

// CurrentVoter resolves the voter behind a live session
func (s *Service) CurrentVoter(ctx context.Context, token string) (VoterSummary, model.Session, error) {
	sess, found, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		return VoterSummary{}, model.Session{}, fmt.Errorf("%w: %v", model.ErrStoreError, err)
	}
	if !found {
		return VoterSummary{}, model.Session{}, model.ErrInvalidSession
	}
	voter, found, err := s.voters.GetByID(ctx, sess.VoterID)
	if err != nil {
		return VoterSummary{}, model.Session{}, fmt.Errorf("%w: %v", model.ErrStoreError, err)
	}
	if !found {
		return VoterSummary{}, model.Session{}, model.ErrInvalidSession
	}
	return VoterSummary{ID: voter.ID, Name: voter.Name}, sess, nil
}
