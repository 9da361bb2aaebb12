package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/urnaweb/server/internal/model"
	"github.com/urnaweb/server/internal/repo"
)

// DefaultTTL is the lifetime of a voter session. Sessions are never extended on use.
const DefaultTTL = 2 * time.Hour

// Manager issues, validates and retires voter session tokens
type Manager struct {
	sessions repo.SessionRepo
	ttl      time.Duration
	now      func() time.Time
}

// NewManager creates a session manager; ttl <= 0 selects DefaultTTL
func NewManager(sessions repo.SessionRepo, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		sessions: sessions,
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// TTL returns the configured session lifetime
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Open creates an active session expiring ttl from now and returns its token
func (m *Manager) Open(ctx context.Context, voterID int64, clientIP string) (string, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	var ip *string
	if clientIP = strings.TrimSpace(clientIP); clientIP != "" {
		ip = &clientIP
	}

	expiresAt := m.now().Add(m.ttl)
	if _, err := m.sessions.Create(ctx, voterID, hash, ip, expiresAt); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// Lookup returns the session named by token if it is active and unexpired.
// Every failing condition yields found == false with no indication of which one failed;
// err is reserved for store failures.
func (m *Manager) Lookup(ctx context.Context, token string) (model.Session, bool, error) {
	if !WellFormed(token) {
		return model.Session{}, false, nil
	}
	s, found, err := m.sessions.FindActive(ctx, HashToken(token), m.now())
	if err != nil {
		return model.Session{}, false, fmt.Errorf("lookup session: %w", err)
	}
	return s, found, nil
}

// Close deactivates the session. Closing an unknown or already closed token succeeds.
func (m *Manager) Close(ctx context.Context, token string) error {
	if !WellFormed(token) {
		return nil
	}
	if err := m.sessions.Deactivate(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	slog.DebugContext(ctx, "session closed")
	return nil
}

// ActiveCount returns the number of live sessions held by a voter
func (m *Manager) ActiveCount(ctx context.Context, voterID int64) (int, error) {
	n, err := m.sessions.CountActiveForVoter(ctx, voterID, m.now())
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
