package repo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/urnaweb/server/internal/db"
	"github.com/urnaweb/server/internal/model"
)

// VoterRepo defines the roll store operations
type VoterRepo interface {
	FindByExternalID(ctx context.Context, externalID string) (model.Voter, bool, error)
	GetByID(ctx context.Context, id int64) (model.Voter, bool, error)
	HasVoted(ctx context.Context, voterID int64) (bool, error)
	LockVoter(ctx context.Context, voterID int64) (voted bool, err error)
	MarkVoted(ctx context.Context, voterID int64) error
	BulkImport(ctx context.Context, entries []model.VoterEntry) model.ImportReport
}

type voterRepo struct {
	gw *db.Gateway
}

// NewVoterRepo creates a new VoterRepo instance
func NewVoterRepo(gw *db.Gateway) VoterRepo {
	return &voterRepo{gw: gw}
}

const voterColumns = `id, name, external_id, email, phone, has_voted, created_at`

func scanVoter(row db.RowScanner) (model.Voter, error) {
	var v model.Voter
	err := row.Scan(&v.ID, &v.Name, &v.ExternalID, &v.Email, &v.Phone, &v.HasVoted, &v.CreatedAt)
	return v, err
}

// FindByExternalID looks a voter up by the identifier typed at login
func (r *voterRepo) FindByExternalID(ctx context.Context, externalID string) (model.Voter, bool, error) {
	v, found, err := db.First(ctx, r.gw, scanVoter,
		`SELECT `+voterColumns+` FROM voters WHERE external_id = $1`, externalID)
	if err != nil {
		return model.Voter{}, false, fmt.Errorf("find voter by external id: %w", err)
	}
	return v, found, nil
}

// GetByID retrieves a voter by ID
func (r *voterRepo) GetByID(ctx context.Context, id int64) (model.Voter, bool, error) {
	v, found, err := db.First(ctx, r.gw, scanVoter,
		`SELECT `+voterColumns+` FROM voters WHERE id = $1`, id)
	if err != nil {
		return model.Voter{}, false, fmt.Errorf("get voter: %w", err)
	}
	return v, found, nil
}

// HasVoted returns false for unknown voters
func (r *voterRepo) HasVoted(ctx context.Context, voterID int64) (bool, error) {
	voted, _, err := db.First(ctx, r.gw, func(row db.RowScanner) (bool, error) {
		var b bool
		err := row.Scan(&b)
		return b, err
	}, `SELECT has_voted FROM voters WHERE id = $1`, voterID)
	if err != nil {
		return false, fmt.Errorf("has voted: %w", err)
	}
	return voted, nil
}

// LockVoter takes a row lock on the voter held until the enclosing transaction
// ends and returns has_voted as seen after the lock is granted. Casts of one
// voter serialise on it, so the completion check sees every committed vote.
// Unknown voters report false.
func (r *voterRepo) LockVoter(ctx context.Context, voterID int64) (bool, error) {
	voted, _, err := db.First(ctx, r.gw, func(row db.RowScanner) (bool, error) {
		var b bool
		err := row.Scan(&b)
		return b, err
	}, `SELECT has_voted FROM voters WHERE id = $1 FOR UPDATE`, voterID)
	if err != nil {
		return false, fmt.Errorf("lock voter: %w", err)
	}
	return voted, nil
}

// MarkVoted sets has_voted; marking an already-voted voter succeeds.
func (r *voterRepo) MarkVoted(ctx context.Context, voterID int64) error {
	res, err := r.gw.Run(ctx, `UPDATE voters SET has_voted = TRUE WHERE id = $1`, voterID)
	if err != nil {
		return fmt.Errorf("mark voted: %w", err)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark voted: voter %d: %w", voterID, model.ErrNotFound)
	}
	return nil
}

// BulkImport inserts every entry independently. A failing entry is logged and
// recorded in the report; the remaining entries are still attempted.
func (r *voterRepo) BulkImport(ctx context.Context, entries []model.VoterEntry) model.ImportReport {
	report := model.ImportReport{Failed: []model.ImportFailure{}}

	for i, e := range entries {
		line := e.SourceLine(i + 1)
		name := strings.TrimSpace(e.Name)
		externalID := strings.TrimSpace(e.ExternalID)

		if name == "" || externalID == "" {
			report.Failed = append(report.Failed, model.ImportFailure{
				Line: line, ExternalID: externalID, Reason: "name and external_id are required",
			})
			slog.WarnContext(ctx, "roll import row rejected", "line", line, "reason", "missing fields")
			continue
		}

		_, err := r.gw.Run(ctx, `
			INSERT INTO voters (name, external_id, email, phone, has_voted)
			VALUES ($1, $2, $3, $4, FALSE)
			RETURNING id
		`, name, externalID, nullIfEmpty(e.Email), nullIfEmpty(e.Phone))
		if err != nil {
			reason := "store error"
			if isUniqueViolation(err) {
				reason = "duplicate external_id"
			}
			report.Failed = append(report.Failed, model.ImportFailure{
				Line: line, ExternalID: externalID, Reason: reason,
			})
			slog.WarnContext(ctx, "roll import row failed", "line", line, "reason", reason, "error", err)
			continue
		}
		report.Inserted++
	}

	return report
}

func nullIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
