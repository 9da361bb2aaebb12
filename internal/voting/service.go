package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/urnaweb/server/internal/model"
	"github.com/urnaweb/server/internal/repo"
	"github.com/urnaweb/server/internal/session"
)

// TxRunner runs fn inside a single database transaction
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CastResult reports whether the cast completed the voter's ballot
type CastResult struct {
	Complete bool `json:"complete"`
}

// Progress is a voter's position in the ballot
type Progress struct {
	Questions []model.Question `json:"questions"`
	Answered  []int64          `json:"answered"`
	Complete  bool             `json:"complete"`
}

// Tally is the result of one question
type Tally struct {
	QuestionID int64              `json:"question_id"`
	Total      int64              `json:"total"`
	Results    []model.TallyEntry `json:"results"`
}

// Service implements casting and tallying votes
type Service struct {
	tx       TxRunner
	sessions *session.Manager
	voters   repo.VoterRepo
	ballots  repo.BallotRepo
}

// NewService creates a new voting service
func NewService(tx TxRunner, sessions *session.Manager, voters repo.VoterRepo, ballots repo.BallotRepo) *Service {
	return &Service{
		tx:       tx,
		sessions: sessions,
		voters:   voters,
		ballots:  ballots,
	}
}

func (s *Service) authorize(ctx context.Context, token string) (model.Session, error) {
	sess, found, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", model.ErrStoreError, err)
	}
	if !found {
		return model.Session{}, model.ErrInvalidSession
	}
	return sess, nil
}

// ListQuestions returns the active questions in presentation order
func (s *Service) ListQuestions(ctx context.Context, token string) ([]model.Question, error) {
	if _, err := s.authorize(ctx, token); err != nil {
		return nil, err
	}
	qs, err := s.ballots.ActiveQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreError, err)
	}
	return qs, nil
}

// ListOptions returns the options of an active question. An inactive or unknown
// question yields model.ErrNotFound.
func (s *Service) ListOptions(ctx context.Context, token string, questionID int64) ([]model.Option, error) {
	if _, err := s.authorize(ctx, token); err != nil {
		return nil, err
	}
	_, found, err := s.ballots.Question(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreError, err)
	}
	if !found {
		return nil, model.ErrNotFound
	}
	opts, err := s.ballots.Options(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreError, err)
	}
	return opts, nil
}

// Progress reports which active questions the voter has already answered
func (s *Service) Progress(ctx context.Context, token string) (Progress, error) {
	sess, err := s.authorize(ctx, token)
	if err != nil {
		return Progress{}, err
	}
	qs, err := s.ballots.ActiveQuestions(ctx)
	if err != nil {
		return Progress{}, fmt.Errorf("%w: %v", model.ErrStoreError, err)
	}
	answered, err := s.ballots.AnsweredQuestions(ctx, sess.VoterID)
	if err != nil {
		return Progress{}, fmt.Errorf("%w: %v", model.ErrStoreError, err)
	}
	return Progress{
		Questions: qs,
		Answered:  answered,
		Complete:  len(qs) > 0 && len(answered) == len(qs),
	}, nil
}

// Cast records the voter's choice for one question. When the stored votes cover
// every active question the voter is marked as voted and the session is closed.
// Steps after the session lookup run in one transaction that first locks the
// voter row, so a voter's casts are serialised and the completion check sees
// every earlier vote. The (voter, question) unique constraint stays the
// authority on duplicates.
func (s *Service) Cast(ctx context.Context, token string, questionID, optionID int64) (CastResult, error) {
	sess, err := s.authorize(ctx, token)
	if err != nil {
		return CastResult{}, err
	}
	voterID := sess.VoterID
	log := slog.With("operation", "cast", "voter_id", voterID, "question_id", questionID)

	var result CastResult
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		voted, err := s.voters.LockVoter(ctx, voterID)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrStoreError, err)
		}
		if voted {
			return model.ErrAlreadyVoted
		}

		ok, err := s.ballots.OptionOfActiveQuestion(ctx, questionID, optionID)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrStoreError, err)
		}
		if !ok {
			return model.ErrBadBallot
		}

		if err := s.ballots.RecordVote(ctx, voterID, questionID, optionID); err != nil {
			switch {
			case errors.Is(err, model.ErrDuplicate):
				return model.ErrDuplicateVote
			case errors.Is(err, model.ErrInvalidReference):
				return model.ErrBadBallot
			default:
				return fmt.Errorf("%w: %v", model.ErrStoreError, err)
			}
		}

		complete, err := s.ballots.CompletedBallot(ctx, voterID)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrStoreError, err)
		}
		if complete {
			if err := s.voters.MarkVoted(ctx, voterID); err != nil {
				return fmt.Errorf("%w: %v", model.ErrStoreError, err)
			}
			if err := s.sessions.Close(ctx, token); err != nil {
				return fmt.Errorf("%w: %v", model.ErrStoreError, err)
			}
		}
		result.Complete = complete
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrStoreError) {
			log.ErrorContext(ctx, "cast failed", "error", err)
		} else {
			log.InfoContext(ctx, "cast rejected", "reason", err.Error())
		}
		return CastResult{}, err
	}

	log.InfoContext(ctx, "vote recorded", "complete", result.Complete)
	return result, nil
}

// Tally returns the per-option counts of a question. Results are unsorted.
func (s *Service) Tally(ctx context.Context, questionID int64) (Tally, error) {
	entries, err := s.ballots.Tally(ctx, questionID)
	if err != nil {
		return Tally{}, fmt.Errorf("%w: %v", model.ErrStoreError, err)
	}
	total, err := s.ballots.Total(ctx, questionID)
	if err != nil {
		return Tally{}, fmt.Errorf("%w: %v", model.ErrStoreError, err)
	}
	return Tally{QuestionID: questionID, Total: total, Results: entries}, nil
}
