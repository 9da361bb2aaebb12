package repo

import (
	"context"
	"fmt"

	"github.com/urnaweb/server/internal/db"
	"github.com/urnaweb/server/internal/model"
)

// BallotRepo defines the interface for questions, options and votes
type BallotRepo interface {
	ActiveQuestions(ctx context.Context) ([]model.Question, error)
	Question(ctx context.Context, id int64) (model.Question, bool, error)
	Options(ctx context.Context, questionID int64) ([]model.Option, error)
	OptionOfActiveQuestion(ctx context.Context, questionID, optionID int64) (bool, error)
	RecordVote(ctx context.Context, voterID, questionID, optionID int64) error
	Tally(ctx context.Context, questionID int64) ([]model.TallyEntry, error)
	Total(ctx context.Context, questionID int64) (int64, error)
	AnsweredQuestions(ctx context.Context, voterID int64) ([]int64, error)
	CompletedBallot(ctx context.Context, voterID int64) (bool, error)
	CreateQuestion(ctx context.Context, text string, order int, active bool) (int64, error)
	CreateOption(ctx context.Context, questionID int64, text string, order int) (int64, error)
}

type ballotRepo struct {
	gw *db.Gateway
}

// NewBallotRepo creates a new BallotRepo instance
func NewBallotRepo(gw *db.Gateway) BallotRepo {
	return &ballotRepo{gw: gw}
}

func scanQuestion(row db.RowScanner) (model.Question, error) {
	var q model.Question
	err := row.Scan(&q.ID, &q.Text, &q.Order, &q.Active, &q.CreatedAt)
	return q, err
}

func scanOption(row db.RowScanner) (model.Option, error) {
	var o model.Option
	err := row.Scan(&o.ID, &o.QuestionID, &o.Text, &o.Order, &o.CreatedAt)
	return o, err
}

func scanInt64(row db.RowScanner) (int64, error) {
	var n int64
	err := row.Scan(&n)
	return n, err
}

func scanBool(row db.RowScanner) (bool, error) {
	var b bool
	err := row.Scan(&b)
	return b, err
}

// ActiveQuestions returns active questions by sort order, ties broken by id
func (r *ballotRepo) ActiveQuestions(ctx context.Context) ([]model.Question, error) {
	qs, err := db.Query(ctx, r.gw, scanQuestion, `
		SELECT id, text, sort_order, active, created_at
		FROM questions
		WHERE active
		ORDER BY sort_order ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active questions: %w", err)
	}
	return qs, nil
}

// Question returns an active question
func (r *ballotRepo) Question(ctx context.Context, id int64) (model.Question, bool, error) {
	q, found, err := db.First(ctx, r.gw, scanQuestion, `
		SELECT id, text, sort_order, active, created_at
		FROM questions
		WHERE id = $1 AND active
	`, id)
	if err != nil {
		return model.Question{}, false, fmt.Errorf("get question: %w", err)
	}
	return q, found, nil
}

// Options returns the options of a question by sort order, ties broken by id
func (r *ballotRepo) Options(ctx context.Context, questionID int64) ([]model.Option, error) {
	opts, err := db.Query(ctx, r.gw, scanOption, `
		SELECT id, question_id, text, sort_order, created_at
		FROM options
		WHERE question_id = $1
		ORDER BY sort_order ASC, id ASC
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	return opts, nil
}

// OptionOfActiveQuestion reports whether optionID belongs to questionID and the question is active
func (r *ballotRepo) OptionOfActiveQuestion(ctx context.Context, questionID, optionID int64) (bool, error) {
	ok, _, err := db.First(ctx, r.gw, scanBool, `
		SELECT EXISTS (
			SELECT 1
			FROM options o
			JOIN questions q ON q.id = o.question_id
			WHERE o.id = $1 AND o.question_id = $2 AND q.active
		)
	`, optionID, questionID)
	if err != nil {
		return false, fmt.Errorf("check option: %w", err)
	}
	return ok, nil
}

// RecordVote inserts one vote. A second vote for the same (voter, question) yields
// model.ErrDuplicate; an option outside the question yields model.ErrInvalidReference.
func (r *ballotRepo) RecordVote(ctx context.Context, voterID, questionID, optionID int64) error {
	_, err := r.gw.Run(ctx, `
		INSERT INTO votes (voter_id, question_id, option_id)
		VALUES ($1, $2, $3)
		RETURNING id
	`, voterID, questionID, optionID)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("insert vote: %w", model.ErrDuplicate)
	case isForeignKeyViolation(err):
		return fmt.Errorf("insert vote: %w", model.ErrInvalidReference)
	default:
		return fmt.Errorf("insert vote: %w", err)
	}
}

// Tally counts votes per option, ignoring rows whose option is not part of the question
func (r *ballotRepo) Tally(ctx context.Context, questionID int64) ([]model.TallyEntry, error) {
	entries, err := db.Query(ctx, r.gw, func(row db.RowScanner) (model.TallyEntry, error) {
		var e model.TallyEntry
		err := row.Scan(&e.OptionID, &e.OptionText, &e.Count)
		return e, err
	}, `
		SELECT v.option_id, o.text, COUNT(*)
		FROM votes v
		JOIN options o ON o.id = v.option_id AND o.question_id = v.question_id
		WHERE v.question_id = $1
		GROUP BY v.option_id, o.text
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("tally: %w", err)
	}
	return entries, nil
}

// Total is the sum of Tally counts
func (r *ballotRepo) Total(ctx context.Context, questionID int64) (int64, error) {
	n, _, err := db.First(ctx, r.gw, scanInt64, `
		SELECT COUNT(*)
		FROM votes v
		JOIN options o ON o.id = v.option_id AND o.question_id = v.question_id
		WHERE v.question_id = $1
	`, questionID)
	if err != nil {
		return 0, fmt.Errorf("total votes: %w", err)
	}
	return n, nil
}

// AnsweredQuestions returns the active questions the voter already has a vote for
func (r *ballotRepo) AnsweredQuestions(ctx context.Context, voterID int64) ([]int64, error) {
	ids, err := db.Query(ctx, r.gw, scanInt64, `
		SELECT v.question_id
		FROM votes v
		JOIN questions q ON q.id = v.question_id
		WHERE v.voter_id = $1 AND q.active
		ORDER BY q.sort_order ASC, q.id ASC
	`, voterID)
	if err != nil {
		return nil, fmt.Errorf("answered questions: %w", err)
	}
	return ids, nil
}

// CompletedBallot reports whether the voter has a stored vote for every active question
func (r *ballotRepo) CompletedBallot(ctx context.Context, voterID int64) (bool, error) {
	done, _, err := db.First(ctx, r.gw, scanBool, `
		SELECT EXISTS (SELECT 1 FROM questions WHERE active)
		   AND NOT EXISTS (
			SELECT 1
			FROM questions q
			WHERE q.active
			  AND NOT EXISTS (
				SELECT 1 FROM votes v WHERE v.question_id = q.id AND v.voter_id = $1
			  )
		)
	`, voterID)
	if err != nil {
		return false, fmt.Errorf("completed ballot: %w", err)
	}
	return done, nil
}

// CreateQuestion inserts a question
func (r *ballotRepo) CreateQuestion(ctx context.Context, text string, order int, active bool) (int64, error) {
	res, err := r.gw.Run(ctx, `
		INSERT INTO questions (text, sort_order, active)
		VALUES ($1, $2, $3)
		RETURNING id
	`, text, order, active)
	if err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}
	return res.LastInsertID, nil
}

// CreateOption inserts an option for a question
func (r *ballotRepo) CreateOption(ctx context.Context, questionID int64, text string, order int) (int64, error) {
	res, err := r.gw.Run(ctx, `
		INSERT INTO options (question_id, text, sort_order)
		VALUES ($1, $2, $3)
		RETURNING id
	`, questionID, text, order)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("insert option: %w", model.ErrInvalidReference)
		}
		return 0, fmt.Errorf("insert option: %w", err)
	}
	return res.LastInsertID, nil
}
