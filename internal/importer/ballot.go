package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/urnaweb/server/internal/repo"
)

// BallotFile is the YAML layout of a ballot definition:
//
//	questions:
//	  - text: Favourite colour?
//	    order: 1
//	    options:
//	      - text: Red
//	      - text: Blue
type BallotFile struct {
	Questions []QuestionDef `yaml:"questions"`
}

// QuestionDef describes one question. Active defaults to true.
type QuestionDef struct {
	Text    string      `yaml:"text"`
	Order   *int        `yaml:"order"`
	Active  *bool       `yaml:"active"`
	Options []OptionDef `yaml:"options"`
}

// OptionDef describes one option. Order defaults to its position in the list.
type OptionDef struct {
	Text  string `yaml:"text"`
	Order *int   `yaml:"order"`
}

// TxRunner runs fn inside a single database transaction
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ParseBallotYAML decodes and validates a ballot definition
func ParseBallotYAML(r io.Reader) (BallotFile, error) {
	var f BallotFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return BallotFile{}, fmt.Errorf("decode ballot yaml: %w", err)
	}
	if len(f.Questions) == 0 {
		return BallotFile{}, fmt.Errorf("ballot defines no questions")
	}
	for i, q := range f.Questions {
		if strings.TrimSpace(q.Text) == "" {
			return BallotFile{}, fmt.Errorf("question %d: text is required", i+1)
		}
		if len(q.Options) < 2 {
			return BallotFile{}, fmt.Errorf("question %d: at least two options are required", i+1)
		}
		for j, o := range q.Options {
			if strings.TrimSpace(o.Text) == "" {
				return BallotFile{}, fmt.Errorf("question %d option %d: text is required", i+1, j+1)
			}
		}
	}
	return f, nil
}

// LoadResult counts the rows created by LoadBallot
type LoadResult struct {
	Questions int
	Options   int
}

// LoadBallot inserts every question and option of f in one transaction
func LoadBallot(ctx context.Context, tx TxRunner, ballots repo.BallotRepo, f BallotFile) (LoadResult, error) {
	var res LoadResult
	err := tx.WithinTx(ctx, func(ctx context.Context) error {
		for i, q := range f.Questions {
			order := i + 1
			if q.Order != nil {
				order = *q.Order
			}
			active := true
			if q.Active != nil {
				active = *q.Active
			}
			qid, err := ballots.CreateQuestion(ctx, strings.TrimSpace(q.Text), order, active)
			if err != nil {
				return fmt.Errorf("question %d: %w", i+1, err)
			}
			res.Questions++

			for j, o := range q.Options {
				oorder := j + 1
				if o.Order != nil {
					oorder = *o.Order
				}
				if _, err := ballots.CreateOption(ctx, qid, strings.TrimSpace(o.Text), oorder); err != nil {
					return fmt.Errorf("question %d option %d: %w", i+1, j+1, err)
				}
				res.Options++
			}
			slog.DebugContext(ctx, "question loaded", "question_id", qid, "options", len(q.Options))
		}
		return nil
	})
	if err != nil {
		return LoadResult{}, err
	}
	return res, nil
}
