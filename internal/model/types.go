package model

import "time"

// Voter is an entry of the electoral roll
type Voter struct {
	ID         int64
	Name       string
	ExternalID string
	Email      *string
	Phone      *string
	HasVoted   bool
	CreatedAt  time.Time
}

// VoterEntry is one row of a roll import. Line is the source line in the
// import file, zero when the entry did not come from a file.
type VoterEntry struct {
	Line       int
	Name       string
	ExternalID string
	Email      string
	Phone      string
}

// Session is a time-bounded capability tying API calls to a voter.
// The token itself is never stored, only its SHA-256 digest.
type Session struct {
	ID        int64
	VoterID   int64
	TokenHash string
	ClientIP  *string
	Active    bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Question is one item of the ballot
type Question struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Order     int       `json:"order"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Option is a choice offered for a question
type Option struct {
	ID         int64     `json:"id"`
	QuestionID int64     `json:"question_id"`
	Text       string    `json:"text"`
	Order      int       `json:"order"`
	CreatedAt  time.Time `json:"created_at"`
}

// Vote records one voter's choice for one question
type Vote struct {
	ID         int64
	VoterID    int64
	QuestionID int64
	OptionID   int64
	CastAt     time.Time
}

// TallyEntry is the vote count of one option
type TallyEntry struct {
	OptionID   int64  `json:"option_id"`
	OptionText string `json:"option_text"`
	Count      int64  `json:"count"`
}

// ImportFailure describes one roll entry that could not be inserted. Line is
// the source line of the entry, or its 1-based position when it has none.
type ImportFailure struct {
	Line       int    `json:"line"`
	ExternalID string `json:"external_id"`
	Reason     string `json:"reason"`
}

// SourceLine returns e.Line, falling back to the 1-based position pos.
func (e VoterEntry) SourceLine(pos int) int {
	if e.Line > 0 {
		return e.Line
	}
	return pos
}

// ImportReport is the outcome of a best-effort roll import
type ImportReport struct {
	Inserted int             `json:"inserted"`
	Failed   []ImportFailure `json:"failed"`
}

// OK reports whether every entry was inserted.
func (r ImportReport) OK() bool {
	return len(r.Failed) == 0
}
