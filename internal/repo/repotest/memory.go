// Package repotest provides an in-memory implementation of the repositories
// with the same constraint semantics as the PostgreSQL schema.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/urnaweb/server/internal/model"
	"github.com/urnaweb/server/internal/repo"
)

var (
	_ repo.VoterRepo   = (*Memory)(nil)
	_ repo.SessionRepo = (*Memory)(nil)
	_ repo.BallotRepo  = (*Memory)(nil)
)

type voteKey struct {
	voterID, questionID int64
}

// Memory is a concurrency-safe in-memory store
type Memory struct {
	mu sync.Mutex

	nextID    int64
	voters    map[int64]*model.Voter
	sessions  map[string]*model.Session
	questions map[int64]*model.Question
	options   map[int64]*model.Option
	votes     map[voteKey]model.Vote

	voterLocks map[int64]*sync.Mutex

	// Err, when set, is returned by every store operation.
	Err error
}

// NewMemory returns an empty store
func NewMemory() *Memory {
	return &Memory{
		nextID:    100,
		voters:    make(map[int64]*model.Voter),
		sessions:  make(map[string]*model.Session),
		questions: make(map[int64]*model.Question),
		options:   make(map[int64]*model.Option),
		votes:     make(map[voteKey]model.Vote),

		voterLocks: make(map[int64]*sync.Mutex),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

type txKey struct{}

// memTx records the row locks taken inside one WithinTx call
type memTx struct {
	held []*sync.Mutex
}

// WithinTx runs fn with a transaction marker in ctx. Row locks taken by
// LockVoter are released when fn returns; nested calls join the outer one.
func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*memTx); ok {
		return fn(ctx)
	}
	tx := &memTx{}
	defer func() {
		for i := len(tx.held) - 1; i >= 0; i-- {
			tx.held[i].Unlock()
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, tx))
}

// AddVoter inserts a voter with a fixed id
func (m *Memory) AddVoter(id int64, name, externalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voters[id] = &model.Voter{ID: id, Name: name, ExternalID: externalID, CreatedAt: time.Now()}
}

// AddQuestion inserts an active question with a fixed id
func (m *Memory) AddQuestion(id int64, text string, order int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[id] = &model.Question{ID: id, Text: text, Order: order, Active: true, CreatedAt: time.Now()}
}

// SetQuestionActive toggles a question
func (m *Memory) SetQuestionActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.questions[id]; ok {
		q.Active = active
	}
}

// AddOption inserts an option with a fixed id
func (m *Memory) AddOption(id, questionID int64, text string, order int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options[id] = &model.Option{ID: id, QuestionID: questionID, Text: text, Order: order, CreatedAt: time.Now()}
}

// AddStrayVote inserts a vote row bypassing every constraint
func (m *Memory) AddStrayVote(voterID, questionID, optionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes[voteKey{voterID, questionID}] = model.Vote{ID: m.id(), VoterID: voterID, QuestionID: questionID, OptionID: optionID}
}

// VoteCount returns the number of stored votes for (voter, question): 0 or 1
func (m *Memory) VoteCount(voterID, questionID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.votes[voteKey{voterID, questionID}]; ok {
		return 1
	}
	return 0
}

// VotesForQuestion counts every stored vote row of a question
func (m *Memory) VotesForQuestion(questionID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.votes {
		if k.questionID == questionID {
			n++
		}
	}
	return n
}

// SessionCount returns the number of session rows of a voter
func (m *Memory) SessionCount(voterID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.VoterID == voterID {
			n++
		}
	}
	return n
}

// Voter returns a copy of a stored voter
func (m *Memory) Voter(id int64) (model.Voter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.voters[id]
	if !ok {
		return model.Voter{}, false
	}
	return *v, true
}

// --- VoterRepo

func (m *Memory) FindByExternalID(_ context.Context, externalID string) (model.Voter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Voter{}, false, m.Err
	}
	for _, v := range m.voters {
		if v.ExternalID == externalID {
			return *v, true, nil
		}
	}
	return model.Voter{}, false, nil
}

func (m *Memory) GetByID(_ context.Context, id int64) (model.Voter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Voter{}, false, m.Err
	}
	v, ok := m.voters[id]
	if !ok {
		return model.Voter{}, false, nil
	}
	return *v, true, nil
}

func (m *Memory) HasVoted(_ context.Context, voterID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	v, ok := m.voters[voterID]
	return ok && v.HasVoted, nil
}

// LockVoter blocks until no other transaction holds the voter's lock. Outside
// WithinTx the lock is released immediately.
func (m *Memory) LockVoter(ctx context.Context, voterID int64) (bool, error) {
	m.mu.Lock()
	if m.Err != nil {
		err := m.Err
		m.mu.Unlock()
		return false, err
	}
	l, ok := m.voterLocks[voterID]
	if !ok {
		l = &sync.Mutex{}
		m.voterLocks[voterID] = l
	}
	m.mu.Unlock()

	tx, inTx := ctx.Value(txKey{}).(*memTx)
	if inTx {
		for _, h := range tx.held {
			if h == l {
				return m.HasVoted(ctx, voterID)
			}
		}
	}
	l.Lock()
	if inTx {
		tx.held = append(tx.held, l)
	} else {
		defer l.Unlock()
	}
	return m.HasVoted(ctx, voterID)
}

func (m *Memory) MarkVoted(_ context.Context, voterID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	v, ok := m.voters[voterID]
	if !ok {
		return fmt.Errorf("mark voted: %w", model.ErrNotFound)
	}
	v.HasVoted = true
	return nil
}

func (m *Memory) BulkImport(_ context.Context, entries []model.VoterEntry) model.ImportReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	report := model.ImportReport{Failed: []model.ImportFailure{}}
	for i, e := range entries {
		name, ext := strings.TrimSpace(e.Name), strings.TrimSpace(e.ExternalID)
		if name == "" || ext == "" {
			report.Failed = append(report.Failed, model.ImportFailure{Line: e.SourceLine(i + 1), ExternalID: ext, Reason: "name and external_id are required"})
			continue
		}
		dup := false
		for _, v := range m.voters {
			if v.ExternalID == ext {
				dup = true
				break
			}
		}
		if dup {
			report.Failed = append(report.Failed, model.ImportFailure{Line: e.SourceLine(i + 1), ExternalID: ext, Reason: "duplicate external_id"})
			continue
		}
		id := m.id()
		m.voters[id] = &model.Voter{ID: id, Name: name, ExternalID: ext, CreatedAt: time.Now()}
		report.Inserted++
	}
	return report
}

// --- SessionRepo

func (m *Memory) Create(_ context.Context, voterID int64, tokenHash string, clientIP *string, expiresAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	if _, ok := m.voters[voterID]; !ok {
		return 0, model.ErrInvalidReference
	}
	if _, ok := m.sessions[tokenHash]; ok {
		return 0, model.ErrDuplicate
	}
	id := m.id()
	m.sessions[tokenHash] = &model.Session{
		ID: id, VoterID: voterID, TokenHash: tokenHash, ClientIP: clientIP,
		Active: true, CreatedAt: time.Now(), ExpiresAt: expiresAt,
	}
	return id, nil
}

func (m *Memory) FindActive(_ context.Context, tokenHash string, now time.Time) (model.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Session{}, false, m.Err
	}
	s, ok := m.sessions[tokenHash]
	if !ok || !s.Active || !s.ExpiresAt.After(now) {
		return model.Session{}, false, nil
	}
	return *s, true, nil
}

func (m *Memory) Deactivate(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if s, ok := m.sessions[tokenHash]; ok {
		s.Active = false
	}
	return nil
}

func (m *Memory) CountActiveForVoter(_ context.Context, voterID int64, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	n := 0
	for _, s := range m.sessions {
		if s.VoterID == voterID && s.Active && s.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

// --- BallotRepo

func (m *Memory) ActiveQuestions(_ context.Context) ([]model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.activeQuestionsLocked(), nil
}

func (m *Memory) activeQuestionsLocked() []model.Question {
	out := make([]model.Question, 0)
	for _, q := range m.questions {
		if q.Active {
			out = append(out, *q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) Question(_ context.Context, id int64) (model.Question, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Question{}, false, m.Err
	}
	q, ok := m.questions[id]
	if !ok || !q.Active {
		return model.Question{}, false, nil
	}
	return *q, true, nil
}

func (m *Memory) Options(_ context.Context, questionID int64) ([]model.Option, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]model.Option, 0)
	for _, o := range m.options {
		if o.QuestionID == questionID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) OptionOfActiveQuestion(_ context.Context, questionID, optionID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	o, ok := m.options[optionID]
	if !ok || o.QuestionID != questionID {
		return false, nil
	}
	q, ok := m.questions[questionID]
	return ok && q.Active, nil
}

func (m *Memory) RecordVote(_ context.Context, voterID, questionID, optionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	key := voteKey{voterID, questionID}
	if _, ok := m.votes[key]; ok {
		return fmt.Errorf("insert vote: %w", model.ErrDuplicate)
	}
	o, ok := m.options[optionID]
	if !ok || o.QuestionID != questionID {
		return fmt.Errorf("insert vote: %w", model.ErrInvalidReference)
	}
	m.votes[key] = model.Vote{ID: m.id(), VoterID: voterID, QuestionID: questionID, OptionID: optionID, CastAt: time.Now()}
	return nil
}

func (m *Memory) Tally(_ context.Context, questionID int64) ([]model.TallyEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	counts := make(map[int64]int64)
	for k, v := range m.votes {
		if k.questionID != questionID {
			continue
		}
		if o, ok := m.options[v.OptionID]; ok && o.QuestionID == questionID {
			counts[v.OptionID]++
		}
	}
	out := make([]model.TallyEntry, 0, len(counts))
	for id, n := range counts {
		out = append(out, model.TallyEntry{OptionID: id, OptionText: m.options[id].Text, Count: n})
	}
	return out, nil
}

func (m *Memory) Total(ctx context.Context, questionID int64) (int64, error) {
	entries, err := m.Tally(ctx, questionID)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range entries {
		n += e.Count
	}
	return n, nil
}

func (m *Memory) AnsweredQuestions(_ context.Context, voterID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]int64, 0)
	for _, q := range m.activeQuestionsLocked() {
		if _, ok := m.votes[voteKey{voterID, q.ID}]; ok {
			out = append(out, q.ID)
		}
	}
	return out, nil
}

func (m *Memory) CompletedBallot(_ context.Context, voterID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	active := m.activeQuestionsLocked()
	if len(active) == 0 {
		return false, nil
	}
	for _, q := range active {
		if _, ok := m.votes[voteKey{voterID, q.ID}]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (m *Memory) CreateQuestion(_ context.Context, text string, order int, active bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	id := m.id()
	m.questions[id] = &model.Question{ID: id, Text: text, Order: order, Active: active, CreatedAt: time.Now()}
	return id, nil
}

func (m *Memory) CreateOption(_ context.Context, questionID int64, text string, order int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	if _, ok := m.questions[questionID]; !ok {
		return 0, fmt.Errorf("insert option: %w", model.ErrInvalidReference)
	}
	id := m.id()
	m.options[id] = &model.Option{ID: id, QuestionID: questionID, Text: text, Order: order, CreatedAt: time.Now()}
	return id, nil
}
