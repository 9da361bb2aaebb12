package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urnaweb/server/internal/auth"
	"github.com/urnaweb/server/internal/db"
	httphandler "github.com/urnaweb/server/internal/http"
	"github.com/urnaweb/server/internal/http/handlers"
	"github.com/urnaweb/server/internal/repo"
	"github.com/urnaweb/server/internal/session"
	"github.com/urnaweb/server/internal/voting"
)

const testAdminSecret = "test-admin-secret-at-least-32-characters"

// testServer holds the server and DB for end-to-end tests
type testServer struct {
	Server *httptest.Server
	DB     *sql.DB
	JWT    *auth.JWTService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database := OpenTestDB(t)
	gw := db.NewGateway(database)

	voterRepo := repo.NewVoterRepo(gw)
	ballotRepo := repo.NewBallotRepo(gw)
	sessions := session.NewManager(repo.NewSessionRepo(gw), session.DefaultTTL)
	votingSvc := voting.NewService(gw, sessions, voterRepo, ballotRepo)
	jwtSvc := auth.NewJWTService(testAdminSecret, time.Hour)

	router := httphandler.NewRouter(httphandler.Handlers{
		Auth:   handlers.NewAuthHandler(auth.NewService(voterRepo, sessions)),
		Voting: handlers.NewVotingHandler(votingSvc),
		Admin:  handlers.NewAdminHandler(votingSvc),
		Health: handlers.NewHealthHandler(gw),
	}, jwtSvc, httphandler.Options{})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, DB: database, JWT: jwtSvc}
}

// reset truncates every table and seeds voters A1/B2 plus question 1 (Red=10, Blue=11)
func (s *testServer) reset(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, TruncateVotingTables(ctx, s.DB))
	require.NoError(t, SeedRoll(ctx, s.DB, map[int64][2]string{1: {"Ana", "A1"}, 2: {"Beto", "B2"}}))
	require.NoError(t, SeedQuestion(ctx, s.DB, 1, "Color", 1, map[int64]string{10: "Red", 11: "Blue"}))
}

func (s *testServer) post(t *testing.T, path string, body any, header map[string]string) (int, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.Server.URL+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return s.send(t, req, header)
}

func (s *testServer) get(t *testing.T, path string, header map[string]string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.Server.URL+path, nil)
	require.NoError(t, err)
	return s.send(t, req, header)
}

func (s *testServer) send(t *testing.T, req *http.Request, header map[string]string) (int, map[string]any) {
	t.Helper()
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw := readBody(resp)
	var out map[string]any
	_ = json.Unmarshal([]byte(raw), &out)
	return resp.StatusCode, out
}

func (s *testServer) login(t *testing.T, identifier string) string {
	t.Helper()
	code, body := s.post(t, "/api/auth", map[string]string{"identifier": identifier}, nil)
	require.Equal(t, http.StatusOK, code, "login %s: %v", identifier, body)
	return body["token"].(string)
}

func (s *testServer) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB.QueryRow(query, args...).Scan(&n))
	return n
}

func TestVotingE2E(t *testing.T) {
	ts := newTestServer(t)

	t.Run("A_Health", func(t *testing.T) {
		code, body := ts.get(t, "/health", nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["ok"])
	})

	t.Run("B_HappyPath", func(t *testing.T) {
		ts.reset(t)
		tok := ts.login(t, "A1")

		code, body := ts.post(t, "/api/votes", map[string]any{"token": tok, "question_id": 1, "option_id": 10}, nil)
		require.Equal(t, http.StatusOK, code, "%v", body)
		assert.Equal(t, true, body["complete"])

		admin, err := ts.JWT.SignAdminToken("ops")
		require.NoError(t, err)
		code, body = ts.get(t, "/api/tally/1", map[string]string{"Authorization": "Bearer " + admin})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, float64(1), body["total"])
		assert.Equal(t, []any{map[string]any{"option_id": float64(10), "option_text": "Red", "count": float64(1)}}, body["results"])

		assert.Equal(t, 1, ts.count(t, "SELECT COUNT(*) FROM voters WHERE id = 1 AND has_voted"))

		code, _ = ts.get(t, "/api/session?token="+tok, nil)
		assert.Equal(t, http.StatusUnauthorized, code, "session closed after completion")
	})

	t.Run("C_UnknownIdentifier", func(t *testing.T) {
		ts.reset(t)
		code, body := ts.post(t, "/api/auth", map[string]string{"identifier": "ZZZ"}, nil)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "UnknownVoter", body["error"])
	})

	t.Run("D_AlreadyVoted", func(t *testing.T) {
		ts.reset(t)
		tok := ts.login(t, "A1")
		code, _ := ts.post(t, "/api/votes", map[string]any{"token": tok, "question_id": 1, "option_id": 10}, nil)
		require.Equal(t, http.StatusOK, code)
		sessionsBefore := ts.count(t, "SELECT COUNT(*) FROM sessions WHERE voter_id = 1")

		code, body := ts.post(t, "/api/auth", map[string]string{"identifier": "A1"}, nil)
		assert.Equal(t, http.StatusForbidden, code)
		assert.Equal(t, "AlreadyVoted", body["error"])
		assert.Equal(t, sessionsBefore, ts.count(t, "SELECT COUNT(*) FROM sessions WHERE voter_id = 1"))
	})

	t.Run("E_DoubleVoteRace", func(t *testing.T) {
		ts.reset(t)
		// a second question keeps the winning cast from completing the ballot
		require.NoError(t, SeedQuestion(context.Background(), ts.DB, 2, "Shape", 2, map[int64]string{20: "Circle", 21: "Square"}))
		tok := ts.login(t, "A1")

		const workers = 2
		codes := make([]int, workers)
		kinds := make([]any, workers)
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				codes[i], kinds[i] = castRaw(ts, tok, 1, 10)
			}(i)
		}
		close(start)
		wg.Wait()

		ok, dup := 0, 0
		for i := range codes {
			switch {
			case codes[i] == http.StatusOK:
				ok++
			case codes[i] == http.StatusForbidden && kinds[i] == "DuplicateVote":
				dup++
			}
		}
		assert.Equal(t, 1, ok, "codes=%v kinds=%v", codes, kinds)
		assert.Equal(t, 1, dup, "codes=%v kinds=%v", codes, kinds)
		assert.Equal(t, 1, ts.count(t, "SELECT COUNT(*) FROM votes WHERE voter_id = 1 AND question_id = 1"))
	})

	t.Run("E2_ConcurrentDifferentQuestions", func(t *testing.T) {
		for round := 0; round < 5; round++ {
			ts.reset(t)
			require.NoError(t, SeedQuestion(context.Background(), ts.DB, 2, "Shape", 2, map[int64]string{20: "Circle", 21: "Square"}))
			tok := ts.login(t, "A1")

			picks := [][2]int64{{1, 10}, {2, 21}}
			codes := make([]int, len(picks))
			complete := make([]any, len(picks))
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i, p := range picks {
				wg.Add(1)
				go func(i int, q, o int64) {
					defer wg.Done()
					<-start
					codes[i], complete[i] = castComplete(ts, tok, q, o)
				}(i, p[0], p[1])
			}
			close(start)
			wg.Wait()

			assert.Equal(t, []int{http.StatusOK, http.StatusOK}, codes)
			done := 0
			for _, c := range complete {
				if c == true {
					done++
				}
			}
			assert.Equal(t, 1, done, "exactly one cast reports completion: %v", complete)
			assert.Equal(t, 1, ts.count(t, "SELECT COUNT(*) FROM voters WHERE id = 1 AND has_voted"))
			assert.Equal(t, 0, ts.count(t, "SELECT COUNT(*) FROM sessions WHERE voter_id = 1 AND active"))
		}
	})

	t.Run("F_ExpiredSession", func(t *testing.T) {
		ts.reset(t)
		tok, hash, err := session.GenerateToken()
		require.NoError(t, err)
		_, err = ts.DB.Exec("INSERT INTO sessions (voter_id, token_hash, expires_at) VALUES (1, $1, now() - interval '1 second')", hash)
		require.NoError(t, err)

		code, body := ts.post(t, "/api/votes", map[string]any{"token": tok, "question_id": 1, "option_id": 10}, nil)
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, "InvalidSession", body["error"])
		assert.Equal(t, 0, ts.count(t, "SELECT COUNT(*) FROM votes"))
	})

	t.Run("G_PartialBallot", func(t *testing.T) {
		ts.reset(t)
		require.NoError(t, SeedQuestion(context.Background(), ts.DB, 2, "Shape", 2, map[int64]string{20: "Circle", 21: "Square"}))
		tok := ts.login(t, "B2")

		code, body := ts.post(t, "/api/votes", map[string]any{"token": tok, "question_id": 1, "option_id": 11}, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, false, body["complete"])
		assert.Equal(t, 0, ts.count(t, "SELECT COUNT(*) FROM voters WHERE id = 2 AND has_voted"))

		code, body = ts.get(t, "/api/ballot", map[string]string{"Authorization": "Bearer " + tok})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, []any{float64(1)}, body["answered"])

		code, body = ts.post(t, "/api/votes", map[string]any{"token": tok, "question_id": 2, "option_id": 20}, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["complete"])
		assert.Equal(t, 1, ts.count(t, "SELECT COUNT(*) FROM voters WHERE id = 2 AND has_voted"))
		assert.Equal(t, 0, ts.count(t, "SELECT COUNT(*) FROM sessions WHERE voter_id = 2 AND active"))
	})

	t.Run("H_BadBallot", func(t *testing.T) {
		ts.reset(t)
		require.NoError(t, SeedQuestion(context.Background(), ts.DB, 2, "Shape", 2, map[int64]string{20: "Circle"}))
		tok := ts.login(t, "A1")
		code, body := ts.post(t, "/api/votes", map[string]any{"token": tok, "question_id": 1, "option_id": 20}, nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "BadBallot", body["error"])
		assert.Equal(t, 0, ts.count(t, "SELECT COUNT(*) FROM votes"))
	})

	t.Run("I_QuestionsOrdered", func(t *testing.T) {
		ts.reset(t)
		require.NoError(t, SeedQuestion(context.Background(), ts.DB, 3, "First", 0, map[int64]string{30: "x", 31: "y"}))
		tok := ts.login(t, "A1")
		req, err := http.NewRequest(http.MethodGet, ts.Server.URL+"/api/questions?token="+tok, nil)
		require.NoError(t, err)
		resp, err := ts.Server.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var qs []struct {
			ID int64 `json:"id"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&qs))
		require.Len(t, qs, 2)
		assert.Equal(t, int64(3), qs[0].ID)
		assert.Equal(t, int64(1), qs[1].ID)
	})
}

func castRaw(ts *testServer, tok string, question, option int64) (int, any) {
	b, _ := json.Marshal(map[string]any{"token": tok, "question_id": question, "option_id": option})
	resp, err := ts.Server.Client().Post(ts.Server.URL+"/api/votes", "application/json", bytes.NewReader(b))
	if err != nil {
		return 0, err.Error()
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out["error"]
}

func castComplete(ts *testServer, tok string, question, option int64) (int, any) {
	b, _ := json.Marshal(map[string]any{"token": tok, "question_id": question, "option_id": option})
	resp, err := ts.Server.Client().Post(ts.Server.URL+"/api/votes", "application/json", bytes.NewReader(b))
	if err != nil {
		return 0, nil
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out["complete"]
}

// readBody reads and returns the response body (consumes it). Use for error messages only.
func readBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
