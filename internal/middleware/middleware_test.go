package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urnaweb/server/internal/auth"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = chimw.GetReqID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", seen)
	assert.Equal(t, "trace-123", rec.Header().Get(RequestIDHeader))
}

func TestLogger_preservesResponse(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("made"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "made", rec.Body.String())
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.2:80", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:80", "198.51.100.4"},
		{"remote with port", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"ipv6 remote", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, ClientIP(req))
		})
	}
}

func TestAdminMiddleware(t *testing.T) {
	jwtSvc := auth.NewJWTService("s3cret", time.Hour)
	tok, err := jwtSvc.SignAdminToken("ops")
	require.NoError(t, err)

	var subject string
	h := AdminMiddleware(jwtSvc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := GetAdmin(r.Context())
		require.True(t, ok)
		subject = c.Subject
	}))

	for name, header := range map[string]string{
		"missing":   "",
		"no scheme": tok,
		"garbage":   "Bearer abc.def.ghi",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", subject)
}

func TestRateLimiter_slidingWindow(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 2)
	defer rl.Stop()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "ip:a")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "ip:a")
	assert.False(t, ok)
	ok, _ = rl.Allow(ctx, "ip:b")
	assert.True(t, ok, "keys are independent")

	now = now.Add(61 * time.Second)
	ok, _ = rl.Allow(ctx, "ip:a")
	assert.True(t, ok)
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (s stubLimiter) Allow(context.Context, string) (bool, error) { return s.allowed, s.err }

func TestRateLimitMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/auth", nil)

	rec := httptest.NewRecorder()
	RateLimitMiddleware(stubLimiter{allowed: false}, GetIPKey)(http.HandlerFunc(okHandler)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RateLimited", body["error"])
	assert.Equal(t, false, body["success"])

	rec = httptest.NewRecorder()
	RateLimitMiddleware(stubLimiter{err: errors.New("redis down")}, GetIPKey)(http.HandlerFunc(okHandler)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "limiter failure lets the request through")
}

func TestRedisLimiter(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := ConnectRedis(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	l := NewRedisLimiter(client, time.Minute, 2)
	key := "test:" + uuid.NewString()
	defer client.Del(ctx, l.prefix+key)

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetIPKey_ignoresForwardingHeaders(t *testing.T) {
	a := httptest.NewRequest(http.MethodPost, "/api/auth", nil)
	a.RemoteAddr = "192.0.2.10:4000"
	a.Header.Set("X-Forwarded-For", "203.0.113.1")
	b := httptest.NewRequest(http.MethodPost, "/api/auth", nil)
	b.RemoteAddr = "192.0.2.10:4001"
	b.Header.Set("X-Forwarded-For", "203.0.113.2")
	b.Header.Set("X-Real-IP", "203.0.113.3")

	assert.Equal(t, "ip:192.0.2.10", GetIPKey(a))
	assert.Equal(t, GetIPKey(a), GetIPKey(b))
	assert.Equal(t, "203.0.113.1", ClientIP(a), "audit address still follows the forwarding chain")
}
