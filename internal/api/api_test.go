package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentimeter/backend/internal/ratelimit"
	"github.com/sentimeter/backend/internal/session"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testServer struct {
	router  *gin.Engine
	manager *session.Manager
}

func newTestServer(t *testing.T, sopts session.Options, opts Options, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	return newTestServerWithBackend(t, session.NewMemoryBackend(), sopts, opts, limiter)
}

func newTestServerWithBackend(t *testing.T, b session.Backend, sopts session.Options, opts Options, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	m := session.NewManager(b, sopts)
	return &testServer{
		router:  NewRouter(NewHandler(m, limiter, opts)),
		manager: m,
	}
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) create(t *testing.T, payload string) string {
	t.Helper()
	w := s.do(http.MethodPost, "/session", `{"payload":`+payload+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp createResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp fetchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return string(resp.Data)
}

func TestCreateSession_Response(t *testing.T) {
	s := newTestServer(t, session.Options{TTL: 600 * time.Second, SingleUse: true}, Options{}, nil)

	w := s.do(http.MethodPost, "/session", `{"payload":{"x":1}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp createResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, session.ValidID(resp.SessionID), "unexpected id %q", resp.SessionID)
	assert.Equal(t, 600, resp.ExpiresIn)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestCreateSession_Validation(t *testing.T) {
	s := newTestServer(t, session.Options{TTL: time.Minute, SingleUse: true}, Options{MaxPayloadBytes: 64}, nil)

	testCases := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"missing payload", `{}`, http.StatusBadRequest, msgPayloadRequired},
		{"null payload", `{"payload":null}`, http.StatusBadRequest, msgPayloadRequired},
		{"malformed json", `{"payload":`, http.StatusBadRequest, msgInvalidBody},
		{"not an object", `[1,2]`, http.StatusBadRequest, msgInvalidBody},
		{"too large", `{"payload":"` + strings.Repeat("a", 100) + `"}`, http.StatusRequestEntityTooLarge, msgPayloadTooLarge},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/session", tc.body)
			assert.Equal(t, tc.status, w.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.msg, resp.Error)
		})
	}
}

func TestCreateSession_EmptyBody(t *testing.T) {
	s := newTestServer(t, session.Options{TTL: time.Minute}, Options{}, nil)

	w := s.do(http.MethodPost, "/session", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSingleUseScenario(t *testing.T) {
	s := newTestServer(t, session.Options{TTL: 2 * time.Second, SingleUse: true}, Options{}, nil)

	id := s.create(t, `{"x":1}`)

	w := s.do(http.MethodGet, "/session/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"x":1}`, decodeData(t, w))

	w = s.do(http.MethodGet, "/session/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExpiredSessionScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps past the TTL")
	}
	s := newTestServer(t, session.Options{TTL: 2 * time.Second, SingleUse: true}, Options{}, nil)

	id := s.create(t, `{"y":2}`)
	time.Sleep(3 * time.Second)

	w := s.do(http.MethodGet, "/session/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMultiUseScenario(t *testing.T) {
	s := newTestServer(t, session.Options{TTL: 60 * time.Second, SingleUse: false}, Options{}, nil)

	id := s.create(t, `{"a":"b"}`)
	for i := 0; i < 3; i++ {
		w := s.do(http.MethodGet, "/session/"+id, "")
		require.Equal(t, http.StatusOK, w.Code, "fetch %d", i+1)
		assert.JSONEq(t, `{"a":"b"}`, decodeData(t, w))
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestServer(t, session.Options{TTL: time.Minute, SingleUse: true}, Options{}, nil)
	valid, _ := session.NewID()

	for _, path := range []string{"/session/" + valid, "/session/not-an-id", "/session/" + valid + "x"} {
		w := s.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)

		var resp errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, msgNotFound, resp.Error)
	}
}

type failingBackend struct {
	*session.MemoryBackend
}

func (f failingBackend) Put(context.Context, string, []byte, time.Duration) error {
	return errors.Join(session.ErrBackendUnavailable, errors.New("connection refused"))
}

func (f failingBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.Join(session.ErrBackendUnavailable, errors.New("connection refused"))
}

func TestBackendFailuresReturn500(t *testing.T) {
	s := newTestServerWithBackend(t, failingBackend{session.NewMemoryBackend()},
		session.Options{TTL: time.Minute, SingleUse: false}, Options{}, nil)

	w := s.do(http.MethodPost, "/session", `{"payload":{"x":1}}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	id, _ := session.NewID()
	w = s.do(http.MethodGet, "/session/"+id, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateSession_RateLimited(t *testing.T) {
	rule := ratelimit.Rule{Key: "rl:test:", Limit: 2, Window: time.Minute}
	s := newTestServer(t, session.Options{TTL: time.Minute}, Options{CreateRule: rule}, ratelimit.NewMemoryLimiter())

	for i := 0; i < 2; i++ {
		s.create(t, `1`)
	}
	w := s.do(http.MethodPost, "/session", `{"payload":1}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRequestID_Propagated(t *testing.T) {
	s := newTestServer(t, session.Options{TTL: time.Minute}, Options{}, nil)

	w := s.do(http.MethodGet, "/health", "", HeaderRequestID, "abc-123")
	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))

	w = s.do(http.MethodGet, "/health", "", HeaderRequestID, strings.Repeat("x", maxRequestIDLen+1))
	assert.Len(t, w.Header().Get(HeaderRequestID), 36)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, session.Options{TTL: 600 * time.Second, SingleUse: true}, Options{}, nil)

	w := s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, session.KindMemory, resp["backend"])
	assert.Equal(t, true, resp["single_use"])
	assert.EqualValues(t, 600, resp["ttl_seconds"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, session.Options{TTL: time.Minute}, Options{}, nil)
	s.do(http.MethodGet, "/health", "")

	w := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
}

func TestCORS(t *testing.T) {
	t.Run("any origin by default", func(t *testing.T) {
		s := newTestServer(t, session.Options{TTL: time.Minute}, Options{}, nil)
		w := s.do(http.MethodGet, "/health", "", "Origin", "https://dashboard.example")
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard in list allows any origin", func(t *testing.T) {
		opts := Options{AllowedOrigins: []string{"https://dashboard.example", "*"}}
		s := newTestServer(t, session.Options{TTL: time.Minute}, opts, nil)
		w := s.do(http.MethodGet, "/health", "", "Origin", "https://other.example")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("restricted origins", func(t *testing.T) {
		opts := Options{AllowedOrigins: []string{"https://dashboard.example", "chrome-extension://abcdef"}}
		s := newTestServer(t, session.Options{TTL: time.Minute}, opts, nil)

		w := s.do(http.MethodGet, "/health", "", "Origin", "chrome-extension://abcdef")
		assert.Equal(t, "chrome-extension://abcdef", w.Header().Get("Access-Control-Allow-Origin"))

		w = s.do(http.MethodGet, "/health", "", "Origin", "https://evil.example")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("preflight", func(t *testing.T) {
		s := newTestServer(t, session.Options{TTL: time.Minute}, Options{}, nil)
		w := s.do(http.MethodOptions, "/session", "",
			"Origin", "https://dashboard.example",
			"Access-Control-Request-Method", "POST",
			"Access-Control-Request-Headers", "Content-Type")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	})
}
