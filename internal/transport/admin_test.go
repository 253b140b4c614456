package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esraakhalifa/bookstore-presence/internal/admission"
	"github.com/esraakhalifa/bookstore-presence/internal/auth"
	"github.com/esraakhalifa/bookstore-presence/internal/delivery"
	"github.com/esraakhalifa/bookstore-presence/internal/engine"
	"github.com/esraakhalifa/bookstore-presence/internal/monitoring"
	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

type testServer struct {
	server *Server
	engine *engine.Engine
	authn  *auth.Authenticator
	admin  string // bearer token with the admin role
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	authn := auth.NewAuthenticator("test-secret", "bookstore")
	registry := presence.NewRegistry()
	interest := presence.NewInterestIndex()
	tracker := presence.NewActivityTracker(zerolog.Nop())
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	eng := engine.New(engine.Deps{
		Verifier: authn,
		Gate:     admission.NewGate(registry, zerolog.Nop()),
		Registry: registry,
		Tracker:  tracker,
		Interest: interest,
		Router:   delivery.NewRouter(registry, interest, metrics, zerolog.Nop()),
		Metrics:  metrics,
		Logger:   zerolog.Nop(),
	})

	adminToken, err := authn.Issue("root", "admin", time.Minute)
	require.NoError(t, err)

	return &testServer{
		server: NewServer(":0", eng, authn, zerolog.Nop()),
		engine: eng,
		authn:  authn,
		admin:  adminToken,
	}
}

func (ts *testServer) connect(t *testing.T, userID, role, addr string) *presence.Connection {
	t.Helper()
	token, err := ts.authn.Issue(userID, role, time.Minute)
	require.NoError(t, err)
	id, err := ts.engine.Authorize(token, addr)
	require.NoError(t, err)
	conn, err := ts.engine.Register(id, presence.DeviceDesktop, "chrome", addr, nil)
	require.NoError(t, err)
	return conn
}

func (ts *testServer) request(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAPIRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/presence/summary", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	userToken, err := ts.authn.Issue("alice", "user", time.Minute)
	require.NoError(t, err)
	rec = ts.request(t, http.MethodGet, "/api/presence/summary", userToken, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/presence/summary", ts.admin, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOnlineUsersEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.connect(t, "alice", "user", "10.0.0.1:1")
	ts.connect(t, "alice", "user", "10.0.0.2:1")
	ts.connect(t, "bob", "user", "10.0.0.3:1")

	rec := ts.request(t, http.MethodGet, "/api/presence/online", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Users []engine.UserSummary `json:"users"`
		Total int                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Users, 2)
	assert.Equal(t, "alice", resp.Users[0].UserID)
	assert.Equal(t, 2, resp.Users[0].Connections)
}

func TestUserDetailEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.connect(t, "alice", "user", "10.0.0.1:1")

	rec := ts.request(t, http.MethodGet, "/api/presence/users/alice", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail engine.UserDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.True(t, detail.Online)
	assert.Len(t, detail.Connections, 1)

	rec = ts.request(t, http.MethodGet, "/api/presence/users/ghost", ts.admin, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivityEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.connect(t, "alice", "user", "10.0.0.1:1")

	rec := ts.request(t, http.MethodGet, "/api/presence/activity", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats presence.ActivityStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Online)
}

func TestForceDisconnectEndpoint(t *testing.T) {
	ts := newTestServer(t)
	c1 := ts.connect(t, "alice", "user", "10.0.0.1:1")
	ts.connect(t, "alice", "user", "10.0.0.2:1")

	rec := ts.request(t, http.MethodPost, "/api/control/disconnect", ts.admin,
		`{"user_id":"alice","connection_id":"`+c1.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"closed":1}`, rec.Body.String())
	assert.Equal(t, 1, ts.engine.Summary().Connections)

	rec = ts.request(t, http.MethodPost, "/api/control/disconnect", ts.admin,
		`{"user_id":"alice","connection_id":"`+c1.ID+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/control/disconnect", ts.admin, `{"user_id":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForceDisconnectAllEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.connect(t, "alice", "user", "10.0.0.1:1")
	ts.connect(t, "alice", "user", "10.0.0.2:1")
	ts.connect(t, "bob", "user", "10.0.0.3:1")

	rec := ts.request(t, http.MethodPost, "/api/control/disconnect-all", ts.admin, `{"user_id":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"closed":2}`, rec.Body.String())
	assert.Equal(t, 1, ts.engine.Summary().Connections)

	rec = ts.request(t, http.MethodPost, "/api/control/disconnect-all", ts.admin, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBroadcastEndpoint(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.connect(t, "alice", "user", "10.0.0.1:1")

	rec := ts.request(t, http.MethodPost, "/api/control/broadcast", ts.admin,
		`{"event":"maintenance","data":{"at":"22:00"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"delivered":1,"dropped":0}`, rec.Body.String())

	select {
	case frame := <-conn.Outbound():
		var env delivery.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, "maintenance", env.Event)
	default:
		t.Fatal("broadcast did not reach the connection")
	}

	rec = ts.request(t, http.MethodPost, "/api/control/broadcast", ts.admin, `{"data":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}
