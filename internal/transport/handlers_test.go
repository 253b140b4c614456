package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esraakhalifa/bookstore-presence/internal/delivery"
	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

func TestWSRejectsBeforeUpgrade(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Fill the per-user cap, then try once more over the websocket route.
	for i := 0; i < 6; i++ {
		ts.connect(t, "alice", "user", "10.1.0.1:1")
	}
	token, err := ts.authn.Issue("alice", "user", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	req.RemoteAddr = "10.9.0.1:1"
	rec2 := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec2.Code)

	// The token may also arrive as a bearer header; the cap still applies,
	// which proves the header was parsed.
	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.RemoteAddr = "10.9.0.2:1"
	rec3 := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec3, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec3.Code)
}

func TestClientAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.1:51234"
	assert.Equal(t, "10.0.0.1", clientAddr(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientAddr(req))
}

func TestClientName(t *testing.T) {
	cases := map[string]string{
		"Mozilla/5.0 (X11) Chrome/120.0":        "chrome",
		"Mozilla/5.0 Edg/120.0":                 "edge",
		"Mozilla/5.0 (Macintosh) Firefox/119.0": "firefox",
		"Mozilla/5.0 (iPhone) Safari/604.1":     "safari",
		"curl/8.0":                              "other",
		"":                                      "unknown",
	}
	for ua, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if ua != "" {
			req.Header.Set("User-Agent", ua)
		}
		assert.Equal(t, want, clientName(req), "ua=%q", ua)
	}
}

func readReply(t *testing.T, conn *presence.Connection) delivery.Envelope {
	t.Helper()
	select {
	case frame := <-conn.Outbound():
		var env delivery.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	default:
		t.Fatal("no reply enqueued")
		return delivery.Envelope{}
	}
}

func TestInboundPing(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.connect(t, "alice", "user", "10.0.0.1:1")

	ts.server.handleInbound(conn, []byte(`{"type":"ping"}`))
	assert.Equal(t, "pong", readReply(t, conn).Event)
}

func TestInboundTrackSubject(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.connect(t, "alice", "user", "10.0.0.1:1")

	ts.server.handleInbound(conn, []byte(`{"type":"track-subject","subject":"book-7"}`))
	env := readReply(t, conn)
	assert.Equal(t, "subject-tracked", env.Event)
	assert.JSONEq(t, `{"subject":"book-7"}`, string(env.Data))

	ts.server.handleInbound(conn, []byte(`{"type":"untrack-subject","subject":"book-7"}`))
	assert.Equal(t, "subject-untracked", readReply(t, conn).Event)

	// Missing subject is an error, not a crash.
	ts.server.handleInbound(conn, []byte(`{"type":"track-subject"}`))
	assert.Equal(t, "error", readReply(t, conn).Event)
}

func TestInboundUserStatus(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.connect(t, "alice", "user", "10.0.0.1:1")

	ts.server.handleInbound(conn, []byte(`{"type":"user-status","status":"away"}`))
	assert.Equal(t, "status-updated", readReply(t, conn).Event)

	rec, ok := ts.engine.Tracker().Get("alice")
	require.True(t, ok)
	assert.Equal(t, presence.StatusAway, rec.Status)

	ts.server.handleInbound(conn, []byte(`{"type":"user-status","status":"offline"}`))
	assert.Equal(t, "error", readReply(t, conn).Event)
}

func TestInboundMalformedAndUnknown(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.connect(t, "alice", "user", "10.0.0.1:1")

	ts.server.handleInbound(conn, []byte(`not json`))
	assert.Equal(t, "error", readReply(t, conn).Event)

	ts.server.handleInbound(conn, []byte(`{"type":"teleport"}`))
	assert.Equal(t, "error", readReply(t, conn).Event)
}
