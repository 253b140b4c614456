package transport

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gobwas/ws"

	"github.com/esraakhalifa/bookstore-presence/internal/auth"
	"github.com/esraakhalifa/bookstore-presence/internal/delivery"
	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

// handleWS admits, upgrades and registers a client session. Both gates run
// before the upgrade so a refused client gets a proper HTTP status it can
// back off on.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	remoteAddr := clientAddr(r)

	token := query.Get("token")
	if token == "" {
		token = auth.BearerToken(r)
	}
	id, err := s.engine.Authorize(token, remoteAddr)
	if err != nil {
		switch {
		case errors.Is(err, presence.ErrRateLimited):
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		case errors.Is(err, presence.ErrMaxConnections):
			http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		default:
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn().Err(err).Str("ip", remoteAddr).Msg("websocket upgrade failed")
		return
	}

	sess, err := s.engine.Register(id, presence.ParseDeviceClass(query.Get("device")), clientName(r), remoteAddr, netConn)
	if err != nil {
		netConn.Close()
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"connection_id": sess.ID,
		"user_id":       sess.UserID,
	})
	if frame, err := delivery.NewEnvelope("connection-established", payload).Encode(); err == nil {
		sess.Enqueue(frame)
	}

	go s.writePump(sess)
	go s.readPump(sess)
}

// clientAddr prefers the first X-Forwarded-For hop, falling back to the
// socket peer.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// clientName extracts a coarse client family from the User-Agent.
func clientName(r *http.Request) string {
	ua := strings.ToLower(r.UserAgent())
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "edg"):
		return "edge"
	case strings.Contains(ua, "chrome"):
		return "chrome"
	case strings.Contains(ua, "firefox"):
		return "firefox"
	case strings.Contains(ua, "safari"):
		return "safari"
	default:
		return "other"
	}
}
