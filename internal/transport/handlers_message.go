package transport

import (
	"encoding/json"

	"github.com/esraakhalifa/bookstore-presence/internal/delivery"
	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

// clientMessage is the shape of every inbound client frame.
type clientMessage struct {
	Type    string          `json:"type"`
	Subject string          `json:"subject,omitempty"`
	Status  presence.Status `json:"status,omitempty"`
}

// handleInbound dispatches one client frame. Malformed or unknown frames get
// an error reply instead of killing the session.
func (s *Server) handleInbound(sess *presence.Connection, payload []byte) {
	var msg clientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.replyError(sess, "malformed message")
		return
	}

	switch msg.Type {
	case "ping":
		s.engine.Heartbeat(sess.UserID)
		s.reply(sess, "pong", nil)
	case "track-subject":
		if err := s.engine.TrackSubject(sess.UserID, msg.Subject); err != nil {
			s.replyError(sess, "subject required")
			return
		}
		s.reply(sess, "subject-tracked", mustJSON(map[string]string{"subject": msg.Subject}))
	case "untrack-subject":
		if err := s.engine.UntrackSubject(sess.UserID, msg.Subject); err != nil {
			s.replyError(sess, "untrack failed")
			return
		}
		s.reply(sess, "subject-untracked", mustJSON(map[string]string{"subject": msg.Subject}))
	case "user-status":
		if err := s.engine.SetStatus(sess.UserID, msg.Status); err != nil {
			s.replyError(sess, "unknown status")
			return
		}
		s.reply(sess, "status-updated", mustJSON(map[string]string{"status": string(msg.Status)}))
	default:
		s.replyError(sess, "unknown message type")
	}
}

func (s *Server) reply(sess *presence.Connection, event string, data json.RawMessage) {
	frame, err := delivery.NewEnvelope(event, data).Encode()
	if err != nil {
		return
	}
	if !sess.Enqueue(frame) {
		s.log.Warn().Str("conn_id", sess.ID).Str("event", event).Msg("reply dropped, send queue full")
	}
}

func (s *Server) replyError(sess *presence.Connection, reason string) {
	s.reply(sess, "error", mustJSON(map[string]string{"reason": reason}))
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
