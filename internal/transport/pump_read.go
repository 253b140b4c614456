package transport

import (
	"io"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

// readPump consumes inbound frames until the connection dies, then runs the
// disconnect path. Any frame, data or control, counts as liveness and pushes
// the read deadline.
func (s *Server) readPump(sess *presence.Connection) {
	defer s.engine.Disconnect(sess)

	conn := sess.Transport
	controlHandler := wsutil.ControlFrameHandler(conn, ws.StateServerSide)
	reader := &wsutil.Reader{
		Source:         conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: controlHandler,
		MaxFrameSize:   maxInboundBytes,
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}
		header, err := reader.NextFrame()
		if err != nil {
			return
		}
		if header.OpCode.IsControl() {
			if err := controlHandler(header, reader); err != nil {
				return
			}
			continue
		}

		payload, err := io.ReadAll(io.LimitReader(reader, maxInboundBytes+1))
		if err != nil {
			return
		}
		if len(payload) > maxInboundBytes {
			s.log.Warn().
				Str("conn_id", sess.ID).
				Str("user_id", sess.UserID).
				Msg("oversized client frame, closing")
			return
		}
		s.handleInbound(sess, payload)
	}
}
