package transport

import (
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

// writePump drains the session's send queue onto the socket and keeps the
// connection alive with periodic pings. It exits on the first write error;
// the read pump notices the dead socket and runs the disconnect path.
func (s *Server) writePump(sess *presence.Connection) {
	conn := sess.Transport
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-sess.Outbound():
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := wsutil.WriteServerMessage(conn, ws.OpText, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
