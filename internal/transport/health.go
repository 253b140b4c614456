package transport

import (
	"net/http"
	"time"

	"github.com/esraakhalifa/bookstore-presence/internal/monitoring"
)

type healthResponse struct {
	Status      string               `json:"status"`
	UptimeSecs  int64                `json:"uptime_seconds"`
	UsersOnline int                  `json:"users_online"`
	Connections int                  `json:"connections"`
	Host        monitoring.HostStats `json:"host"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := s.engine.Summary()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		UptimeSecs:  int64(time.Since(s.startedAt).Seconds()),
		UsersOnline: summary.UsersOnline,
		Connections: summary.Connections,
		Host:        monitoring.SampleHost(),
	})
}
