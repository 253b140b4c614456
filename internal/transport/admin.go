package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	users, total := s.engine.OnlineUsers(page, perPage)
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"total": total,
	})
}

func (s *Server) handleUserDetail(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	detail, err := s.engine.Detail(userID)
	if err != nil {
		if errors.Is(err, presence.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Summary())
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ActivityStats())
}

type disconnectRequest struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

// handleForceDisconnect closes one specific session.
func (s *Server) handleForceDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.ConnectionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and connection_id required"})
		return
	}
	if err := s.engine.ForceDisconnect(req.UserID, req.ConnectionID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "connection not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"closed": 1})
}

// handleForceDisconnectAll closes every session a user holds.
func (s *Server) handleForceDisconnectAll(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id required"})
		return
	}
	closed := s.engine.ForceDisconnectAll(req.UserID)
	writeJSON(w, http.StatusOK, map[string]int{"closed": closed})
}

type broadcastRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event required"})
		return
	}
	res := s.engine.OperatorBroadcast(req.Event, req.Data)
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
