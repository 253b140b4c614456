// Package transport exposes the engine over the wire: a WebSocket endpoint
// for client sessions and an HTTP surface for operators, health and metrics.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/esraakhalifa/bookstore-presence/internal/auth"
	"github.com/esraakhalifa/bookstore-presence/internal/engine"
	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

const (
	// pongWait is how long a connection may stay silent before the read
	// side gives up on it.
	pongWait = 30 * time.Second
	// pingPeriod must be under pongWait so a healthy client always gets a
	// ping before the deadline.
	pingPeriod = 27 * time.Second
	// writeWait bounds a single frame write.
	writeWait = 5 * time.Second

	// maxInboundBytes caps a single client frame. Clients only send small
	// control messages; anything larger is hostile or broken.
	maxInboundBytes = 4 * 1024
)

// Server is the combined WebSocket and HTTP front.
type Server struct {
	engine *engine.Engine
	authn  *auth.Authenticator
	log    zerolog.Logger

	httpServer *http.Server
	startedAt  time.Time
}

func NewServer(addr string, eng *engine.Engine, authn *auth.Authenticator, log zerolog.Logger) *Server {
	s := &Server{
		engine:    eng,
		authn:     authn,
		log:       log.With().Str("component", "transport").Logger(),
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(authn.RequireRole(presence.RoleAdmin))

		r.Route("/presence", func(r chi.Router) {
			r.Get("/online", s.handleOnlineUsers)
			r.Get("/users/{userID}", s.handleUserDetail)
			r.Get("/summary", s.handleSummary)
			r.Get("/activity", s.handleActivity)
		})
		r.Route("/control", func(r chi.Router) {
			r.Post("/disconnect", s.handleForceDisconnect)
			r.Post("/disconnect-all", s.handleForceDisconnectAll)
			r.Post("/broadcast", s.handleBroadcast)
		})
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving traffic until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new sessions, then tears down the live ones so
// their pumps exit before the process does.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	closed := s.engine.DrainAll()
	s.log.Info().Int("closed", closed).Msg("server drained")
	return err
}
