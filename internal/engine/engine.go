// Package engine coordinates the presence subsystems: it admits sessions,
// owns the connect/disconnect lifecycle, and exposes the operations the
// transport and operator surfaces call into.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/esraakhalifa/bookstore-presence/internal/admission"
	"github.com/esraakhalifa/bookstore-presence/internal/auth"
	"github.com/esraakhalifa/bookstore-presence/internal/delivery"
	"github.com/esraakhalifa/bookstore-presence/internal/monitoring"
	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

// TokenVerifier authenticates connection tokens. Satisfied by
// *auth.Authenticator.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Engine is the single entry point for session lifecycle and presence
// queries. It is safe for concurrent use.
type Engine struct {
	verifier TokenVerifier
	gate     *admission.Gate
	registry *presence.Registry
	tracker  *presence.ActivityTracker
	interest *presence.InterestIndex
	router   *delivery.Router
	metrics  *monitoring.Metrics
	newID    func() string
	log      zerolog.Logger
}

type Deps struct {
	Verifier TokenVerifier
	Gate     *admission.Gate
	Registry *presence.Registry
	Tracker  *presence.ActivityTracker
	Interest *presence.InterestIndex
	Router   *delivery.Router
	Metrics  *monitoring.Metrics
	// NewID overrides connection ID generation; nil means xid.
	NewID  func() string
	Logger zerolog.Logger
}

func New(deps Deps) *Engine {
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return xid.New().String() }
	}
	return &Engine{
		verifier: deps.Verifier,
		gate:     deps.Gate,
		registry: deps.Registry,
		tracker:  deps.Tracker,
		interest: deps.Interest,
		router:   deps.Router,
		metrics:  deps.Metrics,
		newID:    newID,
		log:      deps.Logger.With().Str("component", "engine").Logger(),
	}
}

// Authorize runs authentication and admission for a connection attempt
// without mutating any state. The transport upgrades the socket only after
// this passes, then calls Register.
func (e *Engine) Authorize(token, remoteAddr string) (auth.Identity, error) {
	id, err := e.verifier.Verify(token)
	if err != nil {
		if e.metrics != nil {
			e.metrics.AdmissionRefusals.WithLabelValues("auth").Inc()
		}
		return auth.Identity{}, err
	}
	if err := e.gate.Allow(remoteAddr, id.UserID); err != nil {
		if e.metrics != nil {
			reason := "rate_limit"
			if errors.Is(err, presence.ErrMaxConnections) {
				reason = "user_cap"
			}
			e.metrics.AdmissionRefusals.WithLabelValues(reason).Inc()
		}
		return auth.Identity{}, err
	}
	return id, nil
}

// Register creates the session for an authorized identity and records it in
// the registry. The transport handle is attached before the session becomes
// visible, so a forced disconnect racing the registration always finds a
// closable socket.
func (e *Engine) Register(id auth.Identity, device presence.DeviceClass, client, remoteAddr string, transport net.Conn) (*presence.Connection, error) {
	conn := presence.NewConnection(e.newID(), id.UserID, id.Role, device, client, remoteAddr)
	conn.Transport = transport
	if err := e.registry.Register(conn); err != nil {
		if e.metrics != nil {
			e.metrics.AdmissionRefusals.WithLabelValues("duplicate").Inc()
		}
		e.log.Error().Err(err).
			Str("conn_id", conn.ID).
			Str("user_id", id.UserID).
			Str("ip", remoteAddr).
			Msg("connection registration refused")
		return nil, err
	}
	if err := e.tracker.Touch(id.UserID, ""); err != nil {
		// Unreachable with an empty status, but don't swallow it silently.
		e.log.Error().Err(err).Str("user_id", id.UserID).Msg("activity touch failed on register")
	}

	if e.metrics != nil {
		e.metrics.ConnectionsTotal.Inc()
		e.metrics.ConnectionsActive.Set(float64(e.registry.TotalConnections()))
		e.metrics.UsersOnline.Set(float64(len(e.registry.OnlineUserIDs())))
	}
	e.log.Info().
		Str("conn_id", conn.ID).
		Str("user_id", conn.UserID).
		Str("role", conn.Role).
		Str("device", string(conn.Device)).
		Str("ip", remoteAddr).
		Int("sessions", e.registry.Count(id.UserID)).
		Msg("connection registered")
	return conn, nil
}

// Disconnect removes a connection. Idempotent: forced teardown and the pump
// exit both land here, and only the first call takes effect. When the user's
// last connection drops they are marked offline, their subject interests are
// cleared, and the administrative group is told.
func (e *Engine) Disconnect(conn *presence.Connection) {
	res := e.registry.Remove(conn.UserID, conn.ID)
	if !res.Removed {
		return
	}
	conn.Close()

	if res.WasLast {
		e.tracker.MarkOffline(conn.UserID)
		e.interest.UnsubscribeAll(conn.UserID)
		payload, _ := json.Marshal(map[string]string{"user_id": conn.UserID})
		e.router.SendToAdmins(delivery.NewEnvelope("user-offline", payload))
	}

	if e.metrics != nil {
		e.metrics.DisconnectsTotal.Inc()
		e.metrics.ConnectionsActive.Set(float64(e.registry.TotalConnections()))
		e.metrics.UsersOnline.Set(float64(len(e.registry.OnlineUserIDs())))
		e.metrics.SubjectsTracked.Set(float64(e.interest.SubjectCount()))
	}
	e.log.Info().
		Str("conn_id", conn.ID).
		Str("user_id", conn.UserID).
		Bool("went_offline", res.WasLast).
		Msg("connection removed")
}

// TrackSubject records the user's interest in a subject and counts as
// activity. Refused once the user holds no connections: a frame still in
// flight when the last session tears down must not re-create interest or
// activity state.
func (e *Engine) TrackSubject(userID, subject string) error {
	if subject == "" {
		return fmt.Errorf("%w: empty subject", presence.ErrNotFound)
	}
	if !e.registry.IsOnline(userID) {
		return presence.ErrNotFound
	}
	e.interest.Subscribe(subject, userID)
	if e.metrics != nil {
		e.metrics.SubjectsTracked.Set(float64(e.interest.SubjectCount()))
	}
	if err := e.tracker.TouchIfAlive(userID, "", e.alive(userID)); err != nil {
		if errors.Is(err, presence.ErrNotFound) {
			// The last session tore down mid-call; undo the subscription
			// so no interest outlives the user.
			e.interest.Unsubscribe(subject, userID)
		}
		return err
	}
	return nil
}

// alive adapts the registry's liveness check for the tracker's guarded
// touches.
func (e *Engine) alive(userID string) func() bool {
	return func() bool { return e.registry.IsOnline(userID) }
}

// UntrackSubject drops the user's interest in a subject.
func (e *Engine) UntrackSubject(userID, subject string) error {
	e.interest.Unsubscribe(subject, userID)
	if e.metrics != nil {
		e.metrics.SubjectsTracked.Set(float64(e.interest.SubjectCount()))
	}
	if err := e.tracker.TouchIfAlive(userID, "", e.alive(userID)); err != nil && !errors.Is(err, presence.ErrNotFound) {
		return err
	}
	return nil
}

// SetStatus applies a self-reported status change. A user with no live
// connections stays offline.
func (e *Engine) SetStatus(userID string, status presence.Status) error {
	return e.tracker.TouchIfAlive(userID, status, e.alive(userID))
}

// Heartbeat refreshes the user's last-active time without changing status.
// A heartbeat arriving after the last disconnect is dropped so the offline
// record stays sweepable.
func (e *Engine) Heartbeat(userID string) {
	if err := e.tracker.TouchIfAlive(userID, "", e.alive(userID)); err != nil && !errors.Is(err, presence.ErrNotFound) {
		e.log.Error().Err(err).Str("user_id", userID).Msg("heartbeat touch failed")
	}
}

// ForceDisconnect tears down one specific session of a user, the targeted
// operator "kick". The transport handle is closed so teardown flows through
// the same disconnect path the pumps use.
func (e *Engine) ForceDisconnect(userID, connID string) error {
	for _, conn := range e.registry.Connections(userID) {
		if conn.ID != connID {
			continue
		}
		conn.Close()
		e.Disconnect(conn)
		e.log.Warn().Str("user_id", userID).Str("conn_id", connID).Msg("connection forcibly closed")
		return nil
	}
	return presence.ErrNotFound
}

// ForceDisconnectAll tears down every session a user holds. Returns the
// number of connections closed.
func (e *Engine) ForceDisconnectAll(userID string) int {
	conns := e.registry.Connections(userID)
	for _, conn := range conns {
		conn.Close()
		e.Disconnect(conn)
	}
	if len(conns) > 0 {
		e.log.Warn().Str("user_id", userID).Int("closed", len(conns)).Msg("user forcibly disconnected")
	}
	return len(conns)
}

// DrainAll closes every live session across all users. Shutdown path only.
func (e *Engine) DrainAll() int {
	var conns []*presence.Connection
	e.registry.EachConnection(func(c *presence.Connection) { conns = append(conns, c) })
	for _, conn := range conns {
		conn.Close()
		e.Disconnect(conn)
	}
	return len(conns)
}

// OperatorBroadcast pushes an operator-authored message to every live
// connection.
func (e *Engine) OperatorBroadcast(event string, data json.RawMessage) delivery.Result {
	return e.router.BroadcastAll(delivery.NewEnvelope(event, data))
}

// UserSummary is one row in the online-users listing.
type UserSummary struct {
	UserID      string          `json:"user_id"`
	Connections int             `json:"connections"`
	Status      presence.Status `json:"status"`
	LastActive  time.Time       `json:"last_active"`
}

// OnlineUsers lists currently online users with their session counts and
// activity, paginated. Page numbering starts at 1; a zero or negative page
// means the first. Sorted by user ID for stable paging.
func (e *Engine) OnlineUsers(page, perPage int) ([]UserSummary, int) {
	if perPage <= 0 {
		perPage = 50
	}
	if page <= 0 {
		page = 1
	}
	ids := e.registry.OnlineUserIDs()
	total := len(ids)

	start := (page - 1) * perPage
	if start >= total {
		return []UserSummary{}, total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	out := make([]UserSummary, 0, end-start)
	for _, id := range ids[start:end] {
		summary := UserSummary{UserID: id, Connections: e.registry.Count(id)}
		if rec, ok := e.tracker.Get(id); ok {
			summary.Status = rec.Status
			summary.LastActive = rec.LastActive
		}
		out = append(out, summary)
	}
	return out, total
}

// ConnectionDetail describes one live session in a user detail view.
type ConnectionDetail struct {
	ID          string               `json:"id"`
	Device      presence.DeviceClass `json:"device"`
	Client      string               `json:"client"`
	RemoteAddr  string               `json:"remote_addr"`
	ConnectedAt time.Time            `json:"connected_at"`
}

// UserDetail is the full presence picture for one user.
type UserDetail struct {
	UserID      string                   `json:"user_id"`
	Online      bool                     `json:"online"`
	Status      presence.Status          `json:"status"`
	LastActive  time.Time                `json:"last_active"`
	Connections []ConnectionDetail       `json:"connections"`
	History     []presence.HistoryRecord `json:"history"`
}

// Detail resolves a user's live sessions, activity record and bounded
// disconnect history. Returns ErrNotFound when the engine has never seen the
// user.
func (e *Engine) Detail(userID string) (UserDetail, error) {
	conns := e.registry.Connections(userID)
	history := e.registry.History(userID)
	rec, tracked := e.tracker.Get(userID)
	if len(conns) == 0 && len(history) == 0 && !tracked {
		return UserDetail{}, presence.ErrNotFound
	}

	detail := UserDetail{
		UserID:      userID,
		Online:      len(conns) > 0,
		Connections: make([]ConnectionDetail, 0, len(conns)),
		History:     history,
	}
	if tracked {
		detail.Status = rec.Status
		detail.LastActive = rec.LastActive
	}
	for _, c := range conns {
		detail.Connections = append(detail.Connections, ConnectionDetail{
			ID:          c.ID,
			Device:      c.Device,
			Client:      c.Client,
			RemoteAddr:  c.RemoteAddr,
			ConnectedAt: c.ConnectedAt,
		})
	}
	sort.Slice(detail.Connections, func(i, j int) bool {
		return detail.Connections[i].ConnectedAt.Before(detail.Connections[j].ConnectedAt)
	})
	return detail, nil
}

// Summary is the aggregate presence snapshot.
type Summary struct {
	UsersOnline     int                    `json:"users_online"`
	Connections     int                    `json:"connections"`
	SubjectsTracked int                    `json:"subjects_tracked"`
	ByRole          map[string]int         `json:"by_role"`
	ByDevice        map[string]int         `json:"by_device"`
	Activity        presence.ActivityStats `json:"activity"`
}

// Summary aggregates the current presence state, with connection counts
// broken down by role and device class.
func (e *Engine) Summary() Summary {
	byRole := make(map[string]int)
	byDevice := make(map[string]int)
	total := 0
	e.registry.EachConnection(func(c *presence.Connection) {
		byRole[c.Role]++
		byDevice[string(c.Device)]++
		total++
	})
	return Summary{
		UsersOnline:     len(e.registry.OnlineUserIDs()),
		Connections:     total,
		SubjectsTracked: e.interest.SubjectCount(),
		ByRole:          byRole,
		ByDevice:        byDevice,
		Activity:        e.tracker.Stats(),
	}
}

// ActivityStats exposes the tracker's per-status counts.
func (e *Engine) ActivityStats() presence.ActivityStats {
	return e.tracker.Stats()
}

// Tracker exposes the activity tracker for windowed deliveries.
func (e *Engine) Tracker() *presence.ActivityTracker {
	return e.tracker
}
