// Package ingest bridges the bookstore's notification bus onto the delivery
// router. The backend publishes to bookstore.notify.* subjects; this side
// subscribes with a wildcard and fans each message out to the matching
// route.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/esraakhalifa/bookstore-presence/internal/delivery"
	"github.com/esraakhalifa/bookstore-presence/internal/monitoring"
	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

const (
	// subjectPrefix is the bus namespace the backend publishes into.
	subjectPrefix = "bookstore.notify."
	wildcard      = subjectPrefix + ">"

	// defaultActiveWindow matches the backend's notion of "recently
	// active" when no window is given.
	defaultActiveWindow = 15 * time.Minute
)

type routeKind int

const (
	routeUser routeKind = iota
	routeRole
	routeSubject
	routeAdmins
	routeAll
	routeActive
)

type route struct {
	kind   routeKind
	target string
}

// parseSubject resolves a bus subject to a delivery route.
//
//	bookstore.notify.user.<id>    -> one user
//	bookstore.notify.role.<role>  -> all sessions with the role
//	bookstore.notify.subject.<id> -> users tracking the subject
//	bookstore.notify.admins       -> administrative group
//	bookstore.notify.all          -> every connection
//	bookstore.notify.active       -> recently active users
func parseSubject(subject string) (route, error) {
	rest, ok := strings.CutPrefix(subject, subjectPrefix)
	if !ok || rest == "" {
		return route{}, fmt.Errorf("subject %q outside namespace", subject)
	}
	switch rest {
	case "admins":
		return route{kind: routeAdmins}, nil
	case "all":
		return route{kind: routeAll}, nil
	case "active":
		return route{kind: routeActive}, nil
	}
	kind, target, ok := strings.Cut(rest, ".")
	if !ok || target == "" {
		return route{}, fmt.Errorf("subject %q missing target", subject)
	}
	switch kind {
	case "user":
		return route{kind: routeUser, target: target}, nil
	case "role":
		return route{kind: routeRole, target: target}, nil
	case "subject":
		return route{kind: routeSubject, target: target}, nil
	}
	return route{}, fmt.Errorf("subject %q has unknown route %q", subject, kind)
}

// message is the payload shape the backend publishes. Unknown payloads are
// wrapped verbatim as notification data rather than discarded.
type message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	// WindowMinutes narrows the audience on the active route.
	WindowMinutes int `json:"window_minutes,omitempty"`
}

func parsePayload(payload []byte) message {
	var msg message
	if err := json.Unmarshal(payload, &msg); err == nil && msg.Event != "" {
		return msg
	}
	if json.Valid(payload) {
		return message{Event: "notification", Data: json.RawMessage(payload)}
	}
	// Non-JSON payloads are carried as a JSON string so the envelope still
	// encodes.
	quoted, _ := json.Marshal(string(payload))
	return message{Event: "notification", Data: quoted}
}

// Bridge consumes the notification bus and dispatches onto the router.
type Bridge struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	router  *delivery.Router
	tracker *presence.ActivityTracker
	metrics *monitoring.Metrics
	log     zerolog.Logger
}

// Connect dials the bus and starts consuming. The connection retries
// forever; delivery is lossy by design, so there is no redelivery of
// messages published while this side was away.
func Connect(url string, router *delivery.Router, tracker *presence.ActivityTracker, metrics *monitoring.Metrics, log zerolog.Logger) (*Bridge, error) {
	blog := log.With().Str("component", "ingest").Logger()
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			blog.Warn().Err(err).Msg("bus disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			blog.Info().Str("url", nc.ConnectedUrl()).Msg("bus reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to bus: %w", err)
	}

	b := &Bridge{conn: conn, router: router, tracker: tracker, metrics: metrics, log: blog}
	sub, err := conn.Subscribe(wildcard, b.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", wildcard, err)
	}
	b.sub = sub
	blog.Info().Str("url", url).Str("subject", wildcard).Msg("ingest bridge connected")
	return b, nil
}

func (b *Bridge) handle(m *nats.Msg) {
	rt, err := parseSubject(m.Subject)
	if err != nil {
		b.count("bad_subject")
		b.log.Warn().Err(err).Msg("dropping bus message")
		return
	}
	msg := parsePayload(m.Data)
	env := delivery.NewEnvelope(msg.Event, msg.Data)

	var res delivery.Result
	switch rt.kind {
	case routeUser:
		res = b.router.SendToUser(rt.target, env)
	case routeRole:
		res = b.router.SendToRole(rt.target, env)
	case routeSubject:
		res = b.router.BroadcastToSubject(rt.target, env)
	case routeAdmins:
		res = b.router.SendToAdmins(env)
	case routeAll:
		res = b.router.BroadcastAll(env)
	case routeActive:
		window := defaultActiveWindow
		if msg.WindowMinutes > 0 {
			window = time.Duration(msg.WindowMinutes) * time.Minute
		}
		res = b.router.SendToActiveUsers(b.tracker, window, env)
	}
	b.count("routed")
	b.log.Debug().
		Str("subject", m.Subject).
		Str("event", msg.Event).
		Int("delivered", res.Delivered).
		Int("dropped", res.Dropped).
		Msg("bus message routed")
}

func (b *Bridge) count(outcome string) {
	if b.metrics != nil {
		b.metrics.IngestMessages.WithLabelValues(outcome).Inc()
	}
}

// Close drains the subscription and closes the bus connection.
func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Drain()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
