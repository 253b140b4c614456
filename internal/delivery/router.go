// Package delivery routes notification envelopes onto connection send
// queues. Every route is fire-and-forget: a slow reader's full queue drops
// the frame for that connection only and never stalls the sender.
package delivery

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/esraakhalifa/bookstore-presence/internal/monitoring"
	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

// Envelope is the uniform frame shape pushed to clients. Data is carried
// verbatim so producers control their own payload schema.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope stamps an envelope with the current time.
func NewEnvelope(event string, data json.RawMessage) Envelope {
	return Envelope{Event: event, Data: data, Timestamp: time.Now().UTC()}
}

// Encode renders the envelope to its wire form.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Result reports how a fan-out went: how many send queues accepted the frame
// and how many dropped it.
type Result struct {
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
}

// Router fans envelopes out over the registry and interest index.
type Router struct {
	registry *presence.Registry
	interest *presence.InterestIndex
	metrics  *monitoring.Metrics
	log      zerolog.Logger
}

func NewRouter(registry *presence.Registry, interest *presence.InterestIndex, metrics *monitoring.Metrics, log zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		interest: interest,
		metrics:  metrics,
		log:      log.With().Str("component", "delivery").Logger(),
	}
}

// SendToUser delivers to every connection the user holds. An offline user is
// not an error; the result simply reports zero deliveries.
func (r *Router) SendToUser(userID string, env Envelope) Result {
	frame, err := env.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("event", env.Event).Msg("envelope encode failed")
		return Result{}
	}
	res := r.fanOut(r.registry.Connections(userID), frame, "user")
	if res.Dropped > 0 {
		r.log.Warn().Str("user_id", userID).Int("dropped", res.Dropped).Msg("send queues full")
	}
	return res
}

// SendToRole delivers to every connection whose session carries the role.
func (r *Router) SendToRole(role string, env Envelope) Result {
	frame, err := env.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("event", env.Event).Msg("envelope encode failed")
		return Result{}
	}
	var conns []*presence.Connection
	r.registry.EachConnection(func(c *presence.Connection) {
		if c.Role == role {
			conns = append(conns, c)
		}
	})
	return r.fanOut(conns, frame, "role")
}

// BroadcastAll delivers to every live connection.
func (r *Router) BroadcastAll(env Envelope) Result {
	frame, err := env.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("event", env.Event).Msg("envelope encode failed")
		return Result{}
	}
	var conns []*presence.Connection
	r.registry.EachConnection(func(c *presence.Connection) { conns = append(conns, c) })
	return r.fanOut(conns, frame, "broadcast")
}

// BroadcastToSubject delivers to every user currently interested in the
// subject, across all their connections.
func (r *Router) BroadcastToSubject(subject string, env Envelope) Result {
	frame, err := env.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("event", env.Event).Msg("envelope encode failed")
		return Result{}
	}
	var conns []*presence.Connection
	for _, userID := range r.interest.Subscribers(subject) {
		conns = append(conns, r.registry.Connections(userID)...)
	}
	return r.fanOut(conns, frame, "subject")
}

// SendToAdmins delivers to the administrative group.
func (r *Router) SendToAdmins(env Envelope) Result {
	frame, err := env.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("event", env.Event).Msg("envelope encode failed")
		return Result{}
	}
	return r.fanOut(r.registry.AdminConnections(), frame, "admin")
}

// SendToActiveUsers delivers to users whose last recorded activity falls
// within the window. Users with connections but no recent activity are
// skipped.
func (r *Router) SendToActiveUsers(tracker *presence.ActivityTracker, window time.Duration, env Envelope) Result {
	frame, err := env.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("event", env.Event).Msg("envelope encode failed")
		return Result{}
	}
	var conns []*presence.Connection
	for _, userID := range tracker.ActiveSince(window, time.Now()) {
		conns = append(conns, r.registry.Connections(userID)...)
	}
	return r.fanOut(conns, frame, "active")
}

// SystemStatus pushes a system-status frame to every live connection. Used
// for operator announcements about the platform itself.
func (r *Router) SystemStatus(data json.RawMessage) Result {
	return r.BroadcastAll(NewEnvelope("system-status", data))
}

func (r *Router) fanOut(conns []*presence.Connection, frame []byte, route string) Result {
	start := time.Now()
	var res Result
	for _, c := range conns {
		if c.Enqueue(frame) {
			res.Delivered++
		} else {
			res.Dropped++
		}
	}
	if r.metrics != nil {
		r.metrics.MessagesDelivered.WithLabelValues(route).Add(float64(res.Delivered))
		if res.Dropped > 0 {
			r.metrics.MessagesDropped.WithLabelValues(route).Add(float64(res.Dropped))
		}
		r.metrics.DeliveryLatency.Observe(time.Since(start).Seconds())
	}
	return res
}
