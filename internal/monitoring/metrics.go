package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every instrument the server exposes on /metrics.
type Metrics struct {
	ConnectionsActive  prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	DisconnectsTotal   prometheus.Counter
	AdmissionRefusals  *prometheus.CounterVec
	MessagesDelivered  *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	UsersOnline        prometheus.Gauge
	SubjectsTracked    prometheus.Gauge
	IngestMessages     *prometheus.CounterVec
	DeliveryLatency    prometheus.Histogram
}

// NewMetrics registers all instruments on the given registerer. Pass
// prometheus.DefaultRegisterer in main; tests use a fresh registry to avoid
// duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presence_connections_active",
			Help: "Live transport connections across all users.",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_connections_total",
			Help: "Connections accepted since start.",
		}),
		DisconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_disconnects_total",
			Help: "Connections removed since start.",
		}),
		AdmissionRefusals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_admission_refusals_total",
			Help: "Connection attempts refused, by gate.",
		}, []string{"reason"}),
		MessagesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_messages_delivered_total",
			Help: "Frames enqueued for delivery, by route.",
		}, []string{"route"}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_messages_dropped_total",
			Help: "Frames dropped due to full send queues, by route.",
		}, []string{"route"}),
		UsersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presence_users_online",
			Help: "Users with at least one live connection.",
		}),
		SubjectsTracked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presence_subjects_tracked",
			Help: "Subjects with at least one interested user.",
		}),
		IngestMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_ingest_messages_total",
			Help: "Messages consumed from the bus, by outcome.",
		}, []string{"outcome"}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "presence_delivery_enqueue_seconds",
			Help:    "Time spent fanning a message out to send queues.",
			Buckets: prometheus.ExponentialBuckets(0.000010, 4, 10),
		}),
	}
}
