package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ordering engine.
type Metrics struct {
	InboundMessages   *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	OutboundMessages  *prometheus.CounterVec
	PaymentEvents     *prometheus.CounterVec
	CheckoutsTotal    *prometheus.CounterVec
	TenantCacheHits   prometheus.Counter
	TenantCacheMisses prometheus.Counter
	GeocodeRequests   *prometheus.CounterVec
	QueueLanes        prometheus.Gauge
	QueueRejected     prometheus.Counter
	OutboxPublished   *prometheus.CounterVec
	SMSSent           *prometheus.CounterVec
}

// New registers the metrics on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		InboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wa_commerce",
			Subsystem: "conversation",
			Name:      "inbound_messages_total",
			Help:      "Inbound customer messages by event kind.",
		}, []string{"kind"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wa_commerce",
			Subsystem: "conversation",
			Name:      "transitions_total",
			Help:      "Conversation state transitions.",
		}, []string{"from", "to"}),
		OutboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wa_commerce",
			Subsystem: "whatsapp",
			Name:      "outbound_messages_total",
			Help:      "Outbound messages by type and outcome.",
		}, []string{"type", "outcome"}),
		PaymentEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wa_commerce",
			Subsystem: "payment",
			Name:      "webhook_events_total",
			Help:      "Payment webhook events by event type and outcome.",
		}, []string{"event", "outcome"}), // outcome: applied, duplicate, unknown_order, ignored, error
		CheckoutsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wa_commerce",
			Subsystem: "payment",
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		TenantCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "wa_commerce",
			Subsystem: "tenant",
			Name:      "cache_hits_total",
			Help:      "Total number of tenant config cache hits.",
		}),
		TenantCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "wa_commerce",
			Subsystem: "tenant",
			Name:      "cache_misses_total",
			Help:      "Total number of tenant config cache misses.",
		}),
		GeocodeRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wa_commerce",
			Subsystem: "geocoding",
			Name:      "requests_total",
			Help:      "Reverse geocoding lookups by outcome.",
		}, []string{"outcome"}), // outcome: cache_hit, ok, empty, error
		QueueLanes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "wa_commerce",
			Subsystem: "worker",
			Name:      "active_lanes",
			Help:      "Conversation lanes currently holding a worker goroutine.",
		}),
		QueueRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "wa_commerce",
			Subsystem: "worker",
			Name:      "rejected_jobs_total",
			Help:      "Jobs rejected because their conversation lane was full.",
		}),
		OutboxPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wa_commerce",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events published to Kafka by outcome.",
		}, []string{"outcome"}),
		SMSSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wa_commerce",
			Subsystem: "notifier",
			Name:      "sms_total",
			Help:      "SMS notifications by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
}

// NewNop returns metrics bound to a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
