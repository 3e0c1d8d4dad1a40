// Package metrics exposes the pipeline counters on a private Prometheus
// registry. Every method is safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "relay"

// Metrics holds the collectors of the routing pipeline.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	routed        *prometheus.CounterVec
	conversations prometheus.Counter
	previews      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	published     *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Metrics{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_routed_total",
			Help:      "Records appended to conversations, by record kind.",
		}, []string{"kind"}),
		conversations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_created_total",
			Help:      "Direct conversations created on first contact.",
		}),
		previews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "previews_total",
			Help:      "Finished link preview jobs, by outcome and discard reason.",
		}, []string{"outcome", "reason"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Push notification decisions and deliveries, by result.",
		}, []string{"result"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Events offered to attached sessions, by event type and delivery.",
		}, []string{"type", "delivery"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.routed,
		m.conversations,
		m.previews,
		m.notifications,
		m.published,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// GaugeFunc registers a gauge sampled from fn at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	if m == nil || fn == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) RecordRouted(kind string) {
	if m == nil {
		return
	}
	m.routed.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConversationCreated() {
	if m == nil {
		return
	}
	m.conversations.Inc()
}

func (m *Metrics) RecordPreview(outcome, reason string) {
	if m == nil {
		return
	}
	m.previews.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordPublished(eventType string, delivered bool) {
	if m == nil {
		return
	}
	delivery := "delivered"
	if !delivered {
		delivery = "dropped"
	}
	m.published.WithLabelValues(eventType, delivery).Inc()
}
