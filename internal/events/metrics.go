package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the event hub.
type Metrics struct {
	published   *prometheus.CounterVec
	dropped     prometheus.Counter
	subscribers prometheus.Gauge
}

// NewMetrics creates and registers hub metrics with the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_events_published_total",
			Help: "Total number of job events delivered to subscribers, by event name",
		}, []string{"name"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weft_events_dropped_total",
			Help: "Total number of events dropped because a subscriber fell behind",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weft_events_subscribers",
			Help: "Current number of live event subscribers",
		}),
	}
	registry.MustRegister(m.published, m.dropped, m.subscribers)
	return m
}

// EventPublished increments the delivered counter for the event name.
func (m *Metrics) EventPublished(name string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(name).Inc()
}

// EventDropped increments the dropped counter.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// SubscriberAdded increments the subscriber gauge.
func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

// SubscriberRemoved decrements the subscriber gauge.
func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}
