// Package metrics exposes queue and HTTP metrics in the Prometheus format.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ddrc"

// QueueSource reports the current queues for the depth gauge.
type QueueSource func() map[string][]models.Token

type Metrics struct {
	registry     *prometheus.Registry
	queues       QueueSource
	tokensIssued prometheus.Counter
	events       *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
	transfers    *prometheus.CounterVec
	completions  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New(queues QueueSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queues:   queues,
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued at registration.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_events_total",
			Help:      "Committed queue events by type.",
		}, []string{"type"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tokens waiting per department.",
		}, []string{"department"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_transfers_total",
			Help:      "Token transfers between departments.",
		}, []string{"from", "to"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_completions_total",
			Help:      "Tokens completed per department.",
		}, []string{"department"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tokensIssued,
		m.events,
		m.queueDepth,
		m.transfers,
		m.completions,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// WatchClients exports the number of connected display screens. Call it once.
func (m *Metrics) WatchClients(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "display_clients",
		Help:      "Display screens connected to the realtime feed.",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Name() string { return "metrics" }

func (m *Metrics) Send(_ context.Context, event store.Event) error {
	m.events.WithLabelValues(event.Type).Inc()
	switch event.Type {
	case store.EventTokenCreated:
		m.tokensIssued.Inc()
	case store.EventTokenTransferred:
		var payload store.TokenPayload
		if err := json.Unmarshal(event.Payload, &payload); err == nil {
			m.transfers.WithLabelValues(payload.FromDeptID, payload.ToDeptID).Inc()
		}
	case store.EventTokenCompleted:
		m.completions.WithLabelValues(event.DepartmentID).Inc()
	}
	m.refreshDepth()
	return nil
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) refreshDepth() {
	if m.queues == nil {
		return
	}
	// nil until the engine is up
	for dept, queue := range m.queues() {
		m.queueDepth.WithLabelValues(dept).Set(float64(len(queue)))
	}
}
