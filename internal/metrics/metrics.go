package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	registry *prometheus.Registry

	// Exchange metrics
	ExchangesTotal   *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
	ExchangeRounds   *prometheus.HistogramVec

	// Tool metrics
	ToolDispatchesTotal *prometheus.CounterVec
	ToolDispatchTime    *prometheus.HistogramVec

	// Provider metrics
	ProviderRequestsTotal *prometheus.CounterVec
	ProviderRetriesTotal  *prometheus.CounterVec
	ProviderKeyRotations  prometheus.Counter

	// Transport metrics
	MessagesSentTotal     prometheus.Counter
	MessagesReceivedTotal prometheus.Counter
	TransportErrorsTotal  prometheus.Counter
}

// NewMetrics creates all metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ExchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoya_exchanges_total",
				Help: "Total number of exchanges by terminal state",
			},
			[]string{"mode", "state"},
		),
		ExchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zoya_exchange_duration_seconds",
				Help:    "Duration of exchanges in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		ExchangeRounds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zoya_exchange_rounds",
				Help:    "Model rounds consumed per exchange",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 15},
			},
			[]string{"mode"},
		),

		ToolDispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoya_tool_dispatches_total",
				Help: "Total number of tool dispatches by result status",
			},
			[]string{"tool", "status"},
		),
		ToolDispatchTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zoya_tool_dispatch_duration_seconds",
				Help:    "Duration of tool dispatches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),

		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoya_provider_requests_total",
				Help: "Total number of model provider requests by outcome",
			},
			[]string{"model", "outcome"},
		),
		ProviderRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoya_provider_retries_total",
				Help: "Total number of provider retries by cause",
			},
			[]string{"cause"},
		),
		ProviderKeyRotations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zoya_provider_key_rotations_total",
				Help: "Total number of API key rotations",
			},
		),

		MessagesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zoya_messages_sent_total",
				Help: "Total number of outbound transport messages",
			},
		),
		MessagesReceivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zoya_messages_received_total",
				Help: "Total number of inbound transport messages",
			},
		),
		TransportErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zoya_transport_errors_total",
				Help: "Total number of transport errors",
			},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ExchangesTotal)
	m.registry.MustRegister(m.ExchangeDuration)
	m.registry.MustRegister(m.ExchangeRounds)

	m.registry.MustRegister(m.ToolDispatchesTotal)
	m.registry.MustRegister(m.ToolDispatchTime)

	m.registry.MustRegister(m.ProviderRequestsTotal)
	m.registry.MustRegister(m.ProviderRetriesTotal)
	m.registry.MustRegister(m.ProviderKeyRotations)

	m.registry.MustRegister(m.MessagesSentTotal)
	m.registry.MustRegister(m.MessagesReceivedTotal)
	m.registry.MustRegister(m.TransportErrorsTotal)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
