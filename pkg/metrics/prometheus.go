package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent      *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	lastPrice         *prometheus.GaugeVec
	latency           *prometheus.HistogramVec
	connectionsTotal  prometheus.Gauge
	connectionsActive prometheus.Gauge
	dropped           prometheus.Counter
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_messages_sent_total",
				Help: "Total number of events handled per pipeline stage",
			},
			[]string{"stage", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		connectionsTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_stream_connections",
			Help: "Registered stream connections, including disconnected ones awaiting reap",
		}),
		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_stream_connections_active",
			Help: "Connected stream subscribers",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_stream_dropped_total",
			Help: "Events evicted from full subscriber queues",
		}),
	}
}

// RecordMessageSent records an event handled by a stage.
func (r *Recorder) RecordMessageSent(stage, symbol string) {
	r.messagesSent.WithLabelValues(stage, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordConnections(total, active int) {
	r.connectionsTotal.Set(float64(total))
	r.connectionsActive.Set(float64(active))
}

func (r *Recorder) RecordDropped(n int) {
	if n > 0 {
		r.dropped.Add(float64(n))
	}
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordMessageSent(string, string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordConnections(int, int) {}
func (Nop) RecordDropped(int) {}
