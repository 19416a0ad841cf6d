package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketpulse",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of source endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketpulse",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by source endpoint",
		},
		[]string{"endpoint"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors)
	})
}

// Observe records one call to endpoint that started at start.
func Observe(endpoint string, start time.Time, err error) {
	APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		APIErrors.WithLabelValues(endpoint).Inc()
	}
}
