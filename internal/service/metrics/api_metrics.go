package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chronos",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of control and status endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronos",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by endpoint",
		},
		[]string{"endpoint"},
	)

	APIRateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronos",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Webhook calls rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)

	StatusStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chronos",
			Subsystem: "api",
			Name:      "status_streams",
			Help:      "Open status websocket connections",
		},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors, APIRateLimited, StatusStreams)
	})
}
