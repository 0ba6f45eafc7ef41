package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	applogger "Chronos/pkg/logger"
)

type httpCollectors struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	size     *prometheus.HistogramVec
}

var (
	collectorsOnce sync.Once
	collectors     *httpCollectors
)

func httpMetrics() *httpCollectors {
	collectorsOnce.Do(func() {
		collectors = &httpCollectors{
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "chronos_http_requests_total",
				Help: "HTTP requests by route template, method and status code",
			}, []string{"route", "method", "status"}),
			duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "chronos_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			}, []string{"route", "method", "class"}),
			inFlight: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "chronos_http_in_flight_requests",
				Help: "Requests currently being served",
			}, []string{"route"}),
			size: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "chronos_http_response_size_bytes",
				Help:    "Response body size",
				Buckets: prometheus.ExponentialBuckets(128, 4, 7),
			}, []string{"route", "class"}),
		}
	})
	return collectors
}

// streamRoute is exempt from the slow-request warning; it stays open.
const streamRoute = "/ws/status"

// Metrics records request metrics labelled by the route template, so path
// parameters never become label values. 5xx responses are logged as errors
// and slow ones as warnings.
func Metrics(l *applogger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	m := httpMetrics()
	if l == nil {
		l = applogger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			gauge := m.inFlight.WithLabelValues(route)
			gauge.Inc()
			defer gauge.Dec()

			start := time.Now()
			if err := next(c); err != nil {
				// render now so the recorded status is the one sent
				c.Error(err)
			}
			elapsed := time.Since(start)

			code := c.Response().Status
			class := strconv.Itoa(code/100) + "xx"
			m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
			m.duration.WithLabelValues(route, method, class).Observe(elapsed.Seconds())
			m.size.WithLabelValues(route, class).Observe(float64(c.Response().Size))

			switch {
			case code >= 500:
				l.Error("http request failed", reqFields(route, method, code, elapsed)...)
			case slowThreshold > 0 && elapsed >= slowThreshold && route != streamRoute:
				l.Warn("http request slow", reqFields(route, method, code, elapsed)...)
			}
			return nil
		}
	}
}

func reqFields(route, method string, code int, d time.Duration) []applogger.Field {
	return []applogger.Field{
		applogger.String("route", route),
		applogger.String("method", method),
		applogger.Int("status", code),
		applogger.Duration("duration", d),
	}
}
