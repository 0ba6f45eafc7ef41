package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	events      *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	quality     *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
	score       *prometheus.GaugeVec
	component   *prometheus.GaugeVec
	confidence  *prometheus.GaugeVec
	vpinGate    *prometheus.GaugeVec
	intents     *prometheus.CounterVec
	advisories  *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	refits      *prometheus.CounterVec
	dailyPnL    *prometheus.GaugeVec
	dailyCVaR   *prometheus.GaugeVec
	losses      *prometheus.GaugeVec
	breaker     *prometheus.GaugeVec
}

// New creates a recorder on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers every collector on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronos_events_total",
				Help: "Events processed by kind",
			},
			[]string{"kind"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronos_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		quality: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronos_data_quality_rejections_total",
				Help: "Market events rejected by validation",
			},
			[]string{"reason"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronos_last_price",
				Help: "Last traded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronos_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
			},
			[]string{"operation"},
		),
		score: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronos_signal_score",
				Help: "Fused signal score in [-1,1]",
			},
			[]string{"symbol"},
		),
		component: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronos_signal_component",
				Help: "Normalized fusion component in [-1,1]",
			},
			[]string{"symbol", "component"},
		),
		confidence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronos_signal_confidence",
				Help: "Directional agreement among defined components",
			},
			[]string{"symbol"},
		),
		vpinGate: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronos_vpin_gate_active",
				Help: "1 while toxicity blocks entries",
			},
			[]string{"symbol"},
		),
		intents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronos_order_intents_total",
				Help: "Order intents emitted",
			},
			[]string{"reason", "side"},
		),
		advisories: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronos_advisories_total",
				Help: "Advisories raised by the decision loop",
			},
			[]string{"reason"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronos_order_rejections_total",
				Help: "Order submission failures by attempt number",
			},
			[]string{"attempt"},
		),
		refits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronos_model_refits_total",
				Help: "Model refits by outcome",
			},
			[]string{"model", "result"},
		),
		dailyPnL: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronos_daily_pnl",
				Help: "Realized PnL since the last day boundary",
			},
			[]string{"symbol"},
		),
		dailyCVaR: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronos_daily_cvar",
				Help: "Realized daily loss as a fraction of equity",
			},
			[]string{"symbol"},
		),
		losses: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronos_consecutive_losses",
				Help: "Current losing streak",
			},
			[]string{"symbol"},
		),
		breaker: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronos_breaker_tripped",
				Help: "1 while new entries are blocked",
			},
			[]string{"symbol"},
		),
	}
}

func (r *Recorder) RecordEvent(kind string) {
	r.events.WithLabelValues(kind).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordDataQuality(reason string) {
	r.quality.WithLabelValues(reason).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordSignals(symbol string, v models.SignalVector) {
	r.score.WithLabelValues(symbol).Set(v.Score)
	r.confidence.WithLabelValues(symbol).Set(v.Confidence)
	r.vpinGate.WithLabelValues(symbol).Set(boolGauge(v.VPINGate))

	c := v.Components
	for name, val := range map[string]float64{
		"obi":        c.OBI,
		"vpin":       c.VPIN,
		"momentum":   c.Momentum,
		"regime":     c.Regime,
		"sentiment":  c.Sentiment,
		"funding":    c.Funding,
		"volatility": c.Volatility,
	} {
		r.component.WithLabelValues(symbol, name).Set(val)
	}
}

func (r *Recorder) RecordIntent(reason, side string) {
	r.intents.WithLabelValues(reason, side).Inc()
}

func (r *Recorder) RecordAdvisory(reason string) {
	r.advisories.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordRejection(attempt int) {
	r.rejections.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

func (r *Recorder) RecordRefit(model string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.refits.WithLabelValues(model, result).Inc()
}

func (r *Recorder) RecordRisk(symbol string, s models.RiskState) {
	r.dailyPnL.WithLabelValues(symbol).Set(s.DailyPnL)
	r.dailyCVaR.WithLabelValues(symbol).Set(s.DailyCVaR)
	r.losses.WithLabelValues(symbol).Set(float64(s.ConsecutiveLosses))
	r.breaker.WithLabelValues(symbol).Set(boolGauge(s.Breaker == models.BreakerTripped))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ domrepo.Metrics = (*Recorder)(nil)
