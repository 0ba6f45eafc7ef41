package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"Chronos/internal/domain/models"
)

func TestRecorderCounters(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordError("kafka_publish")
	r.RecordError("kafka_publish")
	r.RecordRejection(2)
	r.RecordRefit("garch", false)
	r.RecordIntent("signal_entry", "buy")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("kafka_publish")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rejections.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.refits.WithLabelValues("garch", "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.refits.WithLabelValues("garch", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.intents.WithLabelValues("signal_entry", "buy")))
}

func TestRecorderGauges(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordSignals("BTC_KRW", models.SignalVector{
		Score:      0.42,
		VPINGate:   true,
		Components: models.Components{OBI: 0.8, Funding: -0.5},
	})
	r.RecordRisk("BTC_KRW", models.RiskState{ConsecutiveLosses: 3, Breaker: models.BreakerTripped, DailyCVaR: -0.01})

	assert.Equal(t, 0.42, testutil.ToFloat64(r.score.WithLabelValues("BTC_KRW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.vpinGate.WithLabelValues("BTC_KRW")))
	assert.Equal(t, 0.8, testutil.ToFloat64(r.component.WithLabelValues("BTC_KRW", "obi")))
	assert.Equal(t, -0.5, testutil.ToFloat64(r.component.WithLabelValues("BTC_KRW", "funding")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.losses.WithLabelValues("BTC_KRW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.breaker.WithLabelValues("BTC_KRW")))
	assert.Equal(t, -0.01, testutil.ToFloat64(r.dailyCVaR.WithLabelValues("BTC_KRW")))
}
