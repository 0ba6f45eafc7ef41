package microstructure

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Chronos/internal/domain/models"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Symbol:           "BTC_KRW",
		DepthLevels:      5,
		OFIWindow:        4,
		VPINBucketVolume: 10,
		VPINBuckets:      3,
		AmihudInterval:   time.Minute,
		AmihudWindow:     5,
		AmihudScale:      1e-6,
	}
}

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(testConfig())
	require.NoError(t, err)
	return a
}

func book(seq uint64, bids, asks []models.Level) models.BookSnapshot {
	return models.BookSnapshot{
		Symbol:    "BTC_KRW",
		Seq:       seq,
		Timestamp: t0.Add(time.Duration(seq) * time.Second),
		Bids:      bids,
		Asks:      asks,
	}
}

func trade(seq uint64, price, qty float64, side models.Side) models.TradePrint {
	return models.TradePrint{
		Symbol:    "BTC_KRW",
		Seq:       seq,
		Timestamp: t0.Add(time.Duration(seq) * time.Second),
		Price:     price,
		Quantity:  qty,
		Aggressor: side,
	}
}

func lv(p, q float64) models.Level { return models.Level{Price: p, Quantity: q} }

func TestOBITopFiveExample(t *testing.T) {
	a := newTestAnalyzer(t)
	b := book(1,
		[]models.Level{lv(100, 30), lv(99, 30), lv(98, 20), lv(97, 20), lv(96, 20), lv(95, 500)},
		[]models.Level{lv(101, 20), lv(102, 20), lv(103, 20), lv(104, 10), lv(105, 10), lv(106, 500)},
	)
	require.NoError(t, a.OnBookSnapshot(b))
	assert.InDelta(t, 0.20, a.Current().OBI, 1e-12)
}

func TestOBIEqualDepthIsZero(t *testing.T) {
	a := newTestAnalyzer(t)
	require.NoError(t, a.OnBookSnapshot(book(1, []models.Level{lv(100, 7)}, []models.Level{lv(101, 7)})))
	assert.Equal(t, 0.0, a.Current().OBI)

	require.NoError(t, a.OnBookSnapshot(book(2, []models.Level{lv(100, 0)}, []models.Level{lv(101, 0)})))
	assert.Equal(t, 0.0, a.Current().OBI)
}

func TestOBIStaysBounded(t *testing.T) {
	a := newTestAnalyzer(t)
	rng := rand.New(rand.NewSource(7))
	for i := 1; i <= 500; i++ {
		var bids, asks []models.Level
		for d := 0; d < 1+rng.Intn(8); d++ {
			bids = append(bids, lv(100-float64(d), rng.Float64()*50))
		}
		for d := 0; d < 1+rng.Intn(8); d++ {
			asks = append(asks, lv(101+float64(d), rng.Float64()*50))
		}
		require.NoError(t, a.OnBookSnapshot(book(uint64(i), bids, asks)))
		got := a.Current()
		assert.GreaterOrEqual(t, got.OBI, -1.0)
		assert.LessOrEqual(t, got.OBI, 1.0)
		assert.GreaterOrEqual(t, got.OFINormalized, -1.0)
		assert.LessOrEqual(t, got.OFINormalized, 1.0)
	}
}

func TestMalformedBookIsRejectedAndStateKept(t *testing.T) {
	cases := map[string]struct {
		snap   models.BookSnapshot
		reason string
	}{
		"crossed":        {book(2, []models.Level{lv(102, 1)}, []models.Level{lv(101, 1)}), models.QualityCrossedBook},
		"bids rising":    {book(2, []models.Level{lv(100, 1), lv(100.5, 1)}, []models.Level{lv(101, 1)}), models.QualityNonMonotonic},
		"asks falling":   {book(2, []models.Level{lv(100, 1)}, []models.Level{lv(102, 1), lv(101, 1)}), models.QualityNonMonotonic},
		"negative qty":   {book(2, []models.Level{lv(100, -1)}, []models.Level{lv(101, 1)}), models.QualityInvalidLevel},
		"zero price":     {book(2, []models.Level{lv(0, 1)}, []models.Level{lv(101, 1)}), models.QualityInvalidLevel},
		"wrong symbol":   {func() models.BookSnapshot { b := book(2, nil, nil); b.Symbol = "ETH_KRW"; return b }(), models.QualitySymbolMismatch},
		"stale sequence": {book(1, []models.Level{lv(100, 9)}, []models.Level{lv(101, 1)}), models.QualityDuplicate},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			a := newTestAnalyzer(t)
			require.NoError(t, a.OnBookSnapshot(book(1, []models.Level{lv(100, 3)}, []models.Level{lv(101, 1)})))
			before := a.Current()

			err := a.OnBookSnapshot(tc.snap)
			var w *models.DataQualityWarning
			require.True(t, errors.As(err, &w), "expected DataQualityWarning, got %v", err)
			assert.Equal(t, tc.reason, w.Reason)
			assert.Equal(t, before, a.Current())
		})
	}
}

func TestReplayedEventsDoNotChangeState(t *testing.T) {
	a := newTestAnalyzer(t)
	b1 := book(1, []models.Level{lv(100, 5)}, []models.Level{lv(101, 2)})
	b2 := book(2, []models.Level{lv(100.5, 4)}, []models.Level{lv(101, 3)})
	tr := trade(3, 100.7, 4, models.SideBuy)

	require.NoError(t, a.OnBookSnapshot(b1))
	require.NoError(t, a.OnBookSnapshot(b2))
	require.NoError(t, a.OnTradePrint(tr))
	before := a.Current()

	assert.Error(t, a.OnBookSnapshot(b2))
	assert.Error(t, a.OnBookSnapshot(b1))
	assert.Error(t, a.OnTradePrint(tr))
	assert.Equal(t, before, a.Current())
}

func TestTradesWithoutSequenceSharingTimestamp(t *testing.T) {
	a := newTestAnalyzer(t)
	p := trade(0, 100, 1, models.SideBuy)
	p.Timestamp = t0
	q := p
	q.Quantity = 2

	require.NoError(t, a.OnTradePrint(p))
	require.NoError(t, a.OnTradePrint(q))
	err := a.OnTradePrint(q)
	var w *models.DataQualityWarning
	require.ErrorAs(t, err, &w)
	assert.Equal(t, models.QualityDuplicate, w.Reason)

	old := p
	old.Timestamp = t0.Add(-time.Second)
	require.ErrorAs(t, a.OnTradePrint(old), &w)
	assert.Equal(t, models.QualityOutOfOrder, w.Reason)
}

func TestVPINInsufficientUntilKBuckets(t *testing.T) {
	a := newTestAnalyzer(t)
	seq := uint64(0)
	next := func() uint64 { seq++; return seq }

	// two complete buckets of 10
	require.NoError(t, a.OnTradePrint(trade(next(), 100, 10, models.SideBuy)))
	require.NoError(t, a.OnTradePrint(trade(next(), 100, 5, models.SideBuy)))
	require.NoError(t, a.OnTradePrint(trade(next(), 100, 5, models.SideSell)))
	assert.False(t, a.Current().VPINReady)
	assert.Equal(t, 0.0, a.Current().VPIN)

	// third bucket: 8 buy / 2 sell
	require.NoError(t, a.OnTradePrint(trade(next(), 100, 8, models.SideBuy)))
	require.NoError(t, a.OnTradePrint(trade(next(), 100, 2, models.SideSell)))
	got := a.Current()
	require.True(t, got.VPINReady)
	assert.InDelta(t, (1.0+0.0+0.6)/3, got.VPIN, 1e-12)
}

func TestVPINSplitsLargePrintAcrossBuckets(t *testing.T) {
	a := newTestAnalyzer(t)
	require.NoError(t, a.OnTradePrint(trade(1, 100, 25, models.SideSell)))
	require.NoError(t, a.OnTradePrint(trade(2, 100, 5, models.SideBuy)))
	got := a.Current()
	require.True(t, got.VPINReady)
	// buckets: 10 sell, 10 sell, 5 sell + 5 buy
	assert.InDelta(t, (1.0+1.0+0.0)/3, got.VPIN, 1e-12)
}

func TestVPINStaysBounded(t *testing.T) {
	a := newTestAnalyzer(t)
	rng := rand.New(rand.NewSource(11))
	for i := 1; i <= 2000; i++ {
		side := models.SideBuy
		if rng.Intn(3) == 0 {
			side = models.SideSell
		}
		require.NoError(t, a.OnTradePrint(trade(uint64(i), 100, 0.1+rng.Float64()*12, side)))
		if got := a.Current(); got.VPINReady {
			assert.GreaterOrEqual(t, got.VPIN, 0.0)
			assert.LessOrEqual(t, got.VPIN, 1.0)
		}
	}
}

func TestOFIFollowsBestLevelChanges(t *testing.T) {
	a := newTestAnalyzer(t)
	require.NoError(t, a.OnBookSnapshot(book(1, []models.Level{lv(100, 5)}, []models.Level{lv(101, 5)})))
	// bid improves to 100.5 with 4: +4 on the bid; ask unchanged 5 -> 5: 0
	require.NoError(t, a.OnBookSnapshot(book(2, []models.Level{lv(100.5, 4)}, []models.Level{lv(101, 5)})))
	assert.InDelta(t, 4.0, a.Current().OFI, 1e-12)

	// ask drops to 100.8 with 6: ask side adds 6, contribution -6
	require.NoError(t, a.OnBookSnapshot(book(3, []models.Level{lv(100.5, 4)}, []models.Level{lv(100.8, 6)})))
	assert.InDelta(t, -2.0, a.Current().OFI, 1e-12)

	// no trades yet: normalization has no scale
	assert.Equal(t, 0.0, a.Current().OFINormalized)

	require.NoError(t, a.OnTradePrint(trade(4, 100.6, 4, models.SideSell)))
	assert.InDelta(t, -0.5, a.Current().OFINormalized, 1e-12)
}

func TestAmihudAcrossIntervals(t *testing.T) {
	a := newTestAnalyzer(t)
	p := func(sec int, price, qty float64) models.TradePrint {
		tr := trade(uint64(sec), price, qty, models.SideBuy)
		tr.Timestamp = t0.Add(time.Duration(sec) * time.Second)
		return tr
	}
	require.NoError(t, a.OnTradePrint(p(1, 100, 1)))
	require.NoError(t, a.OnTradePrint(p(30, 101, 1)))
	assert.False(t, a.Current().AmihudReady)

	require.NoError(t, a.OnTradePrint(p(61, 101, 1)))
	got := a.Current()
	require.True(t, got.AmihudReady)
	assert.Greater(t, got.Amihud, 0.0)
	assert.Greater(t, got.AmihudNormalized, 0.0)
	assert.Less(t, got.AmihudNormalized, 1.0)
}

func TestNewAnalyzerRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.VPINBucketVolume = 0
	_, err := NewAnalyzer(cfg)
	assert.Error(t, err)
}
