package microstructure

import (
	"fmt"
	"math"
	"sync"
	"time"

	"Chronos/internal/domain/models"
	"Chronos/internal/domain/service"
)

type Config struct {
	Symbol           string
	DepthLevels      int
	OFIWindow        int
	VPINBucketVolume float64
	VPINBuckets      int
	AmihudInterval   time.Duration
	AmihudWindow     int
	AmihudScale      float64
}

func (c Config) validate() error {
	switch {
	case c.DepthLevels <= 0:
		return fmt.Errorf("depth levels must be positive")
	case c.OFIWindow <= 0:
		return fmt.Errorf("ofi window must be positive")
	case c.VPINBucketVolume <= 0:
		return fmt.Errorf("vpin bucket volume must be positive")
	case c.VPINBuckets <= 0:
		return fmt.Errorf("vpin bucket count must be positive")
	case c.AmihudInterval <= 0 || c.AmihudWindow <= 0:
		return fmt.Errorf("amihud interval and window must be positive")
	case c.AmihudScale <= 0:
		return fmt.Errorf("amihud scale must be positive")
	}
	return nil
}

// Analyzer owns the microstructure state for one instrument. Writes come from
// a single event goroutine; Current may be called from anywhere.
type Analyzer struct {
	cfg Config
	mu  sync.RWMutex

	prevBid, prevAsk models.Level
	havePrev         bool
	lastBookSeq      uint64
	lastBookAt       time.Time
	bookSeen         bool

	lastTrade models.TradePrint
	tradeSeen bool

	obi        float64
	ofi        *rolling
	ofiVolume  *rolling
	pendingVol float64

	vpin   *vpinBuckets
	amihud *amihudIntervals

	updatedAt time.Time
}

var _ service.MicrostructureAnalyzer = (*Analyzer)(nil)

func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("microstructure: %w", err)
	}
	return &Analyzer{
		cfg:       cfg,
		ofi:       newRolling(cfg.OFIWindow),
		ofiVolume: newRolling(cfg.OFIWindow),
		vpin:      newVPINBuckets(cfg.VPINBucketVolume, cfg.VPINBuckets),
		amihud:    newAmihudIntervals(cfg.AmihudInterval, cfg.AmihudWindow, cfg.AmihudScale),
	}, nil
}

// OnBookSnapshot applies a snapshot, or returns a *DataQualityWarning and
// leaves the state exactly as it was.
func (a *Analyzer) OnBookSnapshot(b models.BookSnapshot) error {
	if err := a.checkBook(b); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bookSeen {
		if reason := staleness(b.Seq, a.lastBookSeq, b.Timestamp, a.lastBookAt); reason != "" {
			return warn("book", reason, fmt.Sprintf("seq=%d last=%d", b.Seq, a.lastBookSeq))
		}
	}

	a.obi = imbalance(b, a.cfg.DepthLevels)

	var contribution float64
	hasBest := len(b.Bids) > 0 && len(b.Asks) > 0
	if hasBest && a.havePrev {
		contribution = orderFlow(a.prevBid, a.prevAsk, b.Bids[0], b.Asks[0])
	}
	a.ofi.push(contribution)
	a.ofiVolume.push(a.pendingVol)
	a.pendingVol = 0

	if hasBest {
		a.prevBid, a.prevAsk, a.havePrev = b.Bids[0], b.Asks[0], true
	} else {
		a.havePrev = false
	}
	a.lastBookSeq, a.lastBookAt, a.bookSeen = b.Seq, b.Timestamp, true
	a.updatedAt = b.Timestamp
	return nil
}

// OnTradePrint feeds VPIN buckets, Amihud intervals and the OFI volume scale.
func (a *Analyzer) OnTradePrint(t models.TradePrint) error {
	if err := a.checkTrade(t); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tradeSeen {
		if t.Seq == 0 && a.lastTrade.Seq == 0 && t.Timestamp.Equal(a.lastTrade.Timestamp) {
			if t == a.lastTrade {
				return warn("trade", models.QualityDuplicate, "identical print")
			}
		} else if reason := staleness(t.Seq, a.lastTrade.Seq, t.Timestamp, a.lastTrade.Timestamp); reason != "" {
			return warn("trade", reason, fmt.Sprintf("seq=%d last=%d", t.Seq, a.lastTrade.Seq))
		}
	}

	a.vpin.add(t.Quantity, t.Aggressor)
	a.amihud.add(t)
	a.pendingVol += t.Quantity

	a.lastTrade, a.tradeSeen = t, true
	if t.Timestamp.After(a.updatedAt) {
		a.updatedAt = t.Timestamp
	}
	return nil
}

func (a *Analyzer) Current() models.MicroSignals {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ofi := a.ofi.sum()
	var norm float64
	if vol := a.ofiVolume.sum() + a.pendingVol; vol > 0 {
		norm = clamp(ofi/vol, -1, 1)
	}
	return models.MicroSignals{
		OBI:              a.obi,
		OFI:              ofi,
		OFINormalized:    norm,
		VPIN:             a.vpin.value(),
		VPINReady:        a.vpin.ready(),
		Amihud:           a.amihud.value(),
		AmihudNormalized: a.amihud.normalized(),
		AmihudReady:      a.amihud.ready(),
		BookReady:        a.bookSeen,
		UpdatedAt:        a.updatedAt,
	}
}

func (a *Analyzer) checkBook(b models.BookSnapshot) error {
	if a.cfg.Symbol != "" && b.Symbol != a.cfg.Symbol {
		return warn("book", models.QualitySymbolMismatch, b.Symbol)
	}
	for i, l := range b.Bids {
		if !validLevel(l) {
			return warn("book", models.QualityInvalidLevel, fmt.Sprintf("bid[%d]", i))
		}
		if i > 0 && l.Price >= b.Bids[i-1].Price {
			return warn("book", models.QualityNonMonotonic, fmt.Sprintf("bid[%d]", i))
		}
	}
	for i, l := range b.Asks {
		if !validLevel(l) {
			return warn("book", models.QualityInvalidLevel, fmt.Sprintf("ask[%d]", i))
		}
		if i > 0 && l.Price <= b.Asks[i-1].Price {
			return warn("book", models.QualityNonMonotonic, fmt.Sprintf("ask[%d]", i))
		}
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 && b.Bids[0].Price >= b.Asks[0].Price {
		return warn("book", models.QualityCrossedBook,
			fmt.Sprintf("bid=%g ask=%g", b.Bids[0].Price, b.Asks[0].Price))
	}
	return nil
}

func (a *Analyzer) checkTrade(t models.TradePrint) error {
	if a.cfg.Symbol != "" && t.Symbol != a.cfg.Symbol {
		return warn("trade", models.QualitySymbolMismatch, t.Symbol)
	}
	if !finitePositive(t.Price) || !finitePositive(t.Quantity) || !t.Aggressor.Valid() {
		return warn("trade", models.QualityInvalidTrade,
			fmt.Sprintf("price=%g qty=%g side=%q", t.Price, t.Quantity, t.Aggressor))
	}
	return nil
}

// staleness compares by sequence when both events carry one, else by timestamp.
func staleness(seq, lastSeq uint64, at, lastAt time.Time) string {
	if seq > 0 && lastSeq > 0 {
		switch {
		case seq == lastSeq:
			return models.QualityDuplicate
		case seq < lastSeq:
			return models.QualityOutOfOrder
		}
		return ""
	}
	switch {
	case at.Equal(lastAt):
		return models.QualityDuplicate
	case at.Before(lastAt):
		return models.QualityOutOfOrder
	}
	return ""
}

// imbalance is (Σbid − Σask)/(Σbid + Σask) over the top depth levels.
func imbalance(b models.BookSnapshot, depth int) float64 {
	bid := sumDepth(b.Bids, depth)
	ask := sumDepth(b.Asks, depth)
	if bid+ask == 0 {
		return 0
	}
	return clamp((bid-ask)/(bid+ask), -1, 1)
}

func sumDepth(levels []models.Level, depth int) float64 {
	if len(levels) > depth {
		levels = levels[:depth]
	}
	s := 0.0
	for _, l := range levels {
		s += l.Quantity
	}
	return s
}

// orderFlow is the best-level order flow between two snapshots. A better price
// counts as added depth, a worse one as removed depth.
func orderFlow(prevBid, prevAsk, bid, ask models.Level) float64 {
	var eBid, eAsk float64
	if bid.Price >= prevBid.Price {
		eBid += bid.Quantity
	}
	if bid.Price <= prevBid.Price {
		eBid -= prevBid.Quantity
	}
	if ask.Price <= prevAsk.Price {
		eAsk += ask.Quantity
	}
	if ask.Price >= prevAsk.Price {
		eAsk -= prevAsk.Quantity
	}
	return eBid - eAsk
}

func validLevel(l models.Level) bool {
	return finitePositive(l.Price) && l.Quantity >= 0 && !math.IsInf(l.Quantity, 0) && !math.IsNaN(l.Quantity)
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func warn(source, reason, detail string) error {
	return &models.DataQualityWarning{Source: source, Reason: reason, Detail: detail}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
