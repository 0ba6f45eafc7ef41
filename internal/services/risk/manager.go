package risk

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"Chronos/internal/domain/models"
	"Chronos/pkg/clock"
	"Chronos/pkg/logger"
)

type Config struct {
	Symbol               string
	Equity               float64
	LotStep              float64
	MaxPositionFraction  float64
	MinCashReserve       float64
	KellyDivisor         float64
	KellyMinTrades       int
	KellyHistory         int
	BootstrapFraction    float64
	MaxConsecutiveLosses int
	Cooldown             time.Duration
	DailyCVaRLimit       float64
	DayBoundary          time.Duration // offset from local midnight
	Location             *time.Location
	PartialExitFraction  float64
	RegimeMultipliers    [models.RegimeCount]float64
	DailyHistory         int
}

func (c *Config) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("risk: symbol is required")
	}
	if c.Equity <= 0 {
		return fmt.Errorf("risk: equity must be positive")
	}
	if c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1 {
		return fmt.Errorf("risk: max position fraction %v out of (0,1]", c.MaxPositionFraction)
	}
	if c.MinCashReserve < 0 || c.MinCashReserve >= 1 {
		return fmt.Errorf("risk: min cash reserve %v out of [0,1)", c.MinCashReserve)
	}
	if c.DailyCVaRLimit >= 0 {
		return fmt.Errorf("risk: daily cvar limit must be negative")
	}
	if c.DayBoundary < 0 || c.DayBoundary >= 24*time.Hour {
		return fmt.Errorf("risk: day boundary %v out of range", c.DayBoundary)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.KellyDivisor <= 0 {
		c.KellyDivisor = 4
	}
	if c.KellyMinTrades <= 0 {
		c.KellyMinTrades = 20
	}
	if c.KellyHistory < c.KellyMinTrades {
		c.KellyHistory = 5 * c.KellyMinTrades
	}
	if c.MaxConsecutiveLosses <= 0 {
		c.MaxConsecutiveLosses = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Minute
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.PartialExitFraction <= 0 || c.PartialExitFraction > 1 {
		c.PartialExitFraction = 0.5
	}
	if c.RegimeMultipliers == ([models.RegimeCount]float64{}) {
		c.RegimeMultipliers = [models.RegimeCount]float64{1, 0.5, 0.25}
	}
	if c.DailyHistory <= 0 {
		c.DailyHistory = defaultHistory
	}
}

// roundTrip accumulates exits of the open position until it is flat.
type roundTrip struct {
	realized float64
	exitQty  float64
	exitNot  float64
}

// Manager owns RiskState and the Position. All methods are safe for
// concurrent use; the emergency halt is readable without the lock.
type Manager struct {
	cfg   Config
	clock clock.Clock
	log   *logger.Logger

	halted atomic.Bool

	mu          sync.RWMutex
	equity      float64
	dayEquity   float64
	dailyPnL    float64
	cvarLatched bool
	dayStart    time.Time
	nextDay     time.Time
	daily       []float64
	brk         breaker
	pos         *models.Position
	trip        roundTrip
	trades      []models.ClosedTrade
	pending     string
	fatal       string
}

func NewManager(cfg Config, clk clock.Clock) (*Manager, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	m := &Manager{
		cfg:       cfg,
		clock:     clk,
		log:       logger.Nop(),
		equity:    cfg.Equity,
		dayEquity: cfg.Equity,
		brk:       newBreaker(cfg.MaxConsecutiveLosses, cfg.Cooldown),
	}
	m.dayStart = dayBoundary(clk.Now(), cfg.Location, cfg.DayBoundary)
	m.nextDay = m.dayStart.AddDate(0, 0, 1)
	return m, nil
}

func (m *Manager) SetLogger(l *logger.Logger) {
	if l != nil {
		m.log = l
	}
}

// Tick applies time-driven transitions: breaker re-arm and day rollover.
func (m *Manager) Tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick(now)
}

func (m *Manager) tick(now time.Time) {
	if m.brk.refresh(now) {
		m.log.Info("circuit breaker re-armed", logger.Time("at", now))
	}
	if now.Before(m.nextDay) {
		return
	}

	ret := m.dailyPnL / m.dayEquity
	m.daily = append(m.daily, ret)
	if len(m.daily) > m.cfg.DailyHistory {
		m.daily = m.daily[len(m.daily)-m.cfg.DailyHistory:]
	}
	m.log.Info("risk day rolled over",
		logger.Time("day_start", m.dayStart),
		logger.Float64("daily_pnl", m.dailyPnL),
		logger.Float64("daily_return", ret),
		logger.Bool("cvar_latched", m.cvarLatched),
	)

	m.dailyPnL = 0
	m.cvarLatched = false
	m.brk.losses = 0
	m.dayEquity = m.equity
	m.dayStart = dayBoundary(now, m.cfg.Location, m.cfg.DayBoundary)
	m.nextDay = m.dayStart.AddDate(0, 0, 1)
}

// CanEnter evaluates every entry gate. A false result carries the first
// blocking reason; it is an advisory, not a failure.
func (m *Manager) CanEnter(now time.Time, vpinGate bool) (bool, *models.RiskLimitBreach) {
	if m.halted.Load() {
		return false, &models.RiskLimitBreach{Reason: models.BreachHalted}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick(now)

	switch {
	case m.fatal != "" || (m.pos != nil && m.pos.Ambiguous):
		return false, &models.RiskLimitBreach{Reason: models.BreachAmbiguous, Detail: m.fatal}
	case m.pending != "":
		return false, &models.RiskLimitBreach{Reason: models.BreachOrderPending, Detail: m.pending}
	case m.pos != nil:
		return false, &models.RiskLimitBreach{Reason: models.BreachPositionOpen}
	case m.brk.tripped():
		return false, &models.RiskLimitBreach{
			Reason: models.BreachBreakerTripped,
			Detail: "cooldown until " + m.brk.cooldownUntil.Format(time.RFC3339),
		}
	case m.cvarLatched:
		return false, &models.RiskLimitBreach{
			Reason: models.BreachDailyCVaR,
			Detail: fmt.Sprintf("daily %.4f <= %.4f", m.dailyCVaR(), m.cfg.DailyCVaRLimit),
		}
	case vpinGate:
		return false, &models.RiskLimitBreach{Reason: models.BreachVPINGate}
	}
	return true, nil
}

// Size returns the entry quantity for action at price given the stop distance
// in price units. A zero result is reported as a BreachZeroSize advisory.
func (m *Manager) Size(action models.Action, price, stopDistance float64, regime models.RegimeSnapshot) (float64, error) {
	if price <= 0 || stopDistance <= 0 || math.IsNaN(stopDistance) {
		return 0, &models.RiskLimitBreach{Reason: models.BreachZeroSize, Detail: "no stop distance"}
	}

	m.mu.RLock()
	stats := computeStats(m.trades)
	equity := m.equity
	m.mu.RUnlock()

	f := m.cfg.kellyFraction(stats) * action.SizeMultiplier() * m.regimeMultiplier(regime)
	qty := equity * f / stopDistance
	if maxQty := equity * (1 - m.cfg.MinCashReserve) / price; qty > maxQty {
		qty = maxQty
	}
	qty = floorToLot(qty, m.cfg.LotStep)
	if qty <= 0 {
		return 0, &models.RiskLimitBreach{
			Reason: models.BreachZeroSize,
			Detail: fmt.Sprintf("fraction %.5f below one lot", f),
		}
	}
	return qty, nil
}

// regimeMultiplier treats an unfitted regime as sideways.
func (m *Manager) regimeMultiplier(r models.RegimeSnapshot) float64 {
	if !r.Ready || int(r.State) >= len(m.cfg.RegimeMultipliers) {
		return m.cfg.RegimeMultipliers[models.RegimeSideways]
	}
	return m.cfg.RegimeMultipliers[r.State]
}

// Open applies an entry fill. Adding to an existing position averages the
// entry; the trailing stop never moves down.
func (m *Manager) Open(fill models.Fill, stopDistance float64) models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == fill.IntentID {
		m.pending = ""
	}
	if m.pos == nil {
		m.pos = &models.Position{
			Symbol:   m.cfg.Symbol,
			Side:     models.SideBuy,
			OpenedAt: fill.At,
		}
		m.trip = roundTrip{}
	}
	p := m.pos
	total := p.Quantity + fill.Quantity
	if total > 0 {
		p.EntryPrice = (p.EntryPrice*p.Quantity + fill.Price*fill.Quantity) / total
	}
	p.Quantity = total
	p.StopLoss = p.EntryPrice - stopDistance
	p.TrailingStop = math.Max(p.TrailingStop, fill.Price-stopDistance)
	p.HighWater = math.Max(p.HighWater, fill.Price)
	p.PendingIntent = ""

	m.log.Info("position opened",
		logger.String("intent_id", fill.IntentID),
		logger.Float64("price", fill.Price),
		logger.Float64("quantity", fill.Quantity),
		logger.Float64("stop_loss", p.StopLoss),
	)
	return *p
}

// OnPrice ratchets the trailing stop and reports whether price touched a
// protective level.
func (m *Manager) OnPrice(price, stopDistance float64) (bool, models.IntentReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pos
	if p == nil || p.Ambiguous || p.Quantity <= 0 || price <= 0 {
		return false, ""
	}
	if price <= p.StopLoss {
		return true, models.ReasonStopLoss
	}
	if price <= p.TrailingStop {
		return true, models.ReasonTrailingStop
	}
	if price > p.HighWater {
		p.HighWater = price
	}
	if stopDistance > 0 {
		p.TrailingStop = math.Max(p.TrailingStop, price-stopDistance)
	}
	return false, ""
}

// ExitQuantity sizes a signal-driven exit: sell reduces by the partial
// fraction, strong_sell closes everything.
func (m *Manager) ExitQuantity(action models.Action) (float64, models.IntentReason, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.pos
	if p == nil || p.Ambiguous || p.Quantity <= 0 || m.pending != "" {
		return 0, "", false
	}
	switch action {
	case models.ActionStrongSell:
		return p.Quantity, models.ReasonSignalExit, true
	case models.ActionSell:
		q := floorToLot(p.Quantity*m.cfg.PartialExitFraction, m.cfg.LotStep)
		if q <= 0 || p.Quantity-q < m.cfg.LotStep {
			return p.Quantity, models.ReasonSignalExit, true
		}
		return q, models.ReasonSignalReduce, true
	}
	return 0, "", false
}

// Close applies an exit fill and returns the PnL realized by it. When the
// position goes flat the round trip is recorded and fed to the breaker.
func (m *Manager) Close(fill models.Fill, reason models.IntentReason) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == fill.IntentID {
		m.pending = ""
	}
	p := m.pos
	if p == nil || p.Quantity <= 0 {
		return 0
	}
	qty := fill.Quantity
	if qty <= 0 || qty > p.Quantity {
		qty = p.Quantity
	}
	pnl := (fill.Price - p.EntryPrice) * qty

	m.trip.realized += pnl
	m.trip.exitQty += qty
	m.trip.exitNot += fill.Price * qty
	p.Quantity -= qty

	m.equity += pnl
	m.dailyPnL += pnl
	if !m.cvarLatched && m.dailyCVaR() <= m.cfg.DailyCVaRLimit {
		m.cvarLatched = true
		m.log.Warn("daily cvar limit reached, entries blocked until rollover",
			logger.Float64("daily_cvar", m.dailyCVaR()),
			logger.Float64("limit", m.cfg.DailyCVaRLimit),
		)
	}

	if p.Quantity > m.cfg.LotStep/2 && p.Quantity > 1e-12 {
		return pnl
	}

	trade := models.ClosedTrade{
		Symbol:     p.Symbol,
		EntryPrice: p.EntryPrice,
		ExitPrice:  m.trip.exitNot / m.trip.exitQty,
		Quantity:   m.trip.exitQty,
		PnL:        m.trip.realized,
		Reason:     reason,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   fill.At,
	}
	m.trades = append(m.trades, trade)
	if len(m.trades) > m.cfg.KellyHistory {
		m.trades = m.trades[len(m.trades)-m.cfg.KellyHistory:]
	}
	m.pos = nil
	m.trip = roundTrip{}

	if m.brk.record(trade.PnL, m.clock.Now()) {
		m.log.Warn("circuit breaker tripped",
			logger.Int("consecutive_losses", m.brk.losses),
			logger.Time("cooldown_until", m.brk.cooldownUntil),
		)
	}
	m.log.Info("position closed",
		logger.String("reason", string(reason)),
		logger.Float64("pnl", trade.PnL),
		logger.Float64("exit_price", trade.ExitPrice),
	)
	return pnl
}

func (m *Manager) dailyCVaR() float64 {
	if m.dayEquity <= 0 {
		return 0
	}
	return m.dailyPnL / m.dayEquity
}

func (m *Manager) EmergencyStop() { m.halted.Store(true) }

func (m *Manager) Resume() { m.halted.Store(false) }

func (m *Manager) Halted() bool { return m.halted.Load() }

// SetPending records an intent awaiting its fill. No other intent is issued
// until it resolves.
func (m *Manager) SetPending(intentID string) {
	m.mu.Lock()
	m.pending = intentID
	m.mu.Unlock()
}

func (m *Manager) ClearPending(intentID string) {
	m.mu.Lock()
	if m.pending == intentID {
		m.pending = ""
	}
	m.mu.Unlock()
}

func (m *Manager) Pending() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending
}

// MarkAmbiguous freezes the position after an intent whose venue state is
// unknown. Only Reconcile clears it.
func (m *Manager) MarkAmbiguous(intent models.OrderIntent, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos == nil {
		m.pos = &models.Position{
			Symbol:     m.cfg.Symbol,
			Side:       models.SideBuy,
			EntryPrice: intent.ReferencePrice,
			OpenedAt:   intent.CreatedAt,
		}
	}
	m.pos.Ambiguous = true
	m.pos.PendingIntent = intent.ID
	m.pending = ""
	m.fatal = (&models.AmbiguousPositionError{IntentID: intent.ID, Err: cause}).Error()
	m.log.Error("position ambiguous, reconciliation required",
		logger.String("intent_id", intent.ID),
		logger.String("reason", string(intent.Reason)),
		logger.Error(cause),
	)
}

// Reconcile replaces the position with the operator-confirmed one and clears
// the fatal condition. qty 0 means flat.
func (m *Manager) Reconcile(qty, price, stopDistance float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fatal = ""
	m.pending = ""
	m.trip = roundTrip{}
	if qty <= 0 {
		m.pos = nil
	} else {
		m.pos = &models.Position{
			Symbol:       m.cfg.Symbol,
			Side:         models.SideBuy,
			EntryPrice:   price,
			Quantity:     qty,
			StopLoss:     price - stopDistance,
			TrailingStop: price - stopDistance,
			HighWater:    price,
			OpenedAt:     at,
		}
	}
	m.log.Info("position reconciled", logger.Float64("quantity", qty), logger.Float64("price", price))
}

// State returns a point-in-time copy of RiskState.
func (m *Manager) State() models.RiskState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hist, _ := HistoricalCVaR(m.daily, cvarTail)
	return models.RiskState{
		Equity:            m.equity,
		DailyPnL:          m.dailyPnL,
		DailyCVaR:         m.dailyCVaR(),
		CVaRBreached:      m.cvarLatched,
		HistoricalCVaR95:  hist,
		ConsecutiveLosses: m.brk.losses,
		Breaker:           m.brk.status,
		CooldownUntil:     m.brk.cooldownUntil,
		DayStart:          m.dayStart,
		NextDayBoundary:   m.nextDay,
		Halted:            m.halted.Load(),
		Fatal:             m.fatal,
	}
}

// Position returns a copy of the open position, or nil when flat.
func (m *Manager) Position() *models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pos == nil {
		return nil
	}
	p := *m.pos
	return &p
}

func (m *Manager) Stats() models.TradeStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return computeStats(m.trades)
}
