package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	domsvc "Chronos/internal/domain/service"
	"Chronos/internal/services/fusion"
	"Chronos/internal/services/risk"
	"Chronos/pkg/clock"
	"Chronos/pkg/logger"
)

var ErrLoopRunning = errors.New("decision loop already running")

type LoopConfig struct {
	Symbol                string
	QueueSize             int
	BarInterval           time.Duration
	TickInterval          time.Duration
	ForceCloseOnEmergency bool
}

// DecisionSink receives journaled cycle outcomes. Record must not block.
type DecisionSink interface {
	Record(models.DecisionRecord)
}

// LoopDeps are the components the loop owns or drives.
type LoopDeps struct {
	Micro     domsvc.MicrostructureAnalyzer
	Vol       domsvc.VolatilityModel
	Regime    domsvc.RegimeDetector
	Momentum  *fusion.Momentum
	Fusion    *fusion.Fusion
	Risk      *risk.Manager
	Submitter *OrderSubmitter
	History   *ReturnHistory
	Journal   DecisionSink
	Metrics   domrepo.Metrics
	Clock     clock.Clock
	Log       *logger.Logger
}

type eventKind uint8

const (
	eventBook eventKind = iota
	eventTrade
	eventFill
)

type event struct {
	kind  eventKind
	book  models.BookSnapshot
	trade models.TradePrint
	fill  models.Fill
}

type commandKind uint8

const (
	cmdHalt commandKind = iota
	cmdResume
	cmdReconcile
	cmdAck
)

type command struct {
	kind  commandKind
	force bool
	qty   float64
	price float64
	ack   submitResult
	done  chan error
}

type submitResult struct {
	intent models.OrderIntent
	ack    models.OrderAck
	err    error
}

type inflightIntent struct {
	intent    models.OrderIntent
	remaining float64
}

// DecisionLoop is the single writer of market, model and risk state. Market
// events go through a bounded queue; control commands and order results go
// through a separate queue that is always drained first.
type DecisionLoop struct {
	cfg  LoopConfig
	deps LoopDeps
	log  *logger.Logger

	events  chan event
	control chan command
	wake    chan string
	running atomic.Bool
	submits sync.WaitGroup

	extMu    sync.RWMutex
	external models.ExternalScalars

	status atomic.Pointer[models.StatusSnapshot]

	// loop goroutine only
	sampler      *ReturnSampler
	version      uint64
	lastPrice    float64
	lastIntent   *models.OrderIntent
	lastAction   models.Action
	lastAdvisory string
	inflight     map[string]*inflightIntent
	// set by a forced stop until the position is flat or trading resumes
	closeOwed bool
	// a partial reduce was issued during the current sell episode
	reduced bool
}

func NewDecisionLoop(cfg LoopConfig, deps LoopDeps) (*DecisionLoop, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("decision loop: symbol is required")
	}
	if deps.Micro == nil || deps.Vol == nil || deps.Regime == nil || deps.Momentum == nil ||
		deps.Fusion == nil || deps.Risk == nil || deps.Submitter == nil || deps.History == nil || deps.Metrics == nil {
		return nil, fmt.Errorf("decision loop: missing dependency")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &DecisionLoop{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Log.With(logger.String("symbol", cfg.Symbol)),
		events:   make(chan event, cfg.QueueSize),
		control:  make(chan command, 64),
		wake:     make(chan string, 1),
		sampler:  NewReturnSampler(cfg.BarInterval),
		inflight: make(map[string]*inflightIntent),
	}, nil
}

// Seed primes bar sampling and momentum with historical closes, oldest
// first. Call it before Run.
func (l *DecisionLoop) Seed(closes []float64) {
	if len(closes) == 0 {
		return
	}
	l.deps.Momentum.Seed(closes)
	last := closes[len(closes)-1]
	l.sampler.Seed(last)
	l.lastPrice = last
}

func (l *DecisionLoop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)
	defer l.submits.Wait()

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	l.log.Info("decision loop started", logger.Int("queue_size", cap(l.events)))
	for {
		select {
		case cmd := <-l.control:
			l.handleCommand(ctx, cmd)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			l.log.Info("decision loop stopped")
			return nil
		case cmd := <-l.control:
			l.handleCommand(ctx, cmd)
		case ev := <-l.events:
			l.handleEvent(ctx, ev)
		case reason := <-l.wake:
			l.cycle(ctx, reason)
		case <-ticker.C:
			l.cycle(ctx, "tick")
		}
	}
}

func (l *DecisionLoop) SubmitBook(ctx context.Context, b models.BookSnapshot) error {
	return l.enqueue(ctx, event{kind: eventBook, book: b})
}

func (l *DecisionLoop) SubmitTrade(ctx context.Context, t models.TradePrint) error {
	return l.enqueue(ctx, event{kind: eventTrade, trade: t})
}

func (l *DecisionLoop) SubmitFill(ctx context.Context, f models.Fill) error {
	return l.enqueue(ctx, event{kind: eventFill, fill: f})
}

func (l *DecisionLoop) enqueue(ctx context.Context, ev event) error {
	select {
	case l.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestCycle asks for a recompute. Requests coalesce while one is pending.
func (l *DecisionLoop) RequestCycle(reason string) {
	select {
	case l.wake <- reason:
	default:
	}
}

// SetSentiment replaces the sentiment scalar; the last value wins.
func (l *DecisionLoop) SetSentiment(s models.SentimentScore) {
	l.extMu.Lock()
	l.external.Sentiment = &s
	l.extMu.Unlock()
	l.RequestCycle("sentiment")
}

func (l *DecisionLoop) SetFunding(f models.FundingRate) {
	l.extMu.Lock()
	l.external.Funding = &f
	l.extMu.Unlock()
	l.RequestCycle("funding")
}

// EmergencyStop blocks entries immediately and queues the priority command.
// A nil forceClose falls back to the configured behaviour.
func (l *DecisionLoop) EmergencyStop(ctx context.Context, forceClose *bool) error {
	l.deps.Risk.EmergencyStop()
	force := l.cfg.ForceCloseOnEmergency
	if forceClose != nil {
		force = *forceClose
	}
	return l.sendControl(ctx, command{kind: cmdHalt, force: force})
}

func (l *DecisionLoop) Resume(ctx context.Context) error {
	return l.sendControl(ctx, command{kind: cmdResume})
}

// Reconcile sets the position to the operator-confirmed quantity and entry
// price and clears any ambiguity. It waits until the loop has applied it.
func (l *DecisionLoop) Reconcile(ctx context.Context, qty, price float64) error {
	if qty < 0 || (qty > 0 && price <= 0) {
		return fmt.Errorf("reconcile: invalid quantity %v at price %v", qty, price)
	}
	done := make(chan error, 1)
	if err := l.sendControl(ctx, command{kind: cmdReconcile, qty: qty, price: price, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *DecisionLoop) sendControl(ctx context.Context, cmd command) error {
	select {
	case l.control <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the snapshot published by the last cycle.
func (l *DecisionLoop) Status() models.StatusSnapshot {
	if s := l.status.Load(); s != nil {
		return *s
	}
	return models.StatusSnapshot{Symbol: l.cfg.Symbol}
}

func (l *DecisionLoop) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdHalt:
		l.log.Warn("emergency stop asserted", logger.Bool("force_close", cmd.force))
		if cmd.force {
			l.closeOwed = true
			if id := l.deps.Risk.Pending(); id != "" {
				l.log.Warn("force close deferred until pending order resolves", logger.String("intent_id", id))
			}
		}
		l.cycle(ctx, "emergency_stop")
	case cmdResume:
		l.deps.Risk.Resume()
		l.closeOwed = false
		l.log.Info("emergency stop released")
		l.cycle(ctx, "resume")
	case cmdReconcile:
		now := l.deps.Clock.Now()
		l.deps.Risk.Reconcile(cmd.qty, cmd.price, l.deps.Vol.StopDistance(cmd.price), now)
		clear(l.inflight)
		if cmd.done != nil {
			cmd.done <- nil
		}
		l.cycle(ctx, "reconcile")
	case cmdAck:
		l.handleAck(cmd.ack)
		l.cycle(ctx, "order_ack")
	}
}

// owedClose exits the whole position once a forced stop can act on it.
// The debt survives pending orders and ambiguity and is settled when flat.
func (l *DecisionLoop) owedClose(now time.Time, vec models.SignalVector) (*models.OrderIntent, bool) {
	pos := l.deps.Risk.Position()
	switch {
	case pos == nil || pos.Quantity <= 0:
		l.closeOwed = false
		return nil, false
	case pos.Ambiguous:
		return nil, true
	}
	intent := l.newIntent(models.SideSell, pos.Quantity, models.ReasonEmergencyStop, now, vec)
	return &intent, true
}

func (l *DecisionLoop) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case eventBook:
		if err := l.deps.Micro.OnBookSnapshot(ev.book); err != nil {
			l.dropped("book", err)
			return
		}
		l.deps.Metrics.RecordEvent("book")
		if mid := ev.book.Mid(); mid > 0 {
			l.lastPrice = mid
		}
		l.cycle(ctx, "book")
	case eventTrade:
		if err := l.deps.Micro.OnTradePrint(ev.trade); err != nil {
			l.dropped("trade", err)
			return
		}
		l.deps.Metrics.RecordEvent("trade")
		l.deps.Metrics.RecordLastPrice(l.cfg.Symbol, ev.trade.Price)
		l.lastPrice = ev.trade.Price
		if bar, ok := l.sampler.Add(ev.trade); ok {
			l.onBar(bar)
		}
		l.cycle(ctx, "trade")
	case eventFill:
		l.deps.Metrics.RecordEvent("fill")
		l.applyFill(ev.fill)
		l.cycle(ctx, "fill")
	}
}

func (l *DecisionLoop) dropped(source string, err error) {
	var w *models.DataQualityWarning
	if errors.As(err, &w) {
		l.deps.Metrics.RecordDataQuality(w.Reason)
		l.log.Warn("market event dropped",
			logger.String("source", source),
			logger.String("reason", w.Reason),
			logger.String("detail", w.Detail),
		)
		return
	}
	l.deps.Metrics.RecordError(source)
	l.log.Error("market event failed", logger.String("source", source), logger.Error(err))
}

func (l *DecisionLoop) onBar(bar Bar) {
	if bar.HasReturn {
		l.deps.Vol.OnReturn(bar.Return)
		l.deps.Regime.OnReturn(bar.Return)
		l.deps.History.Append(bar.Return)
	}
	l.deps.Momentum.OnClose(bar.Close)
}

// cycle recomputes the signal vector from one capture of all inputs, makes
// at most one order decision and publishes the status snapshot.
func (l *DecisionLoop) cycle(ctx context.Context, trigger string) {
	start := time.Now()
	now := l.deps.Clock.Now()
	if bar, ok := l.sampler.Tick(now); ok {
		l.onBar(bar)
	}
	l.deps.Risk.Tick(now)

	in := l.capture(now)
	vec := l.deps.Fusion.Compute(in)

	intent, advisory := l.decide(now, in, vec)
	if intent != nil {
		l.dispatch(ctx, *intent)
	}
	l.publish(now, in, vec, intent, advisory)

	l.deps.Metrics.RecordLatency("cycle", time.Since(start).Seconds())
	if trigger != "tick" {
		l.log.Debug("cycle",
			logger.String("trigger", trigger),
			logger.Uint64("version", vec.Version),
			logger.Float64("score", vec.Score),
			logger.String("action", string(vec.Action)),
		)
	}
}

func (l *DecisionLoop) capture(now time.Time) fusion.Inputs {
	l.version++
	mom, ok := l.deps.Momentum.Current()

	l.extMu.RLock()
	ext := l.external
	l.extMu.RUnlock()

	return fusion.Inputs{
		Version:    l.version,
		At:         now,
		Micro:      l.deps.Micro.Current(),
		Volatility: l.deps.Vol.Current(),
		Regime:     l.deps.Regime.Current(),
		Momentum:   mom,
		MomentumOK: ok,
		External:   ext,
	}
}

// decide returns the single intent for this cycle, if any, and the advisory
// reason when an entry signal was blocked.
func (l *DecisionLoop) decide(now time.Time, in fusion.Inputs, vec models.SignalVector) (*models.OrderIntent, string) {
	if vec.Action != models.ActionSell {
		l.reduced = false
	}
	if l.deps.Risk.Pending() != "" {
		return nil, ""
	}
	if l.closeOwed {
		if intent, owed := l.owedClose(now, vec); owed {
			return intent, ""
		}
	}
	price := l.lastPrice
	if price <= 0 {
		return nil, ""
	}
	stop := l.deps.Vol.StopDistance(price)

	if pos := l.deps.Risk.Position(); pos != nil {
		if pos.Ambiguous {
			return nil, l.advise(&models.RiskLimitBreach{Reason: models.BreachAmbiguous, Detail: "position awaits reconcile"})
		}
		if exit, reason := l.deps.Risk.OnPrice(price, stop); exit {
			intent := l.newIntent(models.SideSell, pos.Quantity, reason, now, vec)
			return &intent, ""
		}
		if qty, reason, ok := l.deps.Risk.ExitQuantity(vec.Action); ok && !(reason == models.ReasonSignalReduce && l.reduced) {
			if reason == models.ReasonSignalReduce {
				l.reduced = true
			}
			intent := l.newIntent(models.SideSell, qty, reason, now, vec)
			return &intent, ""
		}
	}

	if !vec.Raw.IsEntry() {
		return nil, ""
	}
	if ok, breach := l.deps.Risk.CanEnter(now, vec.VPINGate); !ok {
		return nil, l.advise(breach)
	}
	qty, err := l.deps.Risk.Size(vec.Action, price, stop, in.Regime)
	if err != nil {
		var breach *models.RiskLimitBreach
		if errors.As(err, &breach) {
			return nil, l.advise(breach)
		}
		l.log.Error("position sizing failed", logger.Error(err))
		return nil, ""
	}
	intent := l.newIntent(models.SideBuy, qty, models.ReasonSignalEntry, now, vec)
	return &intent, ""
}

// advise records a blocked entry. It is logged only when the reason changes.
func (l *DecisionLoop) advise(b *models.RiskLimitBreach) string {
	reason := string(b.Reason)
	l.deps.Metrics.RecordAdvisory(reason)
	if reason != l.lastAdvisory {
		l.log.Info("entry blocked", logger.String("reason", reason), logger.String("detail", b.Detail))
	}
	return reason
}

func (l *DecisionLoop) newIntent(side models.Side, qty float64, reason models.IntentReason, now time.Time, vec models.SignalVector) models.OrderIntent {
	return models.OrderIntent{
		ID:             uuid.NewString(),
		Symbol:         l.cfg.Symbol,
		Side:           side,
		Quantity:       qty,
		OrderType:      models.OrderMarket,
		Reason:         reason,
		ReferencePrice: l.lastPrice,
		SignalVersion:  vec.Version,
		Score:          vec.Score,
		CreatedAt:      now,
	}
}

// dispatch marks the intent pending and submits it off the loop goroutine.
// The outcome comes back through the control queue.
func (l *DecisionLoop) dispatch(ctx context.Context, intent models.OrderIntent) {
	l.deps.Risk.SetPending(intent.ID)
	l.inflight[intent.ID] = &inflightIntent{intent: intent, remaining: intent.Quantity}
	l.lastIntent = &intent
	l.deps.Metrics.RecordIntent(string(intent.Reason), string(intent.Side))
	l.log.Info("order intent",
		logger.String("intent_id", intent.ID),
		logger.String("side", string(intent.Side)),
		logger.Float64("quantity", intent.Quantity),
		logger.String("reason", string(intent.Reason)),
		logger.Float64("reference_price", intent.ReferencePrice),
	)

	l.submits.Add(1)
	go func() {
		defer l.submits.Done()
		ack, err := l.deps.Submitter.Submit(ctx, intent)
		res := submitResult{intent: intent, ack: ack, err: err}
		if serr := l.sendControl(ctx, command{kind: cmdAck, ack: res}); serr != nil {
			l.log.Warn("order result lost on shutdown", logger.String("intent_id", intent.ID), logger.Error(serr))
		}
	}()
}

func (l *DecisionLoop) handleAck(res submitResult) {
	if res.err != nil {
		delete(l.inflight, res.intent.ID)
		l.deps.Metrics.RecordError("order_ambiguous")
		l.deps.Risk.MarkAmbiguous(res.intent, res.err)
		return
	}
	switch res.ack.Status {
	case models.OrderFilled:
		qty := res.ack.FilledQty
		if qty <= 0 {
			qty = res.intent.Quantity
		}
		price := res.ack.AvgPrice
		if price <= 0 {
			price = res.intent.ReferencePrice
		}
		l.applyFill(models.Fill{
			IntentID: res.intent.ID,
			Symbol:   res.intent.Symbol,
			Side:     res.intent.Side,
			Quantity: qty,
			Price:    price,
			At:       l.deps.Clock.Now(),
		})
	default:
		l.log.Debug("order accepted, awaiting fill", logger.String("intent_id", res.intent.ID))
	}
}

func (l *DecisionLoop) applyFill(f models.Fill) {
	inf, ok := l.inflight[f.IntentID]
	if !ok {
		l.deps.Metrics.RecordDataQuality("unknown_fill")
		l.log.Warn("fill for unknown intent dropped", logger.String("intent_id", f.IntentID))
		return
	}
	if f.Quantity <= 0 || f.Price <= 0 {
		l.deps.Metrics.RecordDataQuality(models.QualityInvalidTrade)
		return
	}

	if inf.intent.Side == models.SideBuy {
		l.deps.Risk.Open(f, l.deps.Vol.StopDistance(f.Price))
	} else {
		pnl := l.deps.Risk.Close(f, inf.intent.Reason)
		l.log.Info("exit filled", logger.String("intent_id", f.IntentID), logger.Float64("pnl", pnl))
	}

	inf.remaining -= f.Quantity
	if inf.remaining > 1e-12 {
		l.deps.Risk.SetPending(f.IntentID)
		return
	}
	delete(l.inflight, f.IntentID)
}

func (l *DecisionLoop) publish(now time.Time, in fusion.Inputs, vec models.SignalVector, intent *models.OrderIntent, advisory string) {
	snap := models.StatusSnapshot{
		Symbol:     l.cfg.Symbol,
		Signals:    vec,
		Micro:      in.Micro,
		Volatility: in.Volatility,
		Regime:     in.Regime,
		External:   in.External,
		Risk:       l.deps.Risk.State(),
		Position:   l.deps.Risk.Position(),
		Stats:      l.deps.Risk.Stats(),
		LastPrice:  l.lastPrice,
		LastIntent: l.lastIntent,
		UpdatedAt:  now,
	}
	l.status.Store(&snap)
	l.deps.Metrics.RecordSignals(l.cfg.Symbol, vec)
	l.deps.Metrics.RecordRisk(l.cfg.Symbol, snap.Risk)

	changed := intent != nil || vec.Action != l.lastAction || advisory != l.lastAdvisory
	l.lastAction = vec.Action
	l.lastAdvisory = advisory
	if changed && l.deps.Journal != nil {
		l.deps.Journal.Record(models.DecisionRecord{
			Symbol:   l.cfg.Symbol,
			Vector:   vec,
			Regime:   in.Regime.State,
			Sigma:    in.Volatility.Sigma,
			Price:    l.lastPrice,
			Intent:   intent,
			Advisory: advisory,
			At:       now,
		})
	}
}
