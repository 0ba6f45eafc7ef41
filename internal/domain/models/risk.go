package models

import "time"

type BreakerStatus string

const (
	BreakerArmed   BreakerStatus = "armed"
	BreakerTripped BreakerStatus = "tripped"
)

// Position is the single open exposure per instrument. Entries are long only.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	Quantity      float64   `json:"quantity"`
	StopLoss      float64   `json:"stop_loss"`
	TrailingStop  float64   `json:"trailing_stop"`
	HighWater     float64   `json:"high_water"`
	OpenedAt      time.Time `json:"opened_at"`
	Ambiguous     bool      `json:"ambiguous"`
	PendingIntent string    `json:"pending_intent,omitempty"`
}

// Exit is the active protective level: the tighter of stop-loss and trailing stop.
func (p Position) Exit() float64 {
	if p.TrailingStop > p.StopLoss {
		return p.TrailingStop
	}
	return p.StopLoss
}

func (p Position) UnrealizedPnL(price float64) float64 {
	if p.Side == SideSell {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

type RiskState struct {
	Equity            float64       `json:"equity"`
	DailyPnL          float64       `json:"daily_pnl"`
	DailyCVaR         float64       `json:"daily_cvar"`
	CVaRBreached      bool          `json:"cvar_breached"`
	HistoricalCVaR95  float64       `json:"historical_cvar_95"`
	ConsecutiveLosses int           `json:"consecutive_losses"`
	Breaker           BreakerStatus `json:"breaker"`
	CooldownUntil     time.Time     `json:"cooldown_until"`
	DayStart          time.Time     `json:"day_start"`
	NextDayBoundary   time.Time     `json:"next_day_boundary"`
	Halted            bool          `json:"halted"`
	Fatal             string        `json:"fatal,omitempty"`
}

// ClosedTrade is a realized round trip. Partial exits are folded into it:
// ExitPrice is the volume-weighted exit and PnL the total over all exits.
type ClosedTrade struct {
	Symbol     string       `json:"symbol"`
	EntryPrice float64      `json:"entry_price"`
	ExitPrice  float64      `json:"exit_price"`
	Quantity   float64      `json:"quantity"`
	PnL        float64      `json:"pnl"`
	Reason     IntentReason `json:"reason"`
	OpenedAt   time.Time    `json:"opened_at"`
	ClosedAt   time.Time    `json:"closed_at"`
}

func (t ClosedTrade) Win() bool { return t.PnL > 0 }

type TradeStats struct {
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"win_rate"`
	AvgWin  float64 `json:"avg_win"`
	AvgLoss float64 `json:"avg_loss"`
	Payoff  float64 `json:"payoff"`
	Kelly   float64 `json:"kelly"`
}

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

type IntentReason string

const (
	ReasonSignalEntry   IntentReason = "signal_entry"
	ReasonSignalReduce  IntentReason = "signal_reduce"
	ReasonSignalExit    IntentReason = "signal_exit"
	ReasonStopLoss      IntentReason = "stop_loss"
	ReasonTrailingStop  IntentReason = "trailing_stop"
	ReasonEmergencyStop IntentReason = "emergency_stop"
)

// OrderIntent is what the core asks the exchange collaborator to do.
type OrderIntent struct {
	ID             string       `json:"id"`
	Symbol         string       `json:"symbol"`
	Side           Side         `json:"side"`
	Quantity       float64      `json:"quantity"`
	OrderType      OrderType    `json:"order_type"`
	Reason         IntentReason `json:"reason"`
	ReferencePrice float64      `json:"reference_price"`
	SignalVersion  uint64       `json:"signal_version"`
	Score          float64      `json:"score"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Closing reports whether the intent reduces the open position.
func (i OrderIntent) Closing() bool { return i.Reason != ReasonSignalEntry }

type OrderStatus string

const (
	OrderFilled   OrderStatus = "filled"
	OrderAccepted OrderStatus = "accepted"
	OrderRejected OrderStatus = "rejected"
)

type OrderAck struct {
	IntentID  string      `json:"intent_id"`
	Status    OrderStatus `json:"status"`
	FilledQty float64     `json:"filled_qty"`
	AvgPrice  float64     `json:"avg_price"`
	Reason    string      `json:"reason,omitempty"`
}

// Fill is an execution report for a previously accepted intent.
type Fill struct {
	IntentID string    `json:"intent_id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	At       time.Time `json:"at"`
}

// StatusSnapshot is the read-only view handed to the control surface.
type StatusSnapshot struct {
	Symbol     string             `json:"symbol"`
	Signals    SignalVector       `json:"signals"`
	Micro      MicroSignals       `json:"micro"`
	Volatility VolatilitySnapshot `json:"volatility"`
	Regime     RegimeSnapshot     `json:"regime"`
	External   ExternalScalars    `json:"external"`
	Risk       RiskState          `json:"risk"`
	Position   *Position          `json:"position,omitempty"`
	Stats      TradeStats         `json:"stats"`
	LastPrice  float64            `json:"last_price"`
	LastIntent *OrderIntent       `json:"last_intent,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// DecisionRecord is one journaled cycle outcome.
type DecisionRecord struct {
	Symbol   string       `json:"symbol"`
	Vector   SignalVector `json:"vector"`
	Regime   Regime       `json:"regime"`
	Sigma    float64      `json:"sigma"`
	Price    float64      `json:"price"`
	Intent   *OrderIntent `json:"intent,omitempty"`
	Advisory string       `json:"advisory,omitempty"`
	At       time.Time    `json:"at"`
}
