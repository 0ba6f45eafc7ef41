package models

import (
	"errors"
	"fmt"
)

// ErrInsufficientData marks a signal or model that has not warmed up yet.
var ErrInsufficientData = errors.New("insufficient data")

const (
	QualityCrossedBook    = "crossed_book"
	QualityNonMonotonic   = "non_monotonic_levels"
	QualityInvalidLevel   = "invalid_level"
	QualityInvalidTrade   = "invalid_trade"
	QualitySymbolMismatch = "symbol_mismatch"
	QualityDuplicate      = "duplicate"
	QualityOutOfOrder     = "out_of_order"
)

// DataQualityWarning reports a dropped event. State is left untouched.
type DataQualityWarning struct {
	Source string
	Reason string
	Detail string
}

func (w *DataQualityWarning) Error() string {
	if w.Detail == "" {
		return fmt.Sprintf("data quality: %s: %s", w.Source, w.Reason)
	}
	return fmt.Sprintf("data quality: %s: %s (%s)", w.Source, w.Reason, w.Detail)
}

// ModelFitError means a refit was discarded and the previous parameters are still live.
type ModelFitError struct {
	Model  string
	Reason string
	Err    error
}

func (e *ModelFitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s refit: %s: %v", e.Model, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s refit: %s", e.Model, e.Reason)
}

func (e *ModelFitError) Unwrap() error { return e.Err }

type BreachReason string

const (
	BreachNone           BreachReason = ""
	BreachBreakerTripped BreachReason = "breaker_tripped"
	BreachDailyCVaR      BreachReason = "daily_cvar"
	BreachPositionOpen   BreachReason = "position_open"
	BreachVPINGate       BreachReason = "vpin_gate"
	BreachHalted         BreachReason = "emergency_halt"
	BreachAmbiguous      BreachReason = "ambiguous_position"
	BreachOrderPending   BreachReason = "order_pending"
	BreachZeroSize       BreachReason = "zero_size"
)

// RiskLimitBreach describes a blocked entry. It is an advisory, not a failure.
type RiskLimitBreach struct {
	Reason BreachReason
	Detail string
}

func (b *RiskLimitBreach) Error() string {
	if b.Detail == "" {
		return "entry blocked: " + string(b.Reason)
	}
	return fmt.Sprintf("entry blocked: %s (%s)", b.Reason, b.Detail)
}

// OrderRejectedError is returned by gateways that refused an intent.
type OrderRejectedError struct {
	IntentID string
	Reason   string
	Attempt  int
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order %s rejected on attempt %d: %s", e.IntentID, e.Attempt, e.Reason)
}

// AmbiguousPositionError is surfaced once retries are exhausted and the
// venue state of an intent is unknown. It needs operator reconciliation.
type AmbiguousPositionError struct {
	IntentID string
	Attempts int
	Err      error
}

func (e *AmbiguousPositionError) Error() string {
	return fmt.Sprintf("position ambiguous after %d attempts for intent %s: %v", e.Attempts, e.IntentID, e.Err)
}

func (e *AmbiguousPositionError) Unwrap() error { return e.Err }
