package models

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side that unwinds s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

type Level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// BookSnapshot is a depth-N view of the book. Bids are best-first descending,
// asks best-first ascending. Seq is the venue sequence number, 0 when unknown.
type BookSnapshot struct {
	Symbol    string    `json:"symbol"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
}

// Mid returns the midpoint of the best levels, or 0 if either side is empty.
func (b BookSnapshot) Mid() float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0
	}
	return (b.Bids[0].Price + b.Asks[0].Price) / 2
}

type TradePrint struct {
	Symbol    string    `json:"symbol"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Aggressor Side      `json:"aggressor"`
}

// Candle represents an OHLCV record used to warm up the models.
type Candle struct {
	Bucket time.Time
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}
