package models

import "time"

// SentimentScore is pushed by the control surface; the last value wins.
type SentimentScore struct {
	Value  float64   `json:"value"`
	Source string    `json:"source,omitempty"`
	At     time.Time `json:"at"`
}

// FundingRate is pulled on a schedule from the derivatives venue.
type FundingRate struct {
	Rate float64   `json:"rate"`
	At   time.Time `json:"at"`
}

type ExternalScalars struct {
	Sentiment *SentimentScore `json:"sentiment,omitempty"`
	Funding   *FundingRate    `json:"funding,omitempty"`
}
