package model

import "math"

// TickerSnapshot 某交易所某合约的最新行情
type TickerSnapshot struct {
	Exchange    string  `json:"exchange"`
	Symbol      Symbol  `json:"symbol"`
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
	Last        float64 `json:"last"`
	BaseVolume  float64 `json:"base_volume"`
	QuoteVolume float64 `json:"quote_volume"`
	Timestamp   int64   `json:"ts_ms"`
}

func positive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// UsablePrice returns the mid price when both sides of the book are valid,
// otherwise the last trade price. ok is false when neither is usable.
func (t TickerSnapshot) UsablePrice() (price float64, ok bool) {
	if positive(t.Bid) && positive(t.Ask) {
		return (t.Bid + t.Ask) / 2, true
	}
	if positive(t.Last) {
		return t.Last, true
	}
	return 0, false
}

// Merge overlays the fields present in u on top of t. Venues push partial deltas,
// so zero / non-finite fields in u keep the previous value.
func (t TickerSnapshot) Merge(u TickerSnapshot) TickerSnapshot {
	out := t
	out.Exchange = u.Exchange
	out.Symbol = u.Symbol
	if positive(u.Bid) {
		out.Bid = u.Bid
	}
	if positive(u.Ask) {
		out.Ask = u.Ask
	}
	if positive(u.Last) {
		out.Last = u.Last
	}
	if positive(u.BaseVolume) {
		out.BaseVolume = u.BaseVolume
	}
	if positive(u.QuoteVolume) {
		out.QuoteVolume = u.QuoteVolume
	}
	if u.Timestamp > out.Timestamp {
		out.Timestamp = u.Timestamp
	}
	return out
}

// FundingSnapshot 资金费率快照
type FundingSnapshot struct {
	Exchange        string  `json:"exchange"`
	Symbol          Symbol  `json:"symbol"`
	Rate            float64 `json:"funding_rate"`                // signed fraction, 0.0001 = 0.01%
	NextFundingTime *int64  `json:"next_funding_time,omitempty"` // unix ms
	IntervalHours   float64 `json:"funding_interval_hours"`
	Timestamp       int64   `json:"ts_ms"`
}

// Valid reports whether the rate is a finite number.
func (f FundingSnapshot) Valid() bool {
	return !math.IsNaN(f.Rate) && !math.IsInf(f.Rate, 0)
}
