package model

import "time"

// Quote 单个交易所在某个币种上的报价信息
type Quote struct {
	Symbol          Symbol   `json:"symbol"`
	Price           float64  `json:"price"`
	HasPrice        bool     `json:"has_price"`
	FundingRate     *float64 `json:"funding_rate,omitempty"`
	FundingSymbol   *Symbol  `json:"funding_symbol,omitempty"`
	NextFundingTime *int64   `json:"next_funding_time,omitempty"`
	Volume          float64  `json:"volume"` // 24h quote volume
}

// Opportunity 某个币种的跨交易所套利机会（每个周期重新计算，无跨周期标识）
type Opportunity struct {
	Base      string           `json:"base"`
	Exchanges map[string]Quote `json:"exchanges"`

	LongExchange   string  `json:"long_exchange"`  // 价格最低处做多
	ShortExchange  string  `json:"short_exchange"` // 价格最高处做空
	PriceSpreadPct float64 `json:"price_spread_pct"`

	LongFundingExchange  string  `json:"long_funding_exchange,omitempty"`
	ShortFundingExchange string  `json:"short_funding_exchange,omitempty"`
	FundingSpread        float64 `json:"funding_spread"`
	FundingSettle        string  `json:"funding_settle,omitempty"`
}

// Result is one published aggregation cycle.
type Result struct {
	CycleID       string        `json:"cycle_id"`
	Opportunities []Opportunity `json:"opportunities"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
