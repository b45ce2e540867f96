package binance

import (
	"context"
	"errors"

	"perparb/internal/infrastructure/exchange"
)

// FundingClient Binance 资金费率 REST 客户端
// /fapi/v1/premiumIndex without a symbol returns every perpetual, so one
// request covers all instruments.
type FundingClient struct {
	rest *exchange.RESTClient
}

func NewFundingClient(rest *exchange.RESTClient) *FundingClient {
	return &FundingClient{rest: rest}
}

// premiumIndex Binance 资金费率响应
type premiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

func (c *FundingClient) FundingTargets([]string) []string { return []string{""} }

func (c *FundingClient) FetchFunding(ctx context.Context, _ string) ([]exchange.RawFunding, error) {
	var resp []premiumIndex
	if err := c.rest.GetJSON(ctx, "premiumIndex", "/fapi/v1/premiumIndex", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, exchange.NewError(exchange.KindDataValidation, Name, "premiumIndex", errors.New("empty response"))
	}
	out := make([]exchange.RawFunding, 0, len(resp))
	for _, p := range resp {
		rate, ok := exchange.ParseFloat(p.LastFundingRate)
		if p.Symbol == "" || !ok {
			continue
		}
		rf := exchange.RawFunding{
			Instrument:    p.Symbol,
			Rate:          rate,
			IntervalHours: 8,
			Timestamp:     p.Time,
		}
		if p.NextFundingTime > 0 {
			next := p.NextFundingTime
			rf.NextFundingTime = &next
		}
		out = append(out, rf)
	}
	return out, nil
}
