package mexc

import (
	"context"
	"errors"
	"fmt"
	"math"

	"perparb/internal/infrastructure/exchange"
)

// Client 合约行情轮询 + 资金费率
type Client struct {
	rest *exchange.RESTClient
}

func NewClient(rest *exchange.RESTClient) *Client {
	return &Client{rest: rest}
}

type envelope struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ticker struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"lastPrice"`
	Bid1      float64 `json:"bid1"`
	Ask1      float64 `json:"ask1"`
	Volume24  float64 `json:"volume24"` // contracts
	Amount24  float64 `json:"amount24"` // quote turnover
	Timestamp int64   `json:"timestamp"`
}

type tickersResp struct {
	envelope
	Data []ticker `json:"data"`
}

type fundingResp struct {
	envelope
	Data *struct {
		Symbol         string  `json:"symbol"`
		FundingRate    float64 `json:"fundingRate"`
		CollectCycle   float64 `json:"collectCycle"` // hours
		NextSettleTime int64   `json:"nextSettleTime"`
		Timestamp      int64   `json:"timestamp"`
	} `json:"data"`
}

// 510: request too frequent
const codeRateLimit = 510

func (c *Client) apiError(op string, e envelope) error {
	kind := exchange.KindDataValidation
	if e.Code == codeRateLimit {
		kind = exchange.KindRateLimit
	}
	return exchange.NewError(kind, Name, op, fmt.Errorf("code %d: %s", e.Code, e.Message))
}

// FetchTickers returns every contract ticker. Any structural problem fails the
// whole fetch so the caller never replaces its map with a partial set.
func (c *Client) FetchTickers(ctx context.Context) ([]exchange.RawTicker, error) {
	var resp tickersResp
	if err := c.rest.GetJSON(ctx, "ticker", "/api/v1/contract/ticker", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, c.apiError("ticker", resp.envelope)
	}
	if len(resp.Data) == 0 {
		return nil, exchange.NewError(exchange.KindDataValidation, Name, "ticker", errors.New("empty ticker list"))
	}
	out := make([]exchange.RawTicker, 0, len(resp.Data))
	for _, t := range resp.Data {
		if t.Symbol == "" {
			return nil, exchange.NewError(exchange.KindDataValidation, Name, "ticker", errors.New("ticker without symbol"))
		}
		out = append(out, exchange.RawTicker{
			Instrument:  t.Symbol,
			Bid:         t.Bid1,
			Ask:         t.Ask1,
			Last:        t.LastPrice,
			QuoteVolume: t.Amount24,
			Timestamp:   t.Timestamp,
		})
	}
	return out, nil
}

func (c *Client) FundingTargets(instruments []string) []string {
	return instruments
}

func (c *Client) FetchFunding(ctx context.Context, symbol string) ([]exchange.RawFunding, error) {
	var resp fundingResp
	if err := c.rest.GetJSON(ctx, "funding_rate", "/api/v1/contract/funding_rate/"+symbol, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, c.apiError("funding_rate", resp.envelope)
	}
	d := resp.Data
	if d == nil || d.Symbol == "" || math.IsNaN(d.FundingRate) {
		return nil, exchange.NewError(exchange.KindDataValidation, Name, "funding_rate", fmt.Errorf("%s: missing data", symbol))
	}
	rf := exchange.RawFunding{Instrument: d.Symbol, Rate: d.FundingRate, IntervalHours: 8, Timestamp: d.Timestamp}
	if d.CollectCycle > 0 {
		rf.IntervalHours = d.CollectCycle
	}
	if d.NextSettleTime > 0 {
		next := d.NextSettleTime
		rf.NextFundingTime = &next
	}
	return []exchange.RawFunding{rf}, nil
}
