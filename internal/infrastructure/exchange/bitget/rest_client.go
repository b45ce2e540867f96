package bitget

import (
	"context"
	"fmt"
	"net/url"

	"perparb/internal/infrastructure/exchange"
)

// FundingClient uses /api/v2/mix/market/current-fund-rate per symbol.
type FundingClient struct {
	rest *exchange.RESTClient
}

func NewFundingClient(rest *exchange.RESTClient) *FundingClient {
	return &FundingClient{rest: rest}
}

type fundingResp struct {
	Code        string `json:"code"`
	Msg         string `json:"msg"`
	RequestTime int64  `json:"requestTime"`
	Data        []struct {
		Symbol              string `json:"symbol"`
		FundingRate         string `json:"fundingRate"`
		FundingRateInterval string `json:"fundingRateInterval"`
		NextUpdate          string `json:"nextUpdate"`
	} `json:"data"`
}

const (
	codeOK        = "00000"
	codeRateLimit = "429"
)

func (c *FundingClient) FundingTargets(instruments []string) []string {
	return instruments
}

func (c *FundingClient) FetchFunding(ctx context.Context, symbol string) ([]exchange.RawFunding, error) {
	var resp fundingResp
	q := url.Values{"symbol": {symbol}, "productType": {productType}}
	if err := c.rest.GetJSON(ctx, "current-fund-rate", "/api/v2/mix/market/current-fund-rate", q, &resp); err != nil {
		return nil, err
	}
	if resp.Code != codeOK {
		kind := exchange.KindDataValidation
		if resp.Code == codeRateLimit {
			kind = exchange.KindRateLimit
		}
		return nil, exchange.NewError(kind, Name, "current-fund-rate", fmt.Errorf("code %s: %s", resp.Code, resp.Msg))
	}

	out := make([]exchange.RawFunding, 0, len(resp.Data))
	for _, d := range resp.Data {
		rate, ok := exchange.ParseFloat(d.FundingRate)
		if d.Symbol == "" || !ok {
			return nil, exchange.NewError(exchange.KindDataValidation, Name, "current-fund-rate",
				fmt.Errorf("%s: bad fundingRate %q", symbol, d.FundingRate))
		}
		rf := exchange.RawFunding{Instrument: d.Symbol, Rate: rate, IntervalHours: 8, Timestamp: resp.RequestTime}
		if h, ok := exchange.ParseFloat(d.FundingRateInterval); ok && h > 0 {
			rf.IntervalHours = h
		}
		if next, ok := exchange.ParseInt64(d.NextUpdate); ok && next > 0 {
			rf.NextFundingTime = &next
		}
		out = append(out, rf)
	}
	return out, nil
}
