package okx

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"perparb/internal/infrastructure/exchange"
)

// FundingClient queries /api/v5/public/funding-rate one instrument at a time.
type FundingClient struct {
	rest *exchange.RESTClient
}

func NewFundingClient(rest *exchange.RESTClient) *FundingClient {
	return &FundingClient{rest: rest}
}

type fundingResp struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID          string `json:"instId"`
		FundingRate     string `json:"fundingRate"`
		FundingTime     string `json:"fundingTime"`     // upcoming settlement
		NextFundingTime string `json:"nextFundingTime"` // the one after
		Ts              string `json:"ts"`
	} `json:"data"`
}

// 50011: rate limit reached
const codeRateLimit = "50011"

func (c *FundingClient) FundingTargets(instruments []string) []string {
	return instruments
}

func (c *FundingClient) FetchFunding(ctx context.Context, instID string) ([]exchange.RawFunding, error) {
	if instID == "" {
		return nil, exchange.NewError(exchange.KindDataValidation, Name, "funding-rate", errors.New("empty instId"))
	}
	var resp fundingResp
	q := url.Values{"instId": {instID}}
	if err := c.rest.GetJSON(ctx, "funding-rate", "/api/v5/public/funding-rate", q, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "0" {
		kind := exchange.KindDataValidation
		if resp.Code == codeRateLimit {
			kind = exchange.KindRateLimit
		}
		return nil, exchange.NewError(kind, Name, "funding-rate", fmt.Errorf("code %s: %s", resp.Code, resp.Msg))
	}

	out := make([]exchange.RawFunding, 0, len(resp.Data))
	for _, d := range resp.Data {
		rate, ok := exchange.ParseFloat(d.FundingRate)
		if !ok {
			return nil, exchange.NewError(exchange.KindDataValidation, Name, "funding-rate",
				fmt.Errorf("%s: bad fundingRate %q", d.InstID, d.FundingRate))
		}
		rf := exchange.RawFunding{Instrument: d.InstID, Rate: rate, IntervalHours: 8}
		rf.Timestamp, _ = exchange.ParseInt64(d.Ts)
		cur, okCur := exchange.ParseInt64(d.FundingTime)
		if okCur && cur > 0 {
			rf.NextFundingTime = &cur
		}
		if next, ok := exchange.ParseInt64(d.NextFundingTime); ok && okCur && next > cur {
			rf.IntervalHours = float64(next-cur) / float64(3600_000)
		}
		out = append(out, rf)
	}
	if len(out) == 0 {
		return nil, exchange.NewError(exchange.KindDataValidation, Name, "funding-rate", fmt.Errorf("%s: empty data", instID))
	}
	return out, nil
}
