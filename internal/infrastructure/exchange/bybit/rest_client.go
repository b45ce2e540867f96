package bybit

import (
	"context"
	"fmt"
	"net/url"

	"perparb/internal/infrastructure/exchange"
)

// FundingClient reads funding from /v5/market/tickers?category=linear, which
// returns every linear contract in one response.
type FundingClient struct {
	rest *exchange.RESTClient
}

func NewFundingClient(rest *exchange.RESTClient) *FundingClient {
	return &FundingClient{rest: rest}
}

// tickersResp Bybit 资金费率响应
type tickersResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string `json:"category"`
		List     []struct {
			Symbol              string `json:"symbol"`
			FundingRate         string `json:"fundingRate"`
			NextFundingTime     string `json:"nextFundingTime"`
			FundingIntervalHour string `json:"fundingIntervalHour"`
		} `json:"list"`
	} `json:"result"`
	Time int64 `json:"time"`
}

// retCode 10006: too many visits
const retCodeRateLimit = 10006

func (c *FundingClient) FundingTargets([]string) []string { return []string{""} }

func (c *FundingClient) FetchFunding(ctx context.Context, _ string) ([]exchange.RawFunding, error) {
	var resp tickersResp
	q := url.Values{"category": {"linear"}}
	if err := c.rest.GetJSON(ctx, "tickers", "/v5/market/tickers", q, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		kind := exchange.KindDataValidation
		if resp.RetCode == retCodeRateLimit {
			kind = exchange.KindRateLimit
		}
		return nil, exchange.NewError(kind, Name, "tickers", fmt.Errorf("retCode %d: %s", resp.RetCode, resp.RetMsg))
	}

	out := make([]exchange.RawFunding, 0, len(resp.Result.List))
	for _, it := range resp.Result.List {
		rate, ok := exchange.ParseFloat(it.FundingRate)
		if it.Symbol == "" || !ok {
			continue // spot-like rows and pre-launch contracts carry no rate
		}
		rf := exchange.RawFunding{Instrument: it.Symbol, Rate: rate, IntervalHours: 8, Timestamp: resp.Time}
		if h, ok := exchange.ParseFloat(it.FundingIntervalHour); ok {
			rf.IntervalHours = h
		}
		if next, ok := exchange.ParseInt64(it.NextFundingTime); ok && next > 0 {
			rf.NextFundingTime = &next
		}
		out = append(out, rf)
	}
	return out, nil
}
