package service

import (
	"fmt"
	"sort"
	"strings"

	"perparb/internal/domain/model"
)

// Grouping decides which contracts of one base asset are compared with each other.
type Grouping int

const (
	// GroupByBase compares every contract of the base regardless of settlement.
	GroupByBase Grouping = iota
	// GroupBySettlement only compares contracts sharing the settlement asset of the
	// largest group for that base.
	GroupBySettlement
)

func (g Grouping) String() string {
	if g == GroupBySettlement {
		return "settlement"
	}
	return "base"
}

func ParseGrouping(v string) (Grouping, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "base":
		return GroupByBase, nil
	case "settlement", "settle":
		return GroupBySettlement, nil
	default:
		return GroupByBase, fmt.Errorf("unknown grouping %q", v)
	}
}

// ExchangeData is one exchange's read snapshot for a cycle. The order of the
// slice handed to Compute is the tie-break order.
type ExchangeData struct {
	Exchange string
	Tickers  []model.TickerSnapshot
	Funding  []model.FundingSnapshot
}

type Calculator struct {
	PrimaryQuote    string
	PriceGrouping   Grouping
	FundingGrouping Grouping
}

func NewCalculator(primaryQuote string, price, funding Grouping) *Calculator {
	return &Calculator{
		PrimaryQuote:    strings.ToUpper(strings.TrimSpace(primaryQuote)),
		PriceGrouping:   price,
		FundingGrouping: funding,
	}
}

type candidate struct {
	rank   int // exchange position in the cycle order
	ex     string
	sym    model.Symbol
	value  float64
	volume float64
	next   *int64
}

// Compute turns per-exchange snapshots into opportunities, one per base asset that
// has a usable price on at least two exchanges.
func (c *Calculator) Compute(data []ExchangeData) []model.Opportunity {
	prices := make(map[string][]candidate)
	rates := make(map[string][]candidate)

	for rank, d := range data {
		for _, t := range d.Tickers {
			px, ok := t.UsablePrice()
			if !ok || t.Symbol.Base == "" {
				continue
			}
			prices[t.Symbol.Base] = append(prices[t.Symbol.Base], candidate{
				rank: rank, ex: d.Exchange, sym: t.Symbol, value: px, volume: t.QuoteVolume,
			})
		}
		for _, f := range d.Funding {
			if !f.Valid() || f.Symbol.Base == "" {
				continue
			}
			rates[f.Symbol.Base] = append(rates[f.Symbol.Base], candidate{
				rank: rank, ex: d.Exchange, sym: f.Symbol, value: f.Rate, next: f.NextFundingTime,
			})
		}
	}

	out := make([]model.Opportunity, 0, len(prices))
	for base, pc := range prices {
		pc = c.pick(pc, c.PriceGrouping)
		if len(pc) < 2 {
			continue
		}

		opp := model.Opportunity{Base: base, Exchanges: make(map[string]model.Quote, len(pc))}
		lo, hi := argMinMax(pc)
		opp.LongExchange, opp.ShortExchange = lo.ex, hi.ex
		opp.PriceSpreadPct = SpreadPct(lo.value, hi.value)
		for _, p := range pc {
			opp.Exchanges[p.ex] = model.Quote{Symbol: p.sym, Price: p.value, HasPrice: true, Volume: p.volume}
		}

		fc := c.pick(rates[base], c.FundingGrouping)
		for _, f := range fc {
			q := opp.Exchanges[f.ex]
			if !q.HasPrice {
				q.Symbol = f.sym
			}
			rate, sym := f.value, f.sym
			q.FundingRate = &rate
			q.FundingSymbol = &sym
			q.NextFundingTime = f.next
			opp.Exchanges[f.ex] = q
		}
		if len(fc) >= 2 {
			flo, fhi := argMinMax(fc)
			opp.LongFundingExchange, opp.ShortFundingExchange = flo.ex, fhi.ex
			opp.FundingSpread = fhi.value - flo.value
			if c.FundingGrouping == GroupBySettlement {
				opp.FundingSettle = flo.sym.Settle
			}
		}
		out = append(out, opp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PriceSpreadPct != out[j].PriceSpreadPct {
			return out[i].PriceSpreadPct > out[j].PriceSpreadPct
		}
		return out[i].Base < out[j].Base
	})
	return out
}

// pick narrows the candidates of one base to at most one per exchange, ordered by
// exchange rank.
func (c *Calculator) pick(in []candidate, g Grouping) []candidate {
	if len(in) == 0 {
		return nil
	}
	if g == GroupBySettlement {
		in = c.largestSettleGroup(in)
	}

	best := make(map[string]candidate, len(in))
	for _, cd := range in {
		cur, ok := best[cd.ex]
		if !ok || c.prefer(cd.sym, cur.sym) {
			best[cd.ex] = cd
		}
	}
	out := make([]candidate, 0, len(best))
	for _, cd := range best {
		out = append(out, cd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rank < out[j].rank })
	return out
}

// prefer reports whether a should replace b as an exchange's representative
// contract: the primary quote first, then the lexicographically smallest symbol.
func (c *Calculator) prefer(a, b model.Symbol) bool {
	ap, bp := a.Quote == c.PrimaryQuote, b.Quote == c.PrimaryQuote
	if ap != bp {
		return ap
	}
	return a.String() < b.String()
}

func (c *Calculator) largestSettleGroup(in []candidate) []candidate {
	groups := make(map[string]map[string]struct{})
	for _, cd := range in {
		if groups[cd.sym.Settle] == nil {
			groups[cd.sym.Settle] = make(map[string]struct{})
		}
		groups[cd.sym.Settle][cd.ex] = struct{}{}
	}
	chosen := ""
	for settle, exs := range groups {
		if chosen == "" {
			chosen = settle
			continue
		}
		n, m := len(exs), len(groups[chosen])
		switch {
		case n > m:
			chosen = settle
		case n == m:
			sp, cp := settle == c.PrimaryQuote, chosen == c.PrimaryQuote
			if sp && !cp || sp == cp && settle < chosen {
				chosen = settle
			}
		}
	}
	out := in[:0:0]
	for _, cd := range in {
		if cd.sym.Settle == chosen {
			out = append(out, cd)
		}
	}
	return out
}

// argMinMax expects candidates sorted by rank; strict comparisons keep the first
// exchange on ties.
func argMinMax(in []candidate) (lo, hi candidate) {
	lo, hi = in[0], in[0]
	for _, cd := range in[1:] {
		if cd.value < lo.value {
			lo = cd
		}
		if cd.value > hi.value {
			hi = cd
		}
	}
	return lo, hi
}
