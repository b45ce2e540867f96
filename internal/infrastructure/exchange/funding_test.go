package exchange

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"perparb/internal/domain/model"
	"perparb/internal/infrastructure/marketdata"
	"perparb/internal/infrastructure/stats"
)

type fakeFunding struct {
	mu       sync.Mutex
	calls    map[string]int
	inflight atomic.Int32
	peak     atomic.Int32
	fetch    func(target string) ([]RawFunding, error)
}

func (f *fakeFunding) FundingTargets(ids []string) []string { return ids }

func (f *fakeFunding) FetchFunding(_ context.Context, target string) ([]RawFunding, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[target]++
	f.mu.Unlock()
	time.Sleep(2 * time.Millisecond)
	return f.fetch(target)
}

func fundingAdapter(src FundingSource) *Adapter {
	return &Adapter{
		Name:    "okx",
		Symbols: NewSymbolNormalizer(SymbolOptions{Separator: "-", ContractSuffix: "-SWAP"}),
		Stream:  fakeStream{},
		Funding: src,
	}
}

var fastFunding = FundingConfig{
	BatchSize:         2,
	Concurrency:       2,
	BatchPause:        time.Millisecond,
	RequestsPerSecond: 1000,
	Burst:             10,
	RetryAttempts:     2,
	RetryBase:         time.Millisecond,
}

func TestFundingRefreshKeepsPreviousMapWhenAllFail(t *testing.T) {
	fail := false
	src := &fakeFunding{fetch: func(target string) ([]RawFunding, error) {
		if fail {
			return nil, StatusError("okx", "funding", 503, []byte("down"))
		}
		return []RawFunding{{Instrument: target, Rate: 0.0001}}, nil
	}}
	store := marketdata.NewStore("okx")
	col := stats.NewCollector(nil)
	ids := []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}
	r, err := NewFundingRefresher(fundingAdapter(src), ids, fastFunding, store, col)
	if err != nil {
		t.Fatal(err)
	}

	var persisted int
	r.OnRefresh = func(_ string, fs []model.FundingSnapshot) { persisted += len(fs) }

	if n, err := r.Refresh(context.Background()); err != nil || n != 2 {
		t.Fatalf("first refresh = %d, %v", n, err)
	}
	first := r.LastSuccess()

	fail = true
	_, err = r.Refresh(context.Background())
	if !errors.Is(err, ErrUpstreamServer) {
		t.Fatalf("err = %v, want upstream server", err)
	}
	got := store.Funding("okx")
	if len(got) != 2 || got[model.NewSymbol("BTC", "USDT", "USDT")].Rate != 0.0001 {
		t.Fatalf("previous map not kept: %+v", got)
	}
	if !r.LastSuccess().Equal(first) {
		t.Fatalf("last success moved on a failed cycle")
	}
	if persisted != 2 {
		t.Fatalf("persisted = %d, want 2", persisted)
	}
	// retried once per target on 5xx
	if src.calls["BTC-USDT-SWAP"] != 3 {
		t.Fatalf("calls = %v", src.calls)
	}
	if c := col.Counters("okx", stats.CategoryFunding); c.Success != 2 || c.Error != 2 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestFundingRefreshPartialSuccessReplacesMap(t *testing.T) {
	src := &fakeFunding{fetch: func(target string) ([]RawFunding, error) {
		if target == "ETH-USDT-SWAP" {
			return nil, NewError(KindDataValidation, "okx", "funding", errors.New("missing fundingRate"))
		}
		return []RawFunding{{Instrument: target, Rate: -0.0002}}, nil
	}}
	store := marketdata.NewStore("okx")
	store.ReplaceFunding("okx", []model.FundingSnapshot{{Symbol: model.NewSymbol("ETH", "USDT", "USDT"), Rate: 0.01}})

	r, _ := NewFundingRefresher(fundingAdapter(src), []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}, fastFunding, store, nil)
	if n, err := r.Refresh(context.Background()); err != nil || n != 1 {
		t.Fatalf("refresh = %d, %v", n, err)
	}
	got := store.Funding("okx")
	if len(got) != 1 {
		t.Fatalf("map not replaced: %+v", got)
	}
	if src.calls["ETH-USDT-SWAP"] != 1 {
		t.Fatalf("malformed response retried: %v", src.calls)
	}
}

func TestFundingRefreshBoundsConcurrency(t *testing.T) {
	src := &fakeFunding{fetch: func(target string) ([]RawFunding, error) {
		return []RawFunding{{Instrument: target, Rate: 0}}, nil
	}}
	var ids []string
	for _, b := range []string{"BTC", "ETH", "SOL", "XRP", "DOGE", "ADA", "AVAX"} {
		ids = append(ids, b+"-USDT-SWAP")
	}
	cfg := fastFunding
	cfg.BatchSize = 4
	cfg.Concurrency = 2
	r, _ := NewFundingRefresher(fundingAdapter(src), ids, cfg, marketdata.NewStore(), nil)

	n, err := r.Refresh(context.Background())
	if err != nil || n != len(ids) {
		t.Fatalf("refresh = %d, %v", n, err)
	}
	if p := src.peak.Load(); p > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", p)
	}
}

func TestFundingRefreshSkipsUnwantedAndInvalid(t *testing.T) {
	src := &fakeFunding{fetch: func(string) ([]RawFunding, error) {
		return []RawFunding{
			{Instrument: "BTC-USDT-SWAP", Rate: 0.0001},
			{Instrument: "ETH-USDT-SWAP", Rate: math.NaN()},
			{Instrument: "LTC-USDT-SWAP", Rate: 0.0003},
		}, nil
	}}
	src2 := &singleTarget{src}
	col := stats.NewCollector(nil)
	store := marketdata.NewStore()
	r, _ := NewFundingRefresher(fundingAdapter(src2), []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}, fastFunding, store, col)

	if n, err := r.Refresh(context.Background()); err != nil || n != 1 {
		t.Fatalf("refresh = %d, %v", n, err)
	}
	if c := col.Counters("okx", stats.CategoryFunding); c.Success != 1 || c.Error != 1 {
		t.Fatalf("counters = %+v", c)
	}
}

// singleTarget fetches everything in one request.
type singleTarget struct{ *fakeFunding }

func (singleTarget) FundingTargets([]string) []string { return []string{""} }
