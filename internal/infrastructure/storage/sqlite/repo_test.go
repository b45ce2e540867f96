package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"perparb/internal/domain/model"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "data", "perparb.db"))
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepoFundingRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	next := int64(1700003600000)
	btc := model.NewSymbol("BTC", "USDT", "USDT")
	eth := model.NewSymbol("ETH", "USDT", "USDT")

	err := repo.UpsertFunding(ctx, "binance", []model.FundingSnapshot{
		{Exchange: "binance", Symbol: btc, Rate: 0.0001, NextFundingTime: &next, IntervalHours: 8, Timestamp: 1},
		{Exchange: "binance", Symbol: eth, Rate: -0.0002, IntervalHours: 8, Timestamp: 1},
		{Exchange: "binance", Symbol: model.NewSymbol("SOL", "USDT", "USDT"), Rate: math.NaN()},
	})
	if err != nil {
		t.Fatalf("UpsertFunding failed: %v", err)
	}

	// second write overwrites, never appends
	if err := repo.UpsertFunding(ctx, "binance", []model.FundingSnapshot{
		{Exchange: "binance", Symbol: btc, Rate: 0.0003, IntervalHours: 4, Timestamp: 2},
	}); err != nil {
		t.Fatalf("UpsertFunding failed: %v", err)
	}

	got, err := repo.LoadFunding(ctx, "binance")
	if err != nil {
		t.Fatalf("LoadFunding failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(got), got)
	}
	if got[0].Symbol != btc || got[0].Rate != 0.0003 || got[0].IntervalHours != 4 || got[0].NextFundingTime != nil {
		t.Errorf("btc row = %+v", got[0])
	}
	if got[1].Symbol != eth || got[1].Rate != -0.0002 || got[1].Exchange != "binance" {
		t.Errorf("eth row = %+v", got[1])
	}

	other, err := repo.LoadFunding(ctx, "okx")
	if err != nil || len(other) != 0 {
		t.Fatalf("okx rows = %v, %v", other, err)
	}
}

func TestSQLiteRepoPublishReplacesOpportunities(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := &model.Result{
		CycleID:   "c1",
		UpdatedAt: time.UnixMilli(1700000000000),
		Opportunities: []model.Opportunity{
			{Base: "BTC", LongExchange: "okx", ShortExchange: "binance", PriceSpreadPct: 0.2},
			{Base: "ETH", LongExchange: "bybit", ShortExchange: "okx", PriceSpreadPct: 0.5},
		},
	}
	if err := repo.PublishOpportunities(ctx, first); err != nil {
		t.Fatalf("PublishOpportunities failed: %v", err)
	}

	id, opps, err := repo.LatestOpportunities(ctx)
	if err != nil {
		t.Fatalf("LatestOpportunities failed: %v", err)
	}
	if id != "c1" || len(opps) != 2 || opps[0].Base != "ETH" {
		t.Fatalf("after first publish: %s %+v", id, opps)
	}

	second := &model.Result{
		CycleID:       "c2",
		UpdatedAt:     time.UnixMilli(1700000005000),
		Opportunities: []model.Opportunity{{Base: "SOL", LongExchange: "mexc", ShortExchange: "bitget", PriceSpreadPct: 1}},
	}
	if err := repo.PublishOpportunities(ctx, second); err != nil {
		t.Fatalf("PublishOpportunities failed: %v", err)
	}
	id, opps, err = repo.LatestOpportunities(ctx)
	if err != nil {
		t.Fatalf("LatestOpportunities failed: %v", err)
	}
	if id != "c2" || len(opps) != 1 || opps[0].Base != "SOL" || opps[0].ShortExchange != "bitget" {
		t.Fatalf("after second publish: %s %+v", id, opps)
	}
}
