package exchange

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"perparb/internal/domain/model"
	"perparb/internal/infrastructure/stats"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type FundingConfig struct {
	Interval          time.Duration
	BatchSize         int
	Concurrency       int
	BatchPause        time.Duration
	RequestsPerSecond float64
	Burst             int
	RetryAttempts     int
	RetryBase         time.Duration
}

func (c *FundingConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst <= 0 {
		c.Burst = max(1, c.Concurrency)
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
}

// FundingRefresher 定时拉取资金费率
// A refresh replaces the exchange's funding map only when at least one record
// came back valid; a cycle where everything failed keeps the previous map.
type FundingRefresher struct {
	exchange string
	source   FundingSource
	symbols  Instrumenter
	targets  []string
	wanted   map[string]struct{}
	store    Store
	stats    Recorder
	cfg      FundingConfig
	limiter  *rate.Limiter
	now      func() time.Time

	// OnRefresh, when set, receives every accepted funding set (latest-state
	// persistence).
	OnRefresh func(exchange string, fs []model.FundingSnapshot)

	lastOK atomic.Int64 // unix ms of the last accepted refresh
}

func NewFundingRefresher(adapter *Adapter, instruments []string, cfg FundingConfig, store Store, rec Recorder) (*FundingRefresher, error) {
	if adapter == nil || adapter.Funding == nil {
		return nil, errors.New("adapter has no funding source")
	}
	cfg.applyDefaults()
	wanted := make(map[string]struct{}, len(instruments))
	for _, id := range instruments {
		wanted[id] = struct{}{}
	}
	return &FundingRefresher{
		wanted:   wanted,
		exchange: adapter.Name,
		source:   adapter.Funding,
		symbols:  adapter.Symbols,
		targets:  adapter.Funding.FundingTargets(instruments),
		store:    store,
		stats:    rec,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		now:      time.Now,
	}, nil
}

// LastSuccess is the time of the last refresh that replaced the map.
func (r *FundingRefresher) LastSuccess() time.Time {
	if ms := r.lastOK.Load(); ms > 0 {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

// Run refreshes immediately and then every Interval until ctx is done.
func (r *FundingRefresher) Run(ctx context.Context) {
	tk := time.NewTicker(r.cfg.Interval)
	defer tk.Stop()
	for {
		if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Str("exchange", r.exchange).Err(err).Msg("funding refresh failed, keeping previous rates")
		}
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}
	}
}

// Refresh runs one cycle and returns the number of accepted records.
func (r *FundingRefresher) Refresh(ctx context.Context) (int, error) {
	var (
		mu      sync.Mutex
		out     []model.FundingSnapshot
		lastErr error
		failed  atomic.Int64
	)
	start := r.now()

	for i, batch := range Chunk(r.targets, r.cfg.BatchSize) {
		if i > 0 && !sleep(ctx, r.cfg.BatchPause) {
			return 0, ctx.Err()
		}
		var g errgroup.Group
		g.SetLimit(r.cfg.Concurrency)
		for _, target := range batch {
			g.Go(func() error {
				raws, err := r.fetch(ctx, target)
				if err != nil {
					failed.Add(1)
					r.record(stats.OutcomeError, 1)
					mu.Lock()
					lastErr = err
					mu.Unlock()
					log.Debug().Str("exchange", r.exchange).Str("target", target).
						Str("kind", KindOf(err).String()).Err(err).Msg("funding request failed")
					return nil
				}
				snaps := r.normalize(raws)
				mu.Lock()
				out = append(out, snaps...)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}

	if len(out) == 0 {
		if lastErr == nil {
			lastErr = NewError(KindDataValidation, r.exchange, "funding", errors.New("no usable funding records"))
		}
		return 0, lastErr
	}
	r.store.ReplaceFunding(r.exchange, out)
	r.lastOK.Store(r.now().UnixMilli())
	if r.OnRefresh != nil {
		r.OnRefresh(r.exchange, out)
	}
	log.Debug().Str("exchange", r.exchange).Int("records", len(out)).Int64("failed_requests", failed.Load()).
		Dur("took", r.now().Sub(start)).Msg("funding refreshed")
	return len(out), nil
}

// fetch retries one target with exponential backoff. Malformed responses are
// not retried.
func (r *FundingRefresher) fetch(ctx context.Context, target string) ([]RawFunding, error) {
	var err error
	for attempt := 1; attempt <= r.cfg.RetryAttempts; attempt++ {
		if werr := r.limiter.Wait(ctx); werr != nil {
			return nil, werr
		}
		var raws []RawFunding
		raws, err = r.source.FetchFunding(ctx, target)
		if err == nil {
			return raws, nil
		}
		if KindOf(err) == KindDataValidation || attempt == r.cfg.RetryAttempts {
			break
		}
		d := time.Duration(float64(r.cfg.RetryBase) * math.Pow(2, float64(attempt-1)) * Multiplier(err))
		if !sleep(ctx, d) {
			return nil, ctx.Err()
		}
	}
	return nil, err
}

func (r *FundingRefresher) normalize(raws []RawFunding) []model.FundingSnapshot {
	out := make([]model.FundingSnapshot, 0, len(raws))
	now := r.now().UnixMilli()
	for _, rf := range raws {
		if _, ok := r.wanted[rf.Instrument]; len(r.wanted) > 0 && !ok {
			continue
		}
		sym, err := r.symbols.Normalize(rf.Instrument)
		if err != nil {
			r.record(stats.OutcomeSkipped, 1)
			continue
		}
		fs := model.FundingSnapshot{
			Exchange:        r.exchange,
			Symbol:          sym,
			Rate:            rf.Rate,
			NextFundingTime: rf.NextFundingTime,
			IntervalHours:   rf.IntervalHours,
			Timestamp:       rf.Timestamp,
		}
		if fs.Timestamp <= 0 {
			fs.Timestamp = now
		}
		if !fs.Valid() {
			r.record(stats.OutcomeError, 1)
			continue
		}
		r.record(stats.OutcomeSuccess, 1)
		out = append(out, fs)
	}
	return out
}

func (r *FundingRefresher) record(outcome stats.Outcome, n int) {
	if r.stats != nil {
		r.stats.Record(r.exchange, stats.CategoryFunding, outcome, n)
	}
}
