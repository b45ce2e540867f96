package service

import (
	"context"
	"time"

	"perparb/internal/application/port"
	"perparb/internal/domain/model"
	"perparb/internal/infrastructure/stats"

	"github.com/rs/zerolog/log"
)

const DefaultSummaryInterval = 60 * time.Second

// ExchangeHealth is one exchange's activity over the last reporting window.
type ExchangeHealth struct {
	Exchange string
	State    model.ConnectionState
	Known    bool
	Ticker   stats.Counters
	Funding  stats.Counters
	Window   time.Duration
}

// HealthReporter 周期性输出各交易所计数增量与连接状态
type HealthReporter struct {
	stats     port.StatsSource
	states    port.ConnectionStates
	exchanges []string
	interval  time.Duration

	prev   stats.Snapshot
	prevAt time.Time
	now    func() time.Time
}

func NewHealthReporter(src port.StatsSource, states port.ConnectionStates, exchanges []string, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = DefaultSummaryInterval
	}
	return &HealthReporter{
		stats:     src,
		states:    states,
		exchanges: append([]string(nil), exchanges...),
		interval:  interval,
		now:       time.Now,
	}
}

func (h *HealthReporter) Run(ctx context.Context) {
	h.prev, h.prevAt = h.stats.Snapshot(), h.now()

	tk := time.NewTicker(h.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			for _, r := range h.Report() {
				logHealth(r)
			}
		}
	}
}

// Report computes the deltas since the previous call and advances the window.
// Not safe for concurrent use; Run is the only caller in production.
func (h *HealthReporter) Report() []ExchangeHealth {
	cur, at := h.stats.Snapshot(), h.now()
	delta := stats.Delta(h.prev, cur)
	window := time.Duration(0)
	if !h.prevAt.IsZero() {
		window = at.Sub(h.prevAt)
	}
	h.prev, h.prevAt = cur, at

	out := make([]ExchangeHealth, 0, len(h.exchanges))
	for _, ex := range h.exchanges {
		r := ExchangeHealth{Exchange: ex, Window: window}
		if h.states != nil {
			r.State, r.Known = h.states.ConnectionState(ex)
		}
		if d, ok := delta[ex]; ok {
			r.Ticker = d[stats.CategoryTicker]
			r.Funding = d[stats.CategoryFunding]
		}
		out = append(out, r)
	}
	return out
}

func logHealth(r ExchangeHealth) {
	ev := log.Info()
	if r.Known && r.State != model.StateConnected {
		ev = log.Warn()
	}
	ev.Str("exchange", r.Exchange).
		Str("state", r.State.String()).
		Dur("window", r.Window).
		Uint64("ticker_ok", r.Ticker.Success).
		Uint64("ticker_err", r.Ticker.Error).
		Uint64("ticker_skip", r.Ticker.Skipped).
		Uint64("funding_ok", r.Funding.Success).
		Uint64("funding_err", r.Funding.Error).
		Uint64("funding_skip", r.Funding.Skipped).
		Time("last_ticker", r.Ticker.LastUpdate).
		Msg("exchange health")
}
