package port

import (
	"time"

	"perparb/internal/domain/model"
	"perparb/internal/infrastructure/stats"
)

// MarketData is the read side of the market data store.
type MarketData interface {
	Exchanges() []string
	TickerList(exchange string) []model.TickerSnapshot
	FundingList(exchange string) []model.FundingSnapshot
}

// StatsSource exposes ingestion counters.
type StatsSource interface {
	Snapshot() stats.Snapshot
}

// ConnectionStates reports connector state per exchange.
type ConnectionStates interface {
	ConnectionState(exchange string) (model.ConnectionState, bool)
}

// Publisher receives every published result. Called off the engine goroutine.
type Publisher interface {
	Publish(res *model.Result)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(res *model.Result)

func (f PublisherFunc) Publish(res *model.Result) { f(res) }

// CycleObserver is told how each aggregation tick went.
type CycleObserver interface {
	CycleCompleted(d time.Duration, opportunities int)
	CycleSkipped()
	CycleFailed()
}
