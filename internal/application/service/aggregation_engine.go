package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"perparb/internal/application/port"
	"perparb/internal/domain/model"
	domainservice "perparb/internal/domain/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultAggregationInterval = 5 * time.Second

// AggregationEngine 定时聚合各交易所快照，计算套利机会并原子发布
// At most one cycle runs at a time; a tick that finds a cycle in flight is
// dropped.
type AggregationEngine struct {
	data     port.MarketData
	calc     *domainservice.Calculator
	interval time.Duration

	observer   port.CycleObserver
	pubMu      sync.RWMutex
	publishers []*publisherSlot

	running atomic.Bool
	latest  atomic.Pointer[model.Result]
	wg      sync.WaitGroup

	now   func() time.Time
	newID func() string
}

func NewAggregationEngine(data port.MarketData, calc *domainservice.Calculator, interval time.Duration) *AggregationEngine {
	if interval <= 0 {
		interval = DefaultAggregationInterval
	}
	return &AggregationEngine{
		data:     data,
		calc:     calc,
		interval: interval,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (e *AggregationEngine) SetObserver(o port.CycleObserver) { e.observer = o }

// AddPublisher registers a consumer of published results. Each publisher sees
// results in cycle order; a result still waiting when a newer one arrives is
// dropped.
func (e *AggregationEngine) AddPublisher(p port.Publisher) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	e.publishers = append(e.publishers, &publisherSlot{pub: p})
}

// Latest returns the last published opportunities and when they were computed.
// The slice is shared and must not be modified.
func (e *AggregationEngine) Latest() ([]model.Opportunity, time.Time) {
	res := e.latest.Load()
	if res == nil {
		return nil, time.Time{}
	}
	return res.Opportunities, res.UpdatedAt
}

// Result is the last published result, nil before the first cycle.
func (e *AggregationEngine) Result() *model.Result {
	return e.latest.Load()
}

// Run ticks until ctx is done. Cycles run off the timer goroutine so a slow
// cycle shows up as skipped ticks instead of timer drift.
func (e *AggregationEngine) Run(ctx context.Context) {
	tk := time.NewTicker(e.interval)
	defer tk.Stop()
	defer e.wg.Wait()

	e.spawn()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			e.spawn()
		}
	}
}

func (e *AggregationEngine) spawn() {
	if e.running.Load() {
		e.skipped()
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Tick()
	}()
}

func (e *AggregationEngine) skipped() {
	log.Debug().Msg("aggregation cycle still running, tick skipped")
	if e.observer != nil {
		e.observer.CycleSkipped()
	}
}

// Tick runs one cycle unless another is in flight. It reports whether a cycle
// ran.
func (e *AggregationEngine) Tick() bool {
	if !e.running.CompareAndSwap(false, true) {
		e.skipped()
		return false
	}
	defer e.running.Store(false)

	start := e.now()
	res, err := e.cycle()
	if err != nil {
		log.Error().Err(err).Msg("aggregation cycle failed")
		if e.observer != nil {
			e.observer.CycleFailed()
		}
		return true
	}

	e.latest.Store(res)
	if e.observer != nil {
		e.observer.CycleCompleted(e.now().Sub(start), len(res.Opportunities))
	}
	e.publish(res)
	return true
}

func (e *AggregationEngine) cycle() (res *model.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("aggregation panic: %v\n%s", r, debug.Stack())
		}
	}()

	exchanges := e.data.Exchanges()
	data := make([]domainservice.ExchangeData, 0, len(exchanges))
	for _, ex := range exchanges {
		d, rerr := e.read(ex)
		if rerr != nil {
			log.Warn().Str("exchange", ex).Err(rerr).Msg("exchange dropped from cycle")
			continue
		}
		data = append(data, d)
	}

	return &model.Result{
		CycleID:       e.newID(),
		Opportunities: e.calc.Compute(data),
		UpdatedAt:     e.now(),
	}, nil
}

// read isolates one exchange so its failure only removes it from this cycle.
func (e *AggregationEngine) read(ex string) (d domainservice.ExchangeData, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read %s: %v", ex, r)
		}
	}()
	return domainservice.ExchangeData{
		Exchange: ex,
		Tickers:  e.data.TickerList(ex),
		Funding:  e.data.FundingList(ex),
	}, nil
}

func (e *AggregationEngine) publish(res *model.Result) {
	e.pubMu.RLock()
	slots := append([]*publisherSlot(nil), e.publishers...)
	e.pubMu.RUnlock()

	for _, sl := range slots {
		sl.offer(res, &e.wg)
	}
}

// publisherSlot 每个发布者一个待发送槽位，最多一个 drain goroutine
type publisherSlot struct {
	pub port.Publisher

	mu      sync.Mutex
	pending *model.Result
	busy    bool
}

func (s *publisherSlot) offer(res *model.Result, wg *sync.WaitGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = res
	if s.busy {
		return
	}
	s.busy = true
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.drain()
	}()
}

func (s *publisherSlot) drain() {
	for {
		s.mu.Lock()
		res := s.pending
		s.pending = nil
		if res == nil {
			s.busy = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.deliver(res)
	}
}

func (s *publisherSlot) deliver(res *model.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("publisher panicked")
		}
	}()
	s.pub.Publish(res)
}
