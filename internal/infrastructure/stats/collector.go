package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Category string

const (
	CategoryTicker  Category = "ticker"
	CategoryFunding Category = "funding"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// Observer mirrors recorded outcomes elsewhere (prometheus).
type Observer interface {
	Observe(exchange string, cat Category, outcome Outcome, n int)
}

// Counters is a point-in-time copy of one exchange/category.
type Counters struct {
	Success    uint64    `json:"success"`
	Error      uint64    `json:"error"`
	Skipped    uint64    `json:"skipped"`
	LastUpdate time.Time `json:"last_update"`
}

type counters struct {
	success atomic.Uint64
	errors  atomic.Uint64
	skipped atomic.Uint64
	last    atomic.Int64 // unix ms
}

func (c *counters) load() Counters {
	out := Counters{
		Success: c.success.Load(),
		Error:   c.errors.Load(),
		Skipped: c.skipped.Load(),
	}
	if ms := c.last.Load(); ms > 0 {
		out.LastUpdate = time.UnixMilli(ms)
	}
	return out
}

type key struct {
	exchange string
	cat      Category
}

// Collector 每个交易所 × 类别的计数器，全部原子操作
type Collector struct {
	m        sync.Map // key -> *counters
	observer Observer
	now      func() time.Time
}

func NewCollector(observer Observer) *Collector {
	return &Collector{observer: observer, now: time.Now}
}

func (c *Collector) get(exchange string, cat Category) *counters {
	k := key{exchange: exchange, cat: cat}
	if v, ok := c.m.Load(k); ok {
		return v.(*counters)
	}
	v, _ := c.m.LoadOrStore(k, &counters{})
	return v.(*counters)
}

// Record adds n to the outcome counter.
func (c *Collector) Record(exchange string, cat Category, outcome Outcome, n int) {
	if n <= 0 {
		return
	}
	ctr := c.get(exchange, cat)
	switch outcome {
	case OutcomeSuccess:
		ctr.success.Add(uint64(n))
	case OutcomeError:
		ctr.errors.Add(uint64(n))
	case OutcomeSkipped:
		ctr.skipped.Add(uint64(n))
	default:
		return
	}
	ctr.last.Store(c.now().UnixMilli())
	if c.observer != nil {
		c.observer.Observe(exchange, cat, outcome, n)
	}
}

func (c *Collector) Success(exchange string, cat Category) { c.Record(exchange, cat, OutcomeSuccess, 1) }
func (c *Collector) Error(exchange string, cat Category)   { c.Record(exchange, cat, OutcomeError, 1) }
func (c *Collector) Skipped(exchange string, cat Category) { c.Record(exchange, cat, OutcomeSkipped, 1) }

// Counters returns one exchange/category; zero value when nothing was recorded.
func (c *Collector) Counters(exchange string, cat Category) Counters {
	if v, ok := c.m.Load(key{exchange: exchange, cat: cat}); ok {
		return v.(*counters).load()
	}
	return Counters{}
}

// Snapshot exchange -> category -> counters
type Snapshot map[string]map[Category]Counters

func (c *Collector) Snapshot() Snapshot {
	out := make(Snapshot)
	c.m.Range(func(k, v any) bool {
		kk := k.(key)
		if out[kk.exchange] == nil {
			out[kk.exchange] = make(map[Category]Counters, 2)
		}
		out[kk.exchange][kk.cat] = v.(*counters).load()
		return true
	})
	return out
}

// Exchanges in the snapshot, sorted.
func (s Snapshot) Exchanges() []string {
	out := make([]string, 0, len(s))
	for ex := range s {
		out = append(out, ex)
	}
	sort.Strings(out)
	return out
}

func sub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// Delta returns cur-prev per counter. A counter that went backwards (restart)
// reports 0 instead of wrapping.
func Delta(prev, cur Snapshot) Snapshot {
	out := make(Snapshot, len(cur))
	for ex, cats := range cur {
		out[ex] = make(map[Category]Counters, len(cats))
		for cat, c := range cats {
			p := prev[ex][cat]
			out[ex][cat] = Counters{
				Success:    sub(c.Success, p.Success),
				Error:      sub(c.Error, p.Error),
				Skipped:    sub(c.Skipped, p.Skipped),
				LastUpdate: c.LastUpdate,
			}
		}
	}
	return out
}
