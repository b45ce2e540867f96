package marketdata

import (
	"sync"
	"sync/atomic"

	"perparb/internal/domain/model"
)

type fundingMap map[model.Symbol]model.FundingSnapshot

// book holds one exchange. Stream tickers are updated key by key; a poll
// replace builds a fresh ticker map and swaps it in, as funding does.
type book struct {
	tickers atomic.Pointer[sync.Map] // model.Symbol -> model.TickerSnapshot
	funding atomic.Pointer[fundingMap]
}

// Store 各交易所最新行情/资金费率的内存快照
// Each exchange has a single writer (its session); reads never block.
type Store struct {
	mu    sync.Mutex // guards registration only
	order atomic.Pointer[[]string]
	books sync.Map // exchange -> *book
}

func NewStore(exchanges ...string) *Store {
	s := &Store{}
	empty := []string{}
	s.order.Store(&empty)
	for _, ex := range exchanges {
		s.Register(ex)
	}
	return s
}

// Register adds an exchange; a no-op when it already exists.
func (s *Store) Register(exchange string) {
	s.book(exchange)
}

func (s *Store) book(exchange string) *book {
	if v, ok := s.books.Load(exchange); ok {
		return v.(*book)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.books.Load(exchange); ok {
		return v.(*book)
	}
	b := &book{}
	b.tickers.Store(&sync.Map{})
	empty := fundingMap{}
	b.funding.Store(&empty)
	s.books.Store(exchange, b)

	prev := *s.order.Load()
	next := make([]string, len(prev), len(prev)+1)
	copy(next, prev)
	next = append(next, exchange)
	s.order.Store(&next)
	return b
}

func (s *Store) lookup(exchange string) (*book, bool) {
	v, ok := s.books.Load(exchange)
	if !ok {
		return nil, false
	}
	return v.(*book), true
}

// Exchanges returns registered exchanges in registration order.
func (s *Store) Exchanges() []string {
	cur := *s.order.Load()
	out := make([]string, len(cur))
	copy(out, cur)
	return out
}

// PutTicker merges t over the previous snapshot of the same symbol.
func (s *Store) PutTicker(t model.TickerSnapshot) {
	m := s.book(t.Exchange).tickers.Load()
	if prev, ok := m.Load(t.Symbol); ok {
		t = prev.(model.TickerSnapshot).Merge(t)
	}
	m.Store(t.Symbol, t)
}

// ReplaceTickers swaps the exchange's ticker map for one built from ts. Readers
// see either the old map or the new one, never a mix.
func (s *Store) ReplaceTickers(exchange string, ts []model.TickerSnapshot) {
	b := s.book(exchange)
	m := &sync.Map{}
	for _, t := range ts {
		t.Exchange = exchange
		m.Store(t.Symbol, t)
	}
	b.tickers.Store(m)
}

// ReplaceFunding swaps the exchange's funding map for one built from fs.
func (s *Store) ReplaceFunding(exchange string, fs []model.FundingSnapshot) {
	b := s.book(exchange)
	m := make(fundingMap, len(fs))
	for _, f := range fs {
		f.Exchange = exchange
		m[f.Symbol] = f
	}
	b.funding.Store(&m)
}

// Tickers copies the exchange's ticker map. Unknown exchanges yield nil.
func (s *Store) Tickers(exchange string) map[model.Symbol]model.TickerSnapshot {
	b, ok := s.lookup(exchange)
	if !ok {
		return nil
	}
	out := make(map[model.Symbol]model.TickerSnapshot)
	b.tickers.Load().Range(func(k, v any) bool {
		out[k.(model.Symbol)] = v.(model.TickerSnapshot)
		return true
	})
	return out
}

// Funding copies the exchange's funding map. Unknown exchanges yield nil.
func (s *Store) Funding(exchange string) map[model.Symbol]model.FundingSnapshot {
	b, ok := s.lookup(exchange)
	if !ok {
		return nil
	}
	cur := *b.funding.Load()
	out := make(map[model.Symbol]model.FundingSnapshot, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}

// TickerList and FundingList are the slice forms used by the aggregation cycle.
func (s *Store) TickerList(exchange string) []model.TickerSnapshot {
	b, ok := s.lookup(exchange)
	if !ok {
		return nil
	}
	var out []model.TickerSnapshot
	b.tickers.Load().Range(func(_, v any) bool {
		out = append(out, v.(model.TickerSnapshot))
		return true
	})
	return out
}

func (s *Store) FundingList(exchange string) []model.FundingSnapshot {
	b, ok := s.lookup(exchange)
	if !ok {
		return nil
	}
	cur := *b.funding.Load()
	out := make([]model.FundingSnapshot, 0, len(cur))
	for _, v := range cur {
		out = append(out, v)
	}
	return out
}
