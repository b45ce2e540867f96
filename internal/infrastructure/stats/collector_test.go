package stats

import (
	"sync"
	"testing"
)

type countingObserver struct {
	mu sync.Mutex
	n  map[Outcome]int
}

func (o *countingObserver) Observe(_ string, _ Category, outcome Outcome, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.n == nil {
		o.n = make(map[Outcome]int)
	}
	o.n[outcome] += n
}

func TestCollectorRecordConcurrent(t *testing.T) {
	obs := &countingObserver{}
	c := NewCollector(obs)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Success("binance", CategoryTicker)
				c.Skipped("binance", CategoryTicker)
			}
		}()
	}
	wg.Wait()
	c.Error("binance", CategoryFunding)

	got := c.Counters("binance", CategoryTicker)
	if got.Success != 800 || got.Skipped != 800 || got.Error != 0 {
		t.Fatalf("unexpected ticker counters: %+v", got)
	}
	if got.LastUpdate.IsZero() {
		t.Fatalf("last update not set")
	}
	if f := c.Counters("binance", CategoryFunding); f.Error != 1 {
		t.Fatalf("funding error = %d, want 1", f.Error)
	}
	if obs.n[OutcomeSuccess] != 800 || obs.n[OutcomeError] != 1 {
		t.Fatalf("observer saw %+v", obs.n)
	}
	if z := c.Counters("okx", CategoryTicker); z.Success != 0 || !z.LastUpdate.IsZero() {
		t.Fatalf("unknown exchange should be zero: %+v", z)
	}
}

func TestDeltaClampsResetCounters(t *testing.T) {
	prev := Snapshot{
		"bybit": {CategoryTicker: {Success: 100, Error: 5, Skipped: 2}},
	}
	cur := Snapshot{
		"bybit": {CategoryTicker: {Success: 40, Error: 7, Skipped: 2}},
		"okx":   {CategoryFunding: {Success: 3}},
	}
	d := Delta(prev, cur)

	if got := d["bybit"][CategoryTicker]; got.Success != 0 || got.Error != 2 || got.Skipped != 0 {
		t.Fatalf("bybit delta = %+v", got)
	}
	if got := d["okx"][CategoryFunding]; got.Success != 3 {
		t.Fatalf("okx delta = %+v", got)
	}
}

func TestSnapshotExchangesSorted(t *testing.T) {
	c := NewCollector(nil)
	c.Success("okx", CategoryTicker)
	c.Success("binance", CategoryFunding)
	c.Record("bybit", CategoryTicker, OutcomeSuccess, 0)

	ex := c.Snapshot().Exchanges()
	if len(ex) != 2 || ex[0] != "binance" || ex[1] != "okx" {
		t.Fatalf("exchanges = %v", ex)
	}
}
