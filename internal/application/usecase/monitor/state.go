package monitor

import (
	"sync"

	"perparb/internal/domain/model"
)

type Dir int

const (
	DirSame Dir = 0
	DirUp   Dir = +1
	DirDown Dir = -1
)

// State 记录每个币种上一周期的价差，用于显示涨跌方向
type State struct {
	mu     sync.Mutex
	spread map[string]float64
	dir    map[string]Dir
}

func NewState() *State {
	return &State{spread: make(map[string]float64), dir: make(map[string]Dir)}
}

// Apply folds one cycle in. Bases missing from the cycle are forgotten.
func (s *State) Apply(res *model.Result) {
	if res == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]float64, len(res.Opportunities))
	dir := make(map[string]Dir, len(res.Opportunities))
	for _, o := range res.Opportunities {
		next[o.Base] = o.PriceSpreadPct
		prev, ok := s.spread[o.Base]
		switch {
		case !ok || o.PriceSpreadPct == prev:
			dir[o.Base] = DirSame
		case o.PriceSpreadPct > prev:
			dir[o.Base] = DirUp
		default:
			dir[o.Base] = DirDown
		}
	}
	s.spread, s.dir = next, dir
}

func (s *State) Dir(base string) Dir {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir[base]
}
