package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"perparb/internal/application/port"
	"perparb/internal/domain/model"

	"github.com/rs/zerolog/log"
)

type ServiceDeps struct {
	Sink          port.Sink
	PrintEveryMin int
	TopN          int
	Threshold     float64
	Live          bool
}

// Service prints engine results to the console: an optional live line per cycle
// and a top-N block every PrintEveryMin minutes.
type Service struct {
	deps   ServiceDeps
	st     *State
	fmt    *Formatter
	latest atomic.Pointer[model.Result]
}

func NewService(deps ServiceDeps) *Service {
	if deps.PrintEveryMin <= 0 {
		deps.PrintEveryMin = 5
	}
	return &Service{
		deps: deps,
		st:   NewState(),
		fmt:  NewFormatter(deps.TopN, deps.Threshold),
	}
}

// Publish implements port.Publisher.
func (s *Service) Publish(res *model.Result) {
	s.st.Apply(res)
	s.latest.Store(res)
	if s.deps.Live {
		if err := s.deps.Sink.WriteLive(s.fmt.Live(res, s.st)); err != nil {
			log.Debug().Err(err).Msg("console live write failed")
		}
	}
}

// PrintSnapshot writes the current top-N block.
func (s *Service) PrintSnapshot(now time.Time) error {
	return s.deps.Sink.WriteSnapshot(now, s.fmt.Snapshot(s.latest.Load(), s.st))
}

func (s *Service) Run(ctx context.Context) error {
	tk := time.NewTicker(time.Duration(s.deps.PrintEveryMin) * time.Minute)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.deps.Sink.NewLine()
			return ctx.Err()
		case now := <-tk.C:
			if err := s.PrintSnapshot(now); err != nil {
				log.Warn().Err(err).Msg("console snapshot write failed")
			}
		}
	}
}

var _ port.Publisher = (*Service)(nil)
