package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"perparb/internal/application/port"
	"perparb/internal/domain/model"
	"perparb/internal/infrastructure/config"
	"perparb/internal/infrastructure/exchange"
	"perparb/internal/infrastructure/marketdata"
	"perparb/internal/infrastructure/stats"
)

// StateObserver is told the state of every session once per StateInterval.
type StateObserver interface {
	SetConnectionState(exchange string, st model.ConnectionState)
}

type Deps struct {
	Store  *marketdata.Store
	Stats  *stats.Collector
	Repo   port.Repository // optional latest-state persistence
	States StateObserver   // optional
}

// StateInterval is how often session states are pushed to the StateObserver.
var StateInterval = time.Second

const persistTimeout = 5 * time.Second

type connector struct {
	session *exchange.Session
	funding *exchange.FundingRefresher
}

// Manager 统一管理所有已启用交易所的会话与资金费率刷新
// 单个交易所初始化失败时继续初始化其余交易所
type Manager struct {
	order []string
	conns map[string]*connector
	deps  Deps
}

// NewManager builds one session (and funding refresher when the venue has a
// funding source) per enabled exchange. It fails only when no exchange could be
// built.
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("connector manager: nil store")
	}
	m := &Manager{conns: make(map[string]*connector), deps: deps}

	enabled := cfg.GetEnabledExchanges()
	var failed []string
	for _, name := range enabled {
		c, err := m.build(cfg, name)
		if err != nil {
			log.Error().Err(err).Str("exchange", name).Msg("failed to initialize connector")
			failed = append(failed, name)
			continue
		}
		m.order = append(m.order, name)
		m.conns[name] = c
		// registration order is the aggregation tie-break order
		deps.Store.Register(name)
	}

	if len(m.order) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoConnectors, failed)
	}
	if len(failed) > 0 {
		log.Warn().Strs("failed_exchanges", failed).Msg("some exchanges failed to initialize, continuing with the rest")
	}
	return m, nil
}

func (m *Manager) build(cfg *config.Config, name string) (*connector, error) {
	exCfg := cfg.Exchanges[name]
	cc := cfg.ConnectorFor(name)

	adapter, err := exchange.New(name, exchange.Options{
		WSURL:     exCfg.WsURL,
		RESTURL:   exCfg.RestURL,
		Timeout:   config.Ms(cc.TimeoutMs),
		ProxyURL:  cc.ProxyURL,
		Quotes:    cfg.Symbols.Quotes,
		Aliases:   cfg.Symbols.QuoteAliases,
		BatchSize: cc.SubscribeBatchSize,
	})
	if err != nil {
		return nil, err
	}

	instruments := exchange.Instruments(adapter.Symbols, cfg.Symbols.List, cfg.Symbols.Quotes)
	if len(instruments) == 0 {
		return nil, fmt.Errorf("no instruments for %s", name)
	}

	var rec exchange.Recorder
	if m.deps.Stats != nil {
		rec = m.deps.Stats
	}

	sess, err := exchange.NewSession(adapter, exchange.SessionConfig{
		Instruments: instruments,
		Reconnect: exchange.ReconnectPolicy{
			Base:        config.Ms(cc.ReconnectBaseMs),
			Max:         config.Ms(cc.ReconnectMaxMs),
			Jitter:      config.Ms(cc.ReconnectJitterMs),
			MaxAttempts: cc.MaxReconnectAttempts,
		},
		DialTimeout:        config.Ms(cc.TimeoutMs),
		MessageTimeout:     config.Ms(cc.MessageTimeoutMs),
		MalformedThreshold: cc.MalformedThreshold,
		MaxConnLifetime:    time.Duration(cc.MaxConnLifetimeMin) * time.Minute,
		SubscribePause:     config.Ms(cc.SubscribePauseMs),
		PollInterval:       config.Ms(cc.FetchIntervalMs),
		ProxyURL:           cc.ProxyURL,
	}, m.deps.Store, rec)
	if err != nil {
		return nil, err
	}
	c := &connector{session: sess}

	if adapter.Funding != nil {
		fr, err := exchange.NewFundingRefresher(adapter, instruments, exchange.FundingConfig{
			Interval:          config.Ms(cc.FundingIntervalMs),
			BatchSize:         cc.BatchSize,
			Concurrency:       cc.Concurrency,
			BatchPause:        config.Ms(cc.BatchPauseMs),
			RequestsPerSecond: cc.RequestsPerSecond,
			RetryAttempts:     cc.RetryAttempts,
		}, m.deps.Store, rec)
		if err != nil {
			return nil, err
		}
		if m.deps.Repo != nil {
			fr.OnRefresh = m.persist
		}
		c.funding = fr
	}

	log.Info().Str("exchange", name).Int("instruments", len(instruments)).
		Bool("stream", adapter.Stream != nil).Bool("funding", c.funding != nil).
		Msg("✓ connector initialized")
	return c, nil
}

func (m *Manager) persist(ex string, fs []model.FundingSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.deps.Repo.UpsertFunding(ctx, ex, fs); err != nil {
		log.Warn().Err(err).Str("exchange", ex).Msg("persist funding failed")
	}
}

// WarmStart seeds each funding map from the repository so the first cycles have
// funding before the first refresh lands.
func (m *Manager) WarmStart(ctx context.Context) {
	if m.deps.Repo == nil {
		return
	}
	for _, name := range m.order {
		if m.conns[name].funding == nil {
			continue
		}
		fs, err := m.deps.Repo.LoadFunding(ctx, name)
		if err != nil {
			log.Warn().Err(err).Str("exchange", name).Msg("warm start: load funding failed")
			continue
		}
		if len(fs) == 0 {
			continue
		}
		m.deps.Store.ReplaceFunding(name, fs)
		log.Info().Str("exchange", name).Int("records", len(fs)).Msg("warm start: funding restored")
	}
}

// Run starts every session and refresher and blocks until all of them return.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range m.order {
		c := m.conns[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.session.Run(ctx)
		}()
		if c.funding != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.funding.Run(ctx)
			}()
		}
	}
	if m.deps.States != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.reportStates(ctx)
		}()
	}
	wg.Wait()
	m.pushStates()
	log.Info().Msg("all connectors stopped")
}

func (m *Manager) reportStates(ctx context.Context) {
	tk := time.NewTicker(StateInterval)
	defer tk.Stop()
	for {
		m.pushStates()
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}
	}
}

func (m *Manager) pushStates() {
	if m.deps.States == nil {
		return
	}
	for _, name := range m.order {
		m.deps.States.SetConnectionState(name, m.conns[name].session.State())
	}
}

// Exchanges lists the running connectors in comparison order.
func (m *Manager) Exchanges() []string {
	return append([]string(nil), m.order...)
}

func (m *Manager) ConnectionState(ex string) (model.ConnectionState, bool) {
	c, ok := m.conns[ex]
	if !ok {
		return model.StateDisconnected, false
	}
	return c.session.State(), true
}

// Status is the externally visible health of one exchange.
type Status struct {
	Exchange    string                            `json:"exchange"`
	State       model.ConnectionState             `json:"state"`
	Counters    map[stats.Category]stats.Counters `json:"counters"`
	LastError   string                            `json:"last_error,omitempty"`
	LastFunding time.Time                         `json:"last_funding_refresh,omitzero"`
}

// ExchangeStatus returns the connection state and ingestion counters of ex.
func (m *Manager) ExchangeStatus(ex string) (Status, bool) {
	c, ok := m.conns[ex]
	if !ok {
		return Status{}, false
	}
	st := Status{
		Exchange:  ex,
		State:     c.session.State(),
		LastError: c.session.LastError(),
		Counters:  make(map[stats.Category]stats.Counters, 2),
	}
	if m.deps.Stats != nil {
		st.Counters[stats.CategoryTicker] = m.deps.Stats.Counters(ex, stats.CategoryTicker)
		st.Counters[stats.CategoryFunding] = m.deps.Stats.Counters(ex, stats.CategoryFunding)
	}
	if c.funding != nil {
		st.LastFunding = c.funding.LastSuccess()
	}
	return st, true
}
