package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"perparb/internal/domain/model"
	"perparb/internal/infrastructure/stats"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Store is the write side of the market data store.
type Store interface {
	PutTicker(t model.TickerSnapshot)
	ReplaceTickers(exchange string, ts []model.TickerSnapshot)
	ReplaceFunding(exchange string, fs []model.FundingSnapshot)
}

// Recorder receives per-record outcomes.
type Recorder interface {
	Record(exchange string, cat stats.Category, outcome stats.Outcome, n int)
}

type SessionConfig struct {
	Instruments        []string
	Reconnect          ReconnectPolicy
	DialTimeout        time.Duration
	MessageTimeout     time.Duration // no inbound frame for this long -> stale
	MalformedThreshold int           // consecutive unparsable frames -> protocol error
	MaxConnLifetime    time.Duration // rotate the connection before this age
	SubscribePause     time.Duration // between subscribe frames
	PollInterval       time.Duration // ticker poll cadence for REST venues
	ProxyURL           string
}

func (c *SessionConfig) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = 30 * time.Second
	}
	if c.MalformedThreshold <= 0 {
		c.MalformedThreshold = 20
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Reconnect.Base <= 0 {
		c.Reconnect = DefaultReconnectPolicy()
	}
}

// errNormalClosure ends the session without reconnecting.
var errNormalClosure = errors.New("closed by peer (1000)")

type frameEvent struct {
	gen  uint64
	data []byte
	err  error
}

type transport struct {
	gen  uint64
	conn *websocket.Conn
}

func (t *transport) close() { _ = t.conn.Close() }

// Session 单个交易所的连接状态机
// It owns the transport, the reconnect loop and the ticker half of the store for
// its exchange. State moves only inside Run.
type Session struct {
	adapter *Adapter
	cfg     SessionConfig
	store   Store
	stats   Recorder
	now     func() time.Time

	wanted map[string]struct{} // poll venues return everything; keep these

	state   atomic.Int32
	gen     atomic.Uint64
	lastErr atomic.Pointer[string]
}

func NewSession(adapter *Adapter, cfg SessionConfig, store Store, rec Recorder) (*Session, error) {
	if err := adapter.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("nil store")
	}
	cfg.applyDefaults()
	if cfg.MaxConnLifetime <= 0 {
		cfg.MaxConnLifetime = adapter.MaxConnLifetime
	}
	s := &Session{adapter: adapter, cfg: cfg, store: store, stats: rec, now: time.Now}
	if len(cfg.Instruments) > 0 {
		s.wanted = make(map[string]struct{}, len(cfg.Instruments))
		for _, id := range cfg.Instruments {
			s.wanted[id] = struct{}{}
		}
	}
	s.state.Store(int32(model.StateDisconnected))
	return s, nil
}

func (s *Session) Name() string { return s.adapter.Name }

func (s *Session) State() model.ConnectionState {
	return model.ConnectionState(s.state.Load())
}

// LastError is the most recent failure, empty if none.
func (s *Session) LastError() string {
	if p := s.lastErr.Load(); p != nil {
		return *p
	}
	return ""
}

func (s *Session) setState(st model.ConnectionState) {
	prev := model.ConnectionState(s.state.Swap(int32(st)))
	if prev != st {
		log.Debug().Str("exchange", s.Name()).Str("from", prev.String()).Str("to", st.String()).Msg("session state")
	}
}

func (s *Session) setErr(err error) {
	msg := err.Error()
	s.lastErr.Store(&msg)
}

func (s *Session) record(cat stats.Category, outcome stats.Outcome, n int) {
	if s.stats != nil {
		s.stats.Record(s.Name(), cat, outcome, n)
	}
}

// Run blocks until ctx is done, the peer closes normally, or the reconnect
// budget is exhausted. Failures are logged and reflected in State.
func (s *Session) Run(ctx context.Context) {
	once := s.streamOnce
	if s.adapter.Stream == nil {
		once = s.pollOnce
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			s.setState(model.StateClosed)
			return
		}
		if attempt == 0 {
			s.setState(model.StateConnecting)
		} else {
			s.setState(model.StateReconnecting)
		}

		connected, err := once(ctx, func() { attempt = 0 })
		if ctx.Err() != nil {
			s.setState(model.StateClosed)
			return
		}
		if errors.Is(err, errNormalClosure) {
			log.Info().Str("exchange", s.Name()).Msg("closed by exchange, not reconnecting")
			s.setState(model.StateClosed)
			return
		}
		if err != nil {
			s.setErr(err)
		}

		attempt++
		if s.cfg.Reconnect.Exhausted(attempt) {
			log.Error().Str("exchange", s.Name()).Int("attempts", attempt).Err(err).Msg("reconnect budget exhausted, giving up")
			s.setState(model.StateDisconnected)
			return
		}
		delay := s.cfg.Reconnect.Delay(attempt, err)
		log.Warn().Str("exchange", s.Name()).Bool("was_connected", connected).Int("attempt", attempt).
			Str("kind", KindOf(err).String()).Dur("delay", delay).Err(err).Msg("disconnected, reconnecting")
		s.setState(model.StateReconnecting)
		if !sleep(ctx, delay) {
			s.setState(model.StateClosed)
			return
		}
	}
}

func (s *Session) dialer() (*websocket.Dialer, error) {
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = s.cfg.DialTimeout
	if s.cfg.ProxyURL != "" {
		u, err := url.Parse(s.cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		d.Proxy = http.ProxyURL(u)
	}
	return &d, nil
}

// open dials and subscribes one transport generation; its reader goroutine feeds
// events until done is closed.
func (s *Session) open(ctx context.Context, events chan<- frameEvent, done <-chan struct{}) (*transport, error) {
	d, err := s.dialer()
	if err != nil {
		return nil, NewError(KindTransport, s.Name(), "dial", err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	conn, resp, err := d.DialContext(cctx, s.adapter.Stream.Endpoint(), nil)
	cancel()
	if err != nil {
		if resp != nil {
			e := StatusError(s.Name(), "dial", resp.StatusCode, nil)
			e.Err = err
			return nil, e
		}
		return nil, NewError(KindTransport, s.Name(), "dial", err)
	}

	t := &transport{gen: s.gen.Add(1), conn: conn}
	for i, frame := range s.adapter.Stream.SubscribeFrames(s.cfg.Instruments) {
		if i > 0 && !sleep(ctx, s.cfg.SubscribePause) {
			t.close()
			return nil, ctx.Err()
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.close()
			return nil, NewError(KindTransport, s.Name(), "subscribe", err)
		}
	}

	send := func(ev frameEvent) bool {
		select {
		case events <- ev:
			return true
		case <-done:
			return false
		}
	}
	go func() {
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				send(frameEvent{gen: t.gen, err: err})
				return
			}
			if !send(frameEvent{gen: t.gen, data: b}) {
				return
			}
		}
	}()
	return t, nil
}

func (s *Session) streamOnce(ctx context.Context, onConnected func()) (bool, error) {
	events := make(chan frameEvent, 256)
	done := make(chan struct{})
	defer close(done)

	cur, err := s.open(ctx, events, done)
	if err != nil {
		return false, err
	}
	onConnected()
	s.setState(model.StateConnected)
	log.Info().Str("exchange", s.Name()).Uint64("gen", cur.gen).Int("instruments", len(s.cfg.Instruments)).Msg("ws connected")

	stale := time.NewTimer(s.cfg.MessageTimeout)
	defer stale.Stop()

	var hbC <-chan time.Time
	hb := s.adapter.Stream.Heartbeat()
	if hb.Interval > 0 {
		tk := time.NewTicker(hb.Interval)
		defer tk.Stop()
		hbC = tk.C
	}

	var rotateC <-chan time.Time
	var rotate *time.Timer
	if s.cfg.MaxConnLifetime > 0 {
		rotate = time.NewTimer(s.cfg.MaxConnLifetime)
		defer rotate.Stop()
		rotateC = rotate.C
	}

	malformed := 0
	for {
		select {
		case <-ctx.Done():
			_ = cur.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			cur.close()
			return true, ctx.Err()

		case ev := <-events:
			if ev.gen != cur.gen {
				continue // retired transport
			}
			if ev.err != nil {
				cur.close()
				if websocket.IsCloseError(ev.err, websocket.CloseNormalClosure) {
					return true, errNormalClosure
				}
				return true, NewError(KindTransport, s.Name(), "read", ev.err)
			}
			// control-frame pongs never reach here, so a connection that only
			// answers pings still goes stale
			stale.Reset(s.cfg.MessageTimeout)
			ok, werr := s.handleFrame(cur, ev.data)
			if werr != nil {
				cur.close()
				return true, NewError(KindTransport, s.Name(), "reply", werr)
			}
			if ok {
				malformed = 0
				continue
			}
			malformed++
			if malformed >= s.cfg.MalformedThreshold {
				cur.close()
				return true, NewError(KindProtocol, s.Name(), "read",
					fmt.Errorf("%d consecutive malformed frames", malformed))
			}

		case <-stale.C:
			cur.close()
			return true, NewError(KindStaleConnection, s.Name(), "watchdog",
				fmt.Errorf("no message for %s", s.cfg.MessageTimeout))

		case <-hbC:
			if err := s.heartbeat(cur, hb); err != nil {
				cur.close()
				return true, NewError(KindTransport, s.Name(), "heartbeat", err)
			}

		case <-rotateC:
			// make before break: the old generation is closed only once the new
			// one is subscribed, and its trailing events are ignored.
			next, err := s.open(ctx, events, done)
			if err != nil {
				log.Warn().Str("exchange", s.Name()).Err(err).Msg("connection rotation failed, keeping current")
				rotate.Reset(time.Minute)
				continue
			}
			old := cur
			cur = next
			old.close()
			malformed = 0
			stale.Reset(s.cfg.MessageTimeout)
			rotate.Reset(s.cfg.MaxConnLifetime)
			log.Info().Str("exchange", s.Name()).Uint64("gen", cur.gen).Msg("ws connection rotated")
		}
	}
}

func (s *Session) heartbeat(t *transport, hb Heartbeat) error {
	deadline := time.Now().Add(5 * time.Second)
	if hb.Payload == nil {
		return t.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline)
	}
	_ = t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(websocket.TextMessage, hb.Payload)
}

// handleFrame reports false when the frame could not be parsed. A non-nil
// error means the reply could not be written and the transport is dead.
func (s *Session) handleFrame(t *transport, b []byte) (bool, error) {
	fr, err := s.adapter.Stream.ParseMessage(b)
	if err != nil {
		s.record(stats.CategoryTicker, stats.OutcomeError, 1)
		log.Debug().Str("exchange", s.Name()).Err(err).Msg("malformed frame")
		return false, nil
	}
	if len(fr.Reply) > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := t.conn.WriteMessage(websocket.TextMessage, fr.Reply); err != nil {
			return true, err
		}
	}
	s.record(stats.CategoryTicker, stats.OutcomeError, fr.Invalid)
	for _, rt := range fr.Tickers {
		if snap, ok := s.normalizeTicker(rt); ok {
			s.store.PutTicker(snap)
		}
	}
	return true, nil
}

func (s *Session) normalizeTicker(rt RawTicker) (model.TickerSnapshot, bool) {
	sym, err := s.adapter.Symbols.Normalize(rt.Instrument)
	if err != nil {
		s.record(stats.CategoryTicker, stats.OutcomeSkipped, 1)
		return model.TickerSnapshot{}, false
	}
	ts := rt.Timestamp
	if ts <= 0 {
		ts = s.now().UnixMilli()
	}
	s.record(stats.CategoryTicker, stats.OutcomeSuccess, 1)
	return model.TickerSnapshot{
		Exchange:    s.Name(),
		Symbol:      sym,
		Bid:         rt.Bid,
		Ask:         rt.Ask,
		Last:        rt.Last,
		BaseVolume:  rt.BaseVolume,
		QuoteVolume: rt.QuoteVolume,
		Timestamp:   ts,
	}, true
}

// pollOnce keeps polling until a fetch fails.
func (s *Session) pollOnce(ctx context.Context, onConnected func()) (bool, error) {
	connected := false
	tk := time.NewTicker(s.cfg.PollInterval)
	defer tk.Stop()
	for {
		raws, err := s.adapter.Poller.FetchTickers(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return connected, ctx.Err()
			}
			s.record(stats.CategoryTicker, stats.OutcomeError, 1)
			return connected, err
		}
		snaps := make([]model.TickerSnapshot, 0, len(raws))
		for _, rt := range raws {
			if s.wanted != nil {
				if _, ok := s.wanted[rt.Instrument]; !ok {
					continue
				}
			}
			if snap, ok := s.normalizeTicker(rt); ok {
				snaps = append(snaps, snap)
			}
		}
		s.store.ReplaceTickers(s.Name(), snaps)
		if !connected {
			connected = true
			onConnected()
			s.setState(model.StateConnected)
			log.Info().Str("exchange", s.Name()).Int("tickers", len(snaps)).Msg("poller connected")
		}
		select {
		case <-ctx.Done():
			return connected, ctx.Err()
		case <-tk.C:
		}
	}
}
