package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"perparb/internal/domain/model"
	"perparb/internal/infrastructure/marketdata"
	"perparb/internal/infrastructure/stats"

	"github.com/gorilla/websocket"
)

type fakeStream struct {
	url string
	hb  Heartbeat
}

func (f fakeStream) Endpoint() string { return f.url }

func (fakeStream) SubscribeFrames(ids []string) [][]byte {
	return [][]byte{[]byte(`{"sub":"` + strings.Join(ids, ",") + `"}`)}
}

func (fakeStream) ParseMessage(b []byte) (Frame, error) {
	if string(b) == "ping" {
		return Frame{Reply: []byte("pong")}, nil
	}
	var m struct{ S, B, A string }
	if err := json.Unmarshal(b, &m); err != nil {
		return Frame{}, err
	}
	bid, _ := ParseFloat(m.B)
	ask, _ := ParseFloat(m.A)
	return Frame{Tickers: []RawTicker{{Instrument: m.S, Bid: bid, Ask: ask}}}, nil
}

func (f fakeStream) Heartbeat() Heartbeat { return f.hb }

func wsServer(t *testing.T, handle func(c *websocket.Conn)) (string, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		defer c.Close()
		handle(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &conns
}

func drain(c *websocket.Conn) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func testAdapter(url string) *Adapter {
	return &Adapter{Name: "fake", Symbols: NewSymbolNormalizer(SymbolOptions{}), Stream: fakeStream{url: url}}
}

func runSession(t *testing.T, s *Session, ctx context.Context) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSessionNormalCloseDoesNotReconnect(t *testing.T) {
	url, conns := wsServer(t, func(c *websocket.Conn) {
		if _, _, err := c.ReadMessage(); err != nil { // subscribe
			return
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"s":"BTCUSDT","b":"100","a":"102"}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"s":"BTCEUR","b":"1","a":"2"}`))
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		drain(c)
	})

	store := marketdata.NewStore("fake")
	col := stats.NewCollector(nil)
	s, err := NewSession(testAdapter(url), SessionConfig{
		Instruments: []string{"BTCUSDT"},
		Reconnect:   ReconnectPolicy{Base: 10 * time.Millisecond, MaxAttempts: 5},
	}, store, col)
	if err != nil {
		t.Fatal(err)
	}

	waitDone(t, runSession(t, s, context.Background()))

	if s.State() != model.StateClosed {
		t.Fatalf("state = %s, want closed", s.State())
	}
	if n := conns.Load(); n != 1 {
		t.Fatalf("connections = %d, want 1", n)
	}
	tk := store.Tickers("fake")[model.NewSymbol("BTC", "USDT", "USDT")]
	if px, ok := tk.UsablePrice(); !ok || px != 101 {
		t.Fatalf("price = %v %v", px, ok)
	}
	c := col.Counters("fake", stats.CategoryTicker)
	if c.Success != 1 || c.Skipped != 1 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestSessionMalformedThresholdReconnectsUntilExhausted(t *testing.T) {
	url, conns := wsServer(t, func(c *websocket.Conn) {
		for i := 0; i < 3; i++ {
			_ = c.WriteMessage(websocket.TextMessage, []byte("not json"))
		}
		drain(c)
	})

	col := stats.NewCollector(nil)
	s, _ := NewSession(testAdapter(url), SessionConfig{
		MalformedThreshold: 3,
		Reconnect:          ReconnectPolicy{Base: 10 * time.Millisecond, MaxAttempts: 2},
	}, marketdata.NewStore(), col)

	waitDone(t, runSession(t, s, context.Background()))

	if s.State() != model.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", s.State())
	}
	// first connection plus two reconnects
	if n := conns.Load(); n != 3 {
		t.Fatalf("connections = %d, want 3", n)
	}
	if !strings.Contains(s.LastError(), KindProtocol.String()) {
		t.Fatalf("last error = %q", s.LastError())
	}
	if c := col.Counters("fake", stats.CategoryTicker); c.Error != 9 {
		t.Fatalf("malformed frames counted = %d, want 9", c.Error)
	}
}

func TestSessionWatchdogFlagsSilentConnection(t *testing.T) {
	url, _ := wsServer(t, drain)

	s, _ := NewSession(testAdapter(url), SessionConfig{
		MessageTimeout: 50 * time.Millisecond,
		Reconnect:      ReconnectPolicy{Base: 10 * time.Millisecond, MaxAttempts: 1},
	}, marketdata.NewStore(), nil)

	waitDone(t, runSession(t, s, context.Background()))

	if !strings.Contains(s.LastError(), KindStaleConnection.String()) {
		t.Fatalf("last error = %q", s.LastError())
	}
	if s.State() != model.StateDisconnected {
		t.Fatalf("state = %s", s.State())
	}
}

func TestSessionAbnormalCloseReconnects(t *testing.T) {
	url, conns := wsServer(t, func(c *websocket.Conn) {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
		drain(c)
	})

	s, _ := NewSession(testAdapter(url), SessionConfig{
		Reconnect: ReconnectPolicy{Base: 10 * time.Millisecond, MaxAttempts: 1},
	}, marketdata.NewStore(), nil)

	waitDone(t, runSession(t, s, context.Background()))

	if n := conns.Load(); n < 2 {
		t.Fatalf("connections = %d, want a reconnect after 1001", n)
	}
	if !strings.Contains(s.LastError(), KindTransport.String()) {
		t.Fatalf("last error = %q", s.LastError())
	}
	if s.State() != model.StateDisconnected {
		t.Fatalf("state = %s", s.State())
	}
}

func TestSessionDeadTransportUnderHeartbeat(t *testing.T) {
	url, conns := wsServer(t, func(c *websocket.Conn) {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		// drop TCP without a close frame
		_ = c.UnderlyingConn().Close()
	})

	a := &Adapter{Name: "fake", Symbols: NewSymbolNormalizer(SymbolOptions{}),
		Stream: fakeStream{url: url, hb: Heartbeat{Interval: 5 * time.Millisecond, Payload: []byte("ping")}}}
	s, _ := NewSession(a, SessionConfig{
		MessageTimeout: 5 * time.Second,
		Reconnect:      ReconnectPolicy{Base: 10 * time.Millisecond, MaxAttempts: 1},
	}, marketdata.NewStore(), nil)

	waitDone(t, runSession(t, s, context.Background()))

	if n := conns.Load(); n != 2 {
		t.Fatalf("connections = %d, want 2", n)
	}
	if e := s.LastError(); !strings.Contains(e, KindTransport.String()) {
		t.Fatalf("last error = %q", e)
	}
}

func TestHeartbeatWriteFailure(t *testing.T) {
	url, _ := wsServer(t, drain)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr := &transport{gen: 1, conn: conn}
	s, _ := NewSession(testAdapter(url), SessionConfig{}, marketdata.NewStore(), nil)

	if err := s.heartbeat(tr, Heartbeat{Payload: []byte("ping")}); err != nil {
		t.Fatalf("heartbeat on live conn: %v", err)
	}
	tr.close()
	if err := s.heartbeat(tr, Heartbeat{Payload: []byte("ping")}); err == nil {
		t.Fatal("text heartbeat on closed conn succeeded")
	}
	if err := s.heartbeat(tr, Heartbeat{}); err == nil {
		t.Fatal("control ping on closed conn succeeded")
	}
}

func TestSessionAnswersServerPing(t *testing.T) {
	got := make(chan string, 1)
	url, _ := wsServer(t, func(c *websocket.Conn) {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte("ping"))
		_, b, err := c.ReadMessage()
		if err == nil {
			got <- string(b)
		}
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		drain(c)
	})

	s, _ := NewSession(testAdapter(url), SessionConfig{
		Reconnect: ReconnectPolicy{Base: 10 * time.Millisecond, MaxAttempts: 1},
	}, marketdata.NewStore(), nil)
	waitDone(t, runSession(t, s, context.Background()))

	select {
	case b := <-got:
		if b != "pong" {
			t.Fatalf("reply = %q", b)
		}
	default:
		t.Fatal("no reply to server ping")
	}
	if s.State() != model.StateClosed {
		t.Fatalf("state = %s", s.State())
	}
}

func TestSessionPongsDoNotFeedWatchdog(t *testing.T) {
	// drain answers control pings with pongs but never sends data
	url, _ := wsServer(t, drain)

	a := &Adapter{Name: "fake", Symbols: NewSymbolNormalizer(SymbolOptions{}),
		Stream: fakeStream{url: url, hb: Heartbeat{Interval: 10 * time.Millisecond}}}
	s, _ := NewSession(a, SessionConfig{
		MessageTimeout: 80 * time.Millisecond,
		Reconnect:      ReconnectPolicy{Base: 10 * time.Millisecond, MaxAttempts: 1},
	}, marketdata.NewStore(), nil)

	waitDone(t, runSession(t, s, context.Background()))

	if !strings.Contains(s.LastError(), KindStaleConnection.String()) {
		t.Fatalf("last error = %q", s.LastError())
	}
}

func TestSessionRotationIgnoresRetiredTransport(t *testing.T) {
	url, conns := wsServer(t, func(c *websocket.Conn) {
		stop := make(chan struct{})
		go func() {
			drain(c)
			close(stop)
		}()
		tk := time.NewTicker(10 * time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				if err := c.WriteMessage(websocket.TextMessage, []byte(`{"s":"ETHUSDT","b":"10","a":"10"}`)); err != nil {
					return
				}
			}
		}
	})

	s, _ := NewSession(testAdapter(url), SessionConfig{
		MaxConnLifetime: 80 * time.Millisecond,
		MessageTimeout:  time.Second,
		Reconnect:       ReconnectPolicy{Base: 10 * time.Millisecond, MaxAttempts: 1},
	}, marketdata.NewStore(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := runSession(t, s, ctx)

	time.Sleep(250 * time.Millisecond)
	if s.State() != model.StateConnected {
		t.Fatalf("state during rotation = %s", s.State())
	}
	waitDone(t, done)

	if n := conns.Load(); n < 2 {
		t.Fatalf("connections = %d, want rotation", n)
	}
	if e := s.LastError(); e != "" {
		t.Fatalf("rotation produced an error: %s", e)
	}
	if s.State() != model.StateClosed {
		t.Fatalf("state = %s, want closed", s.State())
	}
}

type fakePoller struct {
	calls atomic.Int32
	fail  bool
}

func (p *fakePoller) FetchTickers(context.Context) ([]RawTicker, error) {
	p.calls.Add(1)
	if p.fail {
		return nil, NewError(KindUpstreamServer, "fake", "tickers", errors.New("503"))
	}
	return []RawTicker{
		{Instrument: "BTC_USDT", Last: 100},
		{Instrument: "ETH_USDT", Last: 10},
		{Instrument: "BTCUSDT", Last: 1},
	}, nil
}

func TestPollSessionReplacesTickers(t *testing.T) {
	p := &fakePoller{}
	store := marketdata.NewStore("mexc")
	col := stats.NewCollector(nil)
	a := &Adapter{Name: "mexc", Symbols: NewSymbolNormalizer(SymbolOptions{Separator: "_"}), Poller: p}
	s, _ := NewSession(a, SessionConfig{
		Instruments:  []string{"BTC_USDT", "BTCUSDT"},
		PollInterval: 20 * time.Millisecond,
	}, store, col)

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()
	waitDone(t, runSession(t, s, ctx))

	got := store.Tickers("mexc")
	if len(got) != 1 {
		t.Fatalf("tickers = %+v", got)
	}
	if p.calls.Load() < 2 {
		t.Fatalf("poller called %d times", p.calls.Load())
	}
	if c := col.Counters("mexc", stats.CategoryTicker); c.Skipped == 0 {
		t.Fatalf("unmappable ticker not counted as skipped: %+v", c)
	}
}

func TestPollSessionGivesUpAfterMaxAttempts(t *testing.T) {
	p := &fakePoller{fail: true}
	a := &Adapter{Name: "mexc", Symbols: NewSymbolNormalizer(SymbolOptions{Separator: "_"}), Poller: p}
	s, _ := NewSession(a, SessionConfig{
		Reconnect: ReconnectPolicy{Base: time.Millisecond, MaxAttempts: 3},
	}, marketdata.NewStore(), nil)

	waitDone(t, runSession(t, s, context.Background()))

	if p.calls.Load() != 4 {
		t.Fatalf("calls = %d, want 4", p.calls.Load())
	}
	if s.State() != model.StateDisconnected {
		t.Fatalf("state = %s", s.State())
	}
}

func TestNewSessionRejectsIncompleteAdapter(t *testing.T) {
	if _, err := NewSession(&Adapter{Name: "x", Symbols: NewSymbolNormalizer(SymbolOptions{})}, SessionConfig{}, marketdata.NewStore(), nil); err == nil {
		t.Fatal("adapter without stream or poller accepted")
	}
}
