package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"perparb/internal/infrastructure/exchange"
)

const defaultStreamsPerFrame = 50

// Stream speaks the futures market stream protocol: SUBSCRIBE frames for
// <symbol>@bookTicker and <symbol>@miniTicker on a raw /ws connection.
type Stream struct {
	wsURL     string
	batchSize int
	reqID     atomic.Int64
}

func NewStream(wsURL string, batchSize int) *Stream {
	if batchSize <= 0 {
		batchSize = defaultStreamsPerFrame
	}
	return &Stream{wsURL: strings.TrimSpace(wsURL), batchSize: batchSize}
}

func (s *Stream) Endpoint() string { return s.wsURL }

// Heartbeat: the server pings every few minutes and gorilla answers those by
// default; our own pings keep intermediaries from idling the connection out.
func (s *Stream) Heartbeat() exchange.Heartbeat {
	return exchange.Heartbeat{Interval: 25 * time.Second}
}

type subReq struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (s *Stream) SubscribeFrames(instruments []string) [][]byte {
	streams := make([]string, 0, len(instruments)*2)
	for _, id := range instruments {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		streams = append(streams, id+"@bookTicker", id+"@miniTicker")
	}
	var out [][]byte
	for _, batch := range exchange.Chunk(streams, s.batchSize) {
		b, _ := json.Marshal(subReq{Method: "SUBSCRIBE", Params: batch, ID: s.reqID.Add(1)})
		out = append(out, b)
	}
	return out
}

// event covers bookTicker and 24hrMiniTicker payloads. Upper- and lower-case
// keys are distinct fields on the wire, so both are declared.
type event struct {
	Type      string `json:"e"`
	EventTime int64  `json:"E"`
	TxTime    int64  `json:"T"`
	Symbol    string `json:"s"`
	UpdateID  int64  `json:"u"`
	Bid       string `json:"b"`
	BidQty    string `json:"B"`
	Ask       string `json:"a"`
	AskQty    string `json:"A"`
	Close     string `json:"c"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	QuoteVol  string `json:"q"`

	// subscription replies
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

func (s *Stream) ParseMessage(b []byte) (exchange.Frame, error) {
	var ev event
	if err := json.Unmarshal(b, &ev); err != nil {
		return exchange.Frame{}, fmt.Errorf("binance: %w", err)
	}
	if ev.Error != nil {
		return exchange.Frame{}, fmt.Errorf("binance: error %d: %s", ev.Error.Code, ev.Error.Msg)
	}
	if ev.ID != nil && ev.Type == "" {
		return exchange.Frame{}, nil // subscription ack
	}

	ts := ev.EventTime
	if ev.TxTime > 0 {
		ts = ev.TxTime
	}
	rt := exchange.RawTicker{Instrument: strings.ToUpper(ev.Symbol), Timestamp: ts}

	switch ev.Type {
	case "bookTicker":
		bid, okB := exchange.ParseFloat(ev.Bid)
		ask, okA := exchange.ParseFloat(ev.Ask)
		if rt.Instrument == "" || !okB || !okA {
			return exchange.Frame{Invalid: 1}, nil
		}
		rt.Bid, rt.Ask = bid, ask
	case "24hrMiniTicker":
		last, ok := exchange.ParseFloat(ev.Close)
		if rt.Instrument == "" || !ok {
			return exchange.Frame{Invalid: 1}, nil
		}
		rt.Last = last
		rt.BaseVolume, _ = exchange.ParseFloat(ev.Volume)
		rt.QuoteVolume, _ = exchange.ParseFloat(ev.QuoteVol)
	default:
		return exchange.Frame{}, fmt.Errorf("binance: unexpected event %q", ev.Type)
	}
	return exchange.Frame{Tickers: []exchange.RawTicker{rt}}, nil
}
