package bybit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"perparb/internal/infrastructure/exchange"
)

// topics per subscribe request; the v5 public stream rejects more than 10 args
const defaultArgsPerFrame = 10

// Stream 订阅 tickers.<symbol>，首帧为 snapshot，之后为 delta
type Stream struct {
	wsURL     string
	batchSize int
}

func NewStream(wsURL string, batchSize int) *Stream {
	if batchSize <= 0 || batchSize > defaultArgsPerFrame {
		batchSize = defaultArgsPerFrame
	}
	return &Stream{wsURL: strings.TrimSpace(wsURL), batchSize: batchSize}
}

func (s *Stream) Endpoint() string { return s.wsURL }

func (s *Stream) Heartbeat() exchange.Heartbeat {
	return exchange.Heartbeat{Interval: 20 * time.Second, Payload: []byte(`{"op":"ping"}`)}
}

type subReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (s *Stream) SubscribeFrames(instruments []string) [][]byte {
	topics := make([]string, 0, len(instruments))
	for _, id := range instruments {
		if id = strings.ToUpper(strings.TrimSpace(id)); id != "" {
			topics = append(topics, "tickers."+id)
		}
	}
	var out [][]byte
	for _, batch := range exchange.Chunk(topics, s.batchSize) {
		b, _ := json.Marshal(subReq{Op: "subscribe", Args: batch})
		out = append(out, b)
	}
	return out
}

type tickerData struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	Bid1Price   string `json:"bid1Price"`
	Ask1Price   string `json:"ask1Price"`
	Volume24h   string `json:"volume24h"`
	Turnover24h string `json:"turnover24h"`
}

type message struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Op      string `json:"op,omitempty"`
}

func (s *Stream) ParseMessage(b []byte) (exchange.Frame, error) {
	var msg message
	if err := json.Unmarshal(b, &msg); err != nil {
		return exchange.Frame{}, fmt.Errorf("bybit: %w", err)
	}
	if msg.Op != "" {
		// subscribe ack / pong
		if msg.Success != nil && !*msg.Success {
			return exchange.Frame{}, fmt.Errorf("bybit: %s failed: %s", msg.Op, msg.RetMsg)
		}
		return exchange.Frame{}, nil
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") {
		return exchange.Frame{}, fmt.Errorf("bybit: unexpected topic %q", msg.Topic)
	}

	var d tickerData
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		return exchange.Frame{}, fmt.Errorf("bybit: ticker data: %w", err)
	}
	if d.Symbol == "" {
		return exchange.Frame{Invalid: 1}, nil
	}
	// delta frames only carry the fields that changed
	rt := exchange.RawTicker{Instrument: strings.ToUpper(d.Symbol), Timestamp: msg.Ts}
	rt.Last, _ = exchange.ParseFloat(d.LastPrice)
	rt.Bid, _ = exchange.ParseFloat(d.Bid1Price)
	rt.Ask, _ = exchange.ParseFloat(d.Ask1Price)
	rt.BaseVolume, _ = exchange.ParseFloat(d.Volume24h)
	rt.QuoteVolume, _ = exchange.ParseFloat(d.Turnover24h)
	if msg.Type == "snapshot" && rt.Last == 0 && rt.Bid == 0 && rt.Ask == 0 {
		return exchange.Frame{Invalid: 1}, nil
	}
	return exchange.Frame{Tickers: []exchange.RawTicker{rt}}, nil
}
