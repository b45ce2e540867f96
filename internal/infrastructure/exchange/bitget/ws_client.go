package bitget

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"perparb/internal/infrastructure/exchange"
)

const defaultArgsPerFrame = 20

type Stream struct {
	wsURL     string
	batchSize int
}

func NewStream(wsURL string, batchSize int) *Stream {
	if batchSize <= 0 {
		batchSize = defaultArgsPerFrame
	}
	return &Stream{wsURL: strings.TrimSpace(wsURL), batchSize: batchSize}
}

func (s *Stream) Endpoint() string { return s.wsURL }

// Heartbeat: bitget expects a text "ping" at least every 30s.
func (s *Stream) Heartbeat() exchange.Heartbeat {
	return exchange.Heartbeat{Interval: 25 * time.Second, Payload: []byte("ping")}
}

type subArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type subReq struct {
	Op   string   `json:"op"`
	Args []subArg `json:"args"`
}

func (s *Stream) SubscribeFrames(instruments []string) [][]byte {
	args := make([]subArg, 0, len(instruments))
	for _, id := range instruments {
		if id = strings.ToUpper(strings.TrimSpace(id)); id != "" {
			args = append(args, subArg{InstType: productType, Channel: "ticker", InstID: id})
		}
	}
	var out [][]byte
	for _, batch := range exchange.Chunk(args, s.batchSize) {
		b, _ := json.Marshal(subReq{Op: "subscribe", Args: batch})
		out = append(out, b)
	}
	return out
}

type tickerData struct {
	InstID      string `json:"instId"`
	LastPr      string `json:"lastPr"`
	BidPr       string `json:"bidPr"`
	AskPr       string `json:"askPr"`
	BaseVolume  string `json:"baseVolume"`
	QuoteVolume string `json:"quoteVolume"`
	Ts          string `json:"ts"`
}

type message struct {
	Event  string       `json:"event"`
	Code   json.Number  `json:"code"`
	Msg    string       `json:"msg"`
	Action string       `json:"action"`
	Arg    subArg       `json:"arg"`
	Data   []tickerData `json:"data"`
	Ts     int64        `json:"ts"`
}

func (s *Stream) ParseMessage(b []byte) (exchange.Frame, error) {
	b = bytes.TrimSpace(b)
	switch string(b) {
	case "pong":
		return exchange.Frame{}, nil
	case "ping":
		return exchange.Frame{Reply: []byte("pong")}, nil
	}
	var msg message
	if err := json.Unmarshal(b, &msg); err != nil {
		return exchange.Frame{}, fmt.Errorf("bitget: %w", err)
	}
	switch msg.Event {
	case "":
	case "error":
		return exchange.Frame{}, fmt.Errorf("bitget: error %s: %s", msg.Code, msg.Msg)
	default:
		return exchange.Frame{}, nil
	}
	if msg.Arg.Channel != "ticker" {
		return exchange.Frame{}, fmt.Errorf("bitget: unexpected channel %q", msg.Arg.Channel)
	}

	var fr exchange.Frame
	for _, d := range msg.Data {
		last, okL := exchange.ParseFloat(d.LastPr)
		bid, _ := exchange.ParseFloat(d.BidPr)
		ask, _ := exchange.ParseFloat(d.AskPr)
		if d.InstID == "" || (!okL && (bid == 0 || ask == 0)) {
			fr.Invalid++
			continue
		}
		rt := exchange.RawTicker{Instrument: d.InstID, Last: last, Bid: bid, Ask: ask, Timestamp: msg.Ts}
		if ts, ok := exchange.ParseInt64(d.Ts); ok {
			rt.Timestamp = ts
		}
		rt.BaseVolume, _ = exchange.ParseFloat(d.BaseVolume)
		rt.QuoteVolume, _ = exchange.ParseFloat(d.QuoteVolume)
		fr.Tickers = append(fr.Tickers, rt)
	}
	return fr, nil
}
