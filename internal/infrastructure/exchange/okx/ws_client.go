package okx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"perparb/internal/infrastructure/exchange"
)

const defaultArgsPerFrame = 20

// Stream OKX v5 public tickers channel. The server drops connections that are
// silent for 30s, so a text "ping" goes out every 20s.
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

func (s *Stream) Heartbeat() exchange.Heartbeat {
	return exchange.Heartbeat{Interval: 20 * time.Second, Payload: []byte("ping")}
}

type subArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subReq struct {
	Op   string   `json:"op"`
	Args []subArg `json:"args"`
}

func (s *Stream) SubscribeFrames(instruments []string) [][]byte {
	args := make([]subArg, 0, len(instruments))
	for _, id := range instruments {
		if id = strings.ToUpper(strings.TrimSpace(id)); id != "" {
			args = append(args, subArg{Channel: "tickers", InstID: id})
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
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	BidPx     string `json:"bidPx"`
	AskPx     string `json:"askPx"`
	VolCcy24h string `json:"volCcy24h"` // base currency for SWAP
	Ts        string `json:"ts"`
}

type message struct {
	Event string       `json:"event"`
	Code  string       `json:"code"`
	Msg   string       `json:"msg"`
	Arg   subArg       `json:"arg"`
	Data  []tickerData `json:"data"`
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
		return exchange.Frame{}, fmt.Errorf("okx: %w", err)
	}
	switch msg.Event {
	case "":
	case "error":
		return exchange.Frame{}, fmt.Errorf("okx: error %s: %s", msg.Code, msg.Msg)
	default:
		return exchange.Frame{}, nil // subscribe / channel-conn-count
	}
	if msg.Arg.Channel != "tickers" {
		return exchange.Frame{}, fmt.Errorf("okx: unexpected channel %q", msg.Arg.Channel)
	}

	var fr exchange.Frame
	for _, d := range msg.Data {
		last, okL := exchange.ParseFloat(d.Last)
		bid, _ := exchange.ParseFloat(d.BidPx)
		ask, _ := exchange.ParseFloat(d.AskPx)
		if d.InstID == "" || (!okL && (bid == 0 || ask == 0)) {
			fr.Invalid++
			continue
		}
		rt := exchange.RawTicker{Instrument: d.InstID, Last: last, Bid: bid, Ask: ask}
		rt.Timestamp, _ = exchange.ParseInt64(d.Ts)
		if vol, ok := exchange.ParseFloat(d.VolCcy24h); ok {
			rt.BaseVolume = vol
			rt.QuoteVolume = vol * last
		}
		fr.Tickers = append(fr.Tickers, rt)
	}
	return fr, nil
}
