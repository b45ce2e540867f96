package binance

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSubscribeFramesBatched(t *testing.T) {
	s := NewStream("wss://example", 3)
	frames := s.SubscribeFrames([]string{"BTCUSDT", "ETHUSDT"})
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	var req subReq
	if err := json.Unmarshal(frames[0], &req); err != nil {
		t.Fatal(err)
	}
	if req.Method != "SUBSCRIBE" || len(req.Params) != 3 || req.Params[0] != "btcusdt@bookTicker" {
		t.Fatalf("first frame = %+v", req)
	}
	if !strings.Contains(string(frames[1]), "ethusdt@miniTicker") {
		t.Fatalf("second frame = %s", frames[1])
	}
}

func TestParseBookTicker(t *testing.T) {
	s := NewStream("", 0)
	fr, err := s.ParseMessage([]byte(`{"e":"bookTicker","u":1,"E":1700000000100,"T":1700000000099,"s":"BTCUSDT","b":"100.5","B":"3","a":"100.7","A":"4"}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(fr.Tickers) != 1 {
		t.Fatalf("frame = %+v", fr)
	}
	tk := fr.Tickers[0]
	if tk.Instrument != "BTCUSDT" || tk.Bid != 100.5 || tk.Ask != 100.7 || tk.Timestamp != 1700000000099 {
		t.Fatalf("ticker = %+v", tk)
	}
}

func TestParseMiniTicker(t *testing.T) {
	s := NewStream("", 0)
	fr, err := s.ParseMessage([]byte(`{"e":"24hrMiniTicker","E":1700000000000,"s":"ETHUSDT","c":"2000","o":"1900","h":"2100","l":"1800","v":"10","q":"20000"}`))
	if err != nil {
		t.Fatal(err)
	}
	tk := fr.Tickers[0]
	if tk.Last != 2000 || tk.BaseVolume != 10 || tk.QuoteVolume != 20000 || tk.Bid != 0 {
		t.Fatalf("ticker = %+v", tk)
	}
}

func TestParseControlAndErrors(t *testing.T) {
	s := NewStream("", 0)
	if fr, err := s.ParseMessage([]byte(`{"result":null,"id":1}`)); err != nil || len(fr.Tickers) != 0 {
		t.Fatalf("ack = %+v, %v", fr, err)
	}
	if _, err := s.ParseMessage([]byte(`{"error":{"code":2,"msg":"Invalid request"},"id":2}`)); err == nil {
		t.Fatal("error frame accepted")
	}
	if _, err := s.ParseMessage([]byte(`{`)); err == nil {
		t.Fatal("broken json accepted")
	}
	fr, err := s.ParseMessage([]byte(`{"e":"bookTicker","s":"BTCUSDT","b":"","a":"1"}`))
	if err != nil || fr.Invalid != 1 {
		t.Fatalf("missing bid = %+v, %v", fr, err)
	}
}
