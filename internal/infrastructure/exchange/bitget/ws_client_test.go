package bitget

import (
	"encoding/json"
	"testing"
)

func TestSubscribeFrames(t *testing.T) {
	frames := NewStream("", 0).SubscribeFrames([]string{"btcusdt"})
	var req subReq
	if err := json.Unmarshal(frames[0], &req); err != nil {
		t.Fatal(err)
	}
	want := subArg{InstType: "USDT-FUTURES", Channel: "ticker", InstID: "BTCUSDT"}
	if len(req.Args) != 1 || req.Args[0] != want {
		t.Fatalf("args = %+v", req.Args)
	}
}

func TestParseTicker(t *testing.T) {
	s := NewStream("", 0)
	fr, err := s.ParseMessage([]byte(`{"action":"snapshot","arg":{"instType":"USDT-FUTURES","channel":"ticker","instId":"BTCUSDT"},"data":[{"instId":"BTCUSDT","lastPr":"100","bidPr":"99.9","askPr":"100.1","baseVolume":"7","quoteVolume":"700","fundingRate":"0.0001","ts":"1700000000000"}],"ts":1700000000001}`))
	if err != nil || len(fr.Tickers) != 1 {
		t.Fatalf("frame = %+v, %v", fr, err)
	}
	tk := fr.Tickers[0]
	if tk.Last != 100 || tk.Ask != 100.1 || tk.BaseVolume != 7 || tk.Timestamp != 1700000000000 {
		t.Fatalf("ticker = %+v", tk)
	}
	if fr, err := s.ParseMessage([]byte("pong")); err != nil || len(fr.Tickers) != 0 {
		t.Fatalf("pong = %+v, %v", fr, err)
	}
	if fr, err := s.ParseMessage([]byte(" ping ")); err != nil || string(fr.Reply) != "pong" {
		t.Fatalf("ping = %+v, %v", fr, err)
	}
	if _, err := s.ParseMessage([]byte(`{"event":"error","code":30001,"msg":"instType:USDT-FUTURES,channel:ticker,instId:FOO doesn't exist"}`)); err == nil {
		t.Fatal("error event accepted")
	}
}
