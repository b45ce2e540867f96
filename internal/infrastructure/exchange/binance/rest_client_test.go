package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perparb/internal/infrastructure/exchange"
)

func TestFetchFundingPremiumIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/premiumIndex" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","markPrice":"100","lastFundingRate":"0.00010000","nextFundingTime":1700003600000,"time":1700000000000},
			{"symbol":"ETHUSDT","markPrice":"10","lastFundingRate":"","nextFundingTime":0,"time":1700000000000}
		]`))
	}))
	defer srv.Close()

	rest, _ := exchange.NewRESTClient(Name, srv.URL, time.Second, "")
	got, err := NewFundingClient(rest).FetchFunding(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Instrument != "BTCUSDT" || got[0].Rate != 0.0001 {
		t.Fatalf("funding = %+v", got)
	}
	if got[0].NextFundingTime == nil || *got[0].NextFundingTime != 1700003600000 {
		t.Fatalf("next funding = %v", got[0].NextFundingTime)
	}
}

func TestFetchFundingClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rest, _ := exchange.NewRESTClient(Name, srv.URL, time.Second, "")
	_, err := NewFundingClient(rest).FetchFunding(context.Background(), "")
	if !errors.Is(err, exchange.ErrRateLimit) {
		t.Fatalf("err = %v, want rate limit", err)
	}
}
