package bybit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perparb/internal/infrastructure/exchange"
)

func TestFetchFundingLinearTickers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("category") != "linear" {
			t.Errorf("category = %q", r.URL.Query().Get("category"))
		}
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"linear","list":[
			{"symbol":"BTCUSDT","fundingRate":"-0.0002","nextFundingTime":"1700003600000","fundingIntervalHour":"4"},
			{"symbol":"NEWUSDT","fundingRate":"","nextFundingTime":"0"}
		]},"time":1700000000000}`))
	}))
	defer srv.Close()

	rest, _ := exchange.NewRESTClient(Name, srv.URL, time.Second, "")
	got, err := NewFundingClient(rest).FetchFunding(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Rate != -0.0002 || got[0].IntervalHours != 4 {
		t.Fatalf("funding = %+v", got)
	}
}

func TestFetchFundingRetCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":10006,"retMsg":"Too many visits!"}`))
	}))
	defer srv.Close()

	rest, _ := exchange.NewRESTClient(Name, srv.URL, time.Second, "")
	if _, err := NewFundingClient(rest).FetchFunding(context.Background(), ""); !errors.Is(err, exchange.ErrRateLimit) {
		t.Fatalf("err = %v", err)
	}
}
