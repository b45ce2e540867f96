package exchange

import (
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestDelayBounds(t *testing.T) {
	for _, r := range []float64{0, 0.5, 0.999999} {
		p := ReconnectPolicy{Base: 100 * time.Millisecond, Max: time.Minute, Jitter: 250 * time.Millisecond, Rand: func() float64 { return r }}
		for n := 1; n <= 6; n++ {
			lo := time.Duration(float64(p.Base) * float64(int(1)<<(n-1)))
			hi := lo + p.Jitter
			d := p.Delay(n, nil)
			if d < lo || d > hi {
				t.Fatalf("rand=%v attempt %d: delay %v outside [%v, %v]", r, n, d, lo, hi)
			}
		}
	}
}

func TestDelayCappedAtMax(t *testing.T) {
	p := ReconnectPolicy{Base: time.Second, Max: 5 * time.Second, Jitter: time.Second, Rand: func() float64 { return 0.9 }}
	if d := p.Delay(30, nil); d != 5*time.Second {
		t.Fatalf("delay = %v, want cap", d)
	}
	if d := p.Delay(2000, nil); d != 5*time.Second {
		t.Fatalf("overflowing exponent should cap, got %v", d)
	}
}

func TestDelayMultipliers(t *testing.T) {
	p := ReconnectPolicy{Base: time.Second, Max: time.Hour}
	refused := fmt.Errorf("dial: %w", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED})

	cases := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"plain", fmt.Errorf("boom"), 2 * time.Second},
		{"refused", refused, 6 * time.Second},
		{"dns", &net.DNSError{Err: "no such host", Name: "x"}, 6 * time.Second},
		{"5xx", StatusError("okx", "funding", 503, nil), 3 * time.Second},
		{"429", StatusError("okx", "funding", 429, nil), 8 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(2, tc.err); got != tc.want {
			t.Errorf("%s: delay = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExhausted(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 3}
	if p.Exhausted(3) || !p.Exhausted(4) {
		t.Fatalf("exhaustion boundary wrong")
	}
	if (ReconnectPolicy{MaxAttempts: 1}).Exhausted(1) {
		t.Fatalf("MaxAttempts 1 allows no reconnect")
	}
	if (ReconnectPolicy{}).Exhausted(1000) {
		t.Fatalf("zero MaxAttempts retries forever")
	}
}
