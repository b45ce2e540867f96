package exchange

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// ReconnectPolicy 重连退避策略
// delay(n) = base * 2^(n-1) * multiplier(err) + U[0, jitter], capped at Max.
type ReconnectPolicy struct {
	Base        time.Duration
	Max         time.Duration
	Jitter      time.Duration
	MaxAttempts int // reconnect attempts after consecutive failures, 0 = forever

	// Rand returns a value in [0,1); nil uses math/rand/v2.
	Rand func() float64
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Base:        time.Second,
		Max:         2 * time.Minute,
		Jitter:      time.Second,
		MaxAttempts: 10,
	}
}

// Multiplier scales the delay by failure category.
func Multiplier(err error) float64 {
	if err == nil {
		return 1
	}
	switch KindOf(err) {
	case KindRateLimit:
		return 4
	case KindUpstreamServer:
		return 1.5
	}
	if isUnreachable(err) {
		return 3
	}
	return 1
}

// Delay for the n-th consecutive failure (n >= 1).
func (p ReconnectPolicy) Delay(attempt int, err error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := math.Pow(2, float64(attempt-1))
	d := float64(p.Base) * exp * Multiplier(err)
	if p.Jitter > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		d += r() * float64(p.Jitter)
	}
	if p.Max > 0 && (d > float64(p.Max) || math.IsInf(d, 0)) {
		return p.Max
	}
	return time.Duration(d)
}

// Exhausted reports whether the attempt-th consecutive failure leaves no
// reconnect in the budget.
func (p ReconnectPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
