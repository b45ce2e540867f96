package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"perparb/internal/domain/model"
)

// RawTicker is a venue ticker record before symbol normalization. Zero numeric
// fields mean "not present in this update".
type RawTicker struct {
	Instrument  string
	Bid         float64
	Ask         float64
	Last        float64
	BaseVolume  float64
	QuoteVolume float64
	Timestamp   int64 // unix ms, 0 = receive time
}

type RawFunding struct {
	Instrument      string
	Rate            float64
	NextFundingTime *int64
	IntervalHours   float64
	Timestamp       int64
}

// Frame is one decoded inbound stream message.
type Frame struct {
	Tickers []RawTicker
	// Invalid counts records dropped for missing or non-numeric fields.
	Invalid int
	// Reply is written back as a text frame, e.g. "pong" to a server ping.
	Reply []byte
}

// Heartbeat describes how a stream is kept alive. A nil Payload sends websocket
// ping control frames.
type Heartbeat struct {
	Interval time.Duration
	Payload  []byte
}

// Instrumenter converts between venue ids and canonical symbols.
type Instrumenter interface {
	Instrument(base, quote string) string
	Normalize(raw string) (model.Symbol, error)
}

// StreamAdapter is the venue-specific half of a websocket session.
type StreamAdapter interface {
	Endpoint() string
	SubscribeFrames(instruments []string) [][]byte
	ParseMessage(b []byte) (Frame, error)
	Heartbeat() Heartbeat
}

// TickerPoller fetches a complete ticker set over REST. It must return an error
// rather than a partial list when the response is not structurally valid.
type TickerPoller interface {
	FetchTickers(ctx context.Context) ([]RawTicker, error)
}

// FundingSource fetches funding rates. A target is whatever one request needs:
// a single instrument, or "" for venues that return everything at once.
type FundingSource interface {
	FundingTargets(instruments []string) []string
	FetchFunding(ctx context.Context, target string) ([]RawFunding, error)
}

// Adapter bundles one venue's protocol pieces. Exactly one of Stream or Poller
// is set.
type Adapter struct {
	Name    string
	Symbols Instrumenter
	Stream  StreamAdapter
	Poller  TickerPoller
	Funding FundingSource
	// MaxConnLifetime is the venue-imposed connection lifetime, 0 if none.
	MaxConnLifetime time.Duration
}

func (a *Adapter) validate() error {
	if a == nil {
		return errors.New("nil adapter")
	}
	if a.Name == "" || a.Symbols == nil {
		return fmt.Errorf("adapter %q incomplete", a.Name)
	}
	if (a.Stream == nil) == (a.Poller == nil) {
		return fmt.Errorf("adapter %q needs exactly one of stream or poller", a.Name)
	}
	return nil
}

// Instruments builds venue ids for every base in bases and every quote in quotes.
func Instruments(in Instrumenter, bases, quotes []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(bases)*len(quotes))
	for _, b := range bases {
		for _, q := range quotes {
			id := in.Instrument(b, q)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Chunk splits items into batches of at most n.
func Chunk[T any](items []T, n int) [][]T {
	if n <= 0 {
		n = len(items)
	}
	var out [][]T
	for len(items) > 0 {
		k := min(n, len(items))
		out = append(out, items[:k:k])
		items = items[k:]
	}
	return out
}

// ParseFloat parses exchange numeric strings. Empty strings yield (0, false).
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseInt64 parses millisecond timestamps sent as strings.
func ParseInt64(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// BuildQueryURL builds a URL with query parameters
func BuildQueryURL(base, path string, query url.Values) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", errors.New("base url is empty")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}
