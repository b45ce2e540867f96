package exchange

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Options are the per-venue settings a factory needs.
type Options struct {
	WSURL     string
	RESTURL   string
	Timeout   time.Duration // REST hard timeout
	ProxyURL  string
	Quotes    []string
	Aliases   map[string]string
	BatchSize int // subscription args per frame, 0 = venue default
}

// Factory builds a venue adapter.
type Factory func(opts Options) (*Adapter, error)

var (
	regMu    sync.RWMutex
	registry = make(map[string]Factory)
)

// Register is called from each venue package's init().
func Register(name string, factory Factory) {
	if factory == nil {
		log.Warn().Str("exchange", name).Msg("invalid adapter factory")
		return
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := registry[name]; exists {
		log.Warn().Str("exchange", name).Msg("adapter factory already registered, overwriting")
	}
	registry[name] = factory
}

// New builds the adapter registered under name.
func New(name string, opts Options) (*Adapter, error) {
	regMu.RLock()
	f, ok := registry[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("exchange %q not registered", name)
	}
	a, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("build %s adapter: %w", name, err)
	}
	return a, a.validate()
}

// Registered lists registered venue names, sorted.
func Registered() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
