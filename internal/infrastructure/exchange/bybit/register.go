package bybit

import (
	"perparb/internal/infrastructure/exchange"
)

const (
	Name           = "bybit"
	DefaultWSURL   = "wss://stream.bybit.com/v5/public/linear"
	DefaultRESTURL = "https://api.bybit.com"
)

func init() {
	exchange.Register(Name, New)
}

func New(opts exchange.Options) (*exchange.Adapter, error) {
	if opts.WSURL == "" {
		opts.WSURL = DefaultWSURL
	}
	if opts.RESTURL == "" {
		opts.RESTURL = DefaultRESTURL
	}
	rest, err := exchange.NewRESTClient(Name, opts.RESTURL, opts.Timeout, opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	return &exchange.Adapter{
		Name:    Name,
		Symbols: NewSymbols(opts.Quotes, opts.Aliases),
		Stream:  NewStream(opts.WSURL, opts.BatchSize),
		Funding: NewFundingClient(rest),
	}, nil
}

// NewSymbols: linear USDC perpetuals are listed as BTCPERP.
func NewSymbols(quotes []string, aliases map[string]string) *exchange.SymbolNormalizer {
	return exchange.NewSymbolNormalizer(exchange.SymbolOptions{
		Quotes:       quotes,
		SuffixQuotes: map[string]string{"PERP": "USDC"},
		Aliases:      aliases,
	})
}
