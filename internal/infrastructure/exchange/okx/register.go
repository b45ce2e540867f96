package okx

import (
	"perparb/internal/infrastructure/exchange"
)

const (
	Name           = "okx"
	DefaultWSURL   = "wss://ws.okx.com:8443/ws/v5/public"
	DefaultRESTURL = "https://www.okx.com"
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
		Symbols: NewSymbols(opts.Aliases),
		Stream:  NewStream(opts.WSURL, opts.BatchSize),
		Funding: NewFundingClient(rest),
	}, nil
}

// NewSymbols: BTC-USDT-SWAP; coin-margined BTC-USD-SWAP settles in BTC.
func NewSymbols(aliases map[string]string) *exchange.SymbolNormalizer {
	return exchange.NewSymbolNormalizer(exchange.SymbolOptions{
		Separator:      "-",
		ContractSuffix: "-SWAP",
		InverseQuotes:  []string{"USD"},
		Aliases:        aliases,
	})
}
