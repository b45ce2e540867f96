package bitget

import (
	"perparb/internal/infrastructure/exchange"
)

const (
	Name           = "bitget"
	DefaultWSURL   = "wss://ws.bitget.com/v2/ws/public"
	DefaultRESTURL = "https://api.bitget.com"

	productType = "USDT-FUTURES"
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
		Name: Name,
		// only the USDT-margined product line is subscribed
		Symbols: exchange.NewSymbolNormalizer(exchange.SymbolOptions{
			Quotes:  []string{"USDT"},
			Aliases: opts.Aliases,
		}),
		Stream:  NewStream(opts.WSURL, opts.BatchSize),
		Funding: NewFundingClient(rest),
	}, nil
}
