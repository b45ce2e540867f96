package binance

import (
	"time"

	"perparb/internal/infrastructure/exchange"
)

const (
	Name           = "binance"
	DefaultWSURL   = "wss://fstream.binance.com/ws"
	DefaultRESTURL = "https://fapi.binance.com"
)

// init() 自动注册 Binance USDⓈ-M 永续
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
		Symbols: exchange.NewSymbolNormalizer(exchange.SymbolOptions{
			Quotes:  opts.Quotes,
			Aliases: opts.Aliases,
		}),
		Stream:  NewStream(opts.WSURL, opts.BatchSize),
		Funding: NewFundingClient(rest),
		// Binance drops every connection after 24h
		MaxConnLifetime: 23 * time.Hour,
	}, nil
}
