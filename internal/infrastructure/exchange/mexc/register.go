package mexc

import (
	"perparb/internal/infrastructure/exchange"
)

const (
	Name           = "mexc"
	DefaultRESTURL = "https://contract.mexc.com"
)

func init() {
	exchange.Register(Name, New)
}

// New builds the MEXC contract adapter. MEXC is polled over REST; WSURL is
// ignored.
func New(opts exchange.Options) (*exchange.Adapter, error) {
	if opts.RESTURL == "" {
		opts.RESTURL = DefaultRESTURL
	}
	rest, err := exchange.NewRESTClient(Name, opts.RESTURL, opts.Timeout, opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	c := NewClient(rest)
	return &exchange.Adapter{
		Name: Name,
		Symbols: exchange.NewSymbolNormalizer(exchange.SymbolOptions{
			Separator:     "_",
			InverseQuotes: []string{"USD"},
			Aliases:       opts.Aliases,
		}),
		Poller:  c,
		Funding: c,
	}, nil
}
