package exchange

import (
	"sort"
	"strings"

	"perparb/internal/domain/model"
)

// DefaultQuotes are the quote assets recognised by suffix matching.
var DefaultQuotes = []string{"USDT", "USDC", "FDUSD", "BUSD", "USD"}

// SymbolOptions 交易所符号格式
type SymbolOptions struct {
	// Separator splits delimited ids (OKX "-", MEXC "_"). Empty means the venue
	// concatenates base and quote (BTCUSDT).
	Separator string
	// ContractSuffix is stripped before parsing and appended by Instrument
	// (OKX "-SWAP").
	ContractSuffix string
	// Quotes used by suffix matching; DefaultQuotes when empty.
	Quotes []string
	// SuffixQuotes maps contract-name suffixes to a quote asset, e.g. Bybit's
	// BTCPERP is the USDC-margined perpetual.
	SuffixQuotes map[string]string
	// InverseQuotes are quotes whose contracts settle in the base asset.
	InverseQuotes []string
	// Aliases rewrite quote assets, e.g. USD -> USDT.
	Aliases map[string]string
}

// SymbolNormalizer maps venue ids to canonical symbols. It holds no mutable state
// and is safe for concurrent use.
type SymbolNormalizer struct {
	sep      string
	suffix   string
	quotes   []string
	special  map[string]string
	inverse  map[string]struct{}
	aliases  map[string]string
	specialK []string
}

func NewSymbolNormalizer(opts SymbolOptions) *SymbolNormalizer {
	quotes := opts.Quotes
	if len(quotes) == 0 {
		quotes = DefaultQuotes
	}
	n := &SymbolNormalizer{
		sep:     opts.Separator,
		suffix:  strings.ToUpper(opts.ContractSuffix),
		quotes:  upperAll(quotes),
		special: make(map[string]string, len(opts.SuffixQuotes)),
		inverse: make(map[string]struct{}, len(opts.InverseQuotes)),
		aliases: make(map[string]string, len(opts.Aliases)),
	}
	// longest first so USDT wins over USD
	sort.SliceStable(n.quotes, func(i, j int) bool { return len(n.quotes[i]) > len(n.quotes[j]) })
	for k, v := range opts.SuffixQuotes {
		k = strings.ToUpper(strings.TrimSpace(k))
		n.special[k] = strings.ToUpper(strings.TrimSpace(v))
		n.specialK = append(n.specialK, k)
	}
	sort.Slice(n.specialK, func(i, j int) bool {
		if len(n.specialK[i]) != len(n.specialK[j]) {
			return len(n.specialK[i]) > len(n.specialK[j])
		}
		return n.specialK[i] < n.specialK[j]
	})
	for _, q := range opts.InverseQuotes {
		n.inverse[strings.ToUpper(strings.TrimSpace(q))] = struct{}{}
	}
	for k, v := range opts.Aliases {
		n.aliases[strings.ToUpper(strings.TrimSpace(k))] = strings.ToUpper(strings.TrimSpace(v))
	}
	return n
}

// Normalize returns the canonical symbol for a venue id, or model.ErrUnmappable.
// 例: BTCUSDT -> BTC/USDT:USDT, BTC-USD-SWAP -> BTC/USD:BTC, BTCPERP -> BTC/USDC:USDC
func (n *SymbolNormalizer) Normalize(raw string) (model.Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return model.Symbol{}, model.ErrUnmappable
	}
	if n.suffix != "" {
		if !strings.HasSuffix(s, n.suffix) {
			return model.Symbol{}, model.ErrUnmappable
		}
		s = strings.TrimSuffix(s, n.suffix)
	}

	var base, quote string
	if n.sep != "" {
		parts := strings.Split(s, n.sep)
		if len(parts) != 2 {
			return model.Symbol{}, model.ErrUnmappable
		}
		base, quote = parts[0], parts[1]
	} else {
		base, quote = n.splitConcat(s)
	}
	if !alnum(base) || !alnum(quote) {
		return model.Symbol{}, model.ErrUnmappable
	}
	return n.canonical(base, quote), nil
}

// Instrument is the inverse of Normalize for subscriptions and REST queries.
// 例: (BTC, USDT) -> BTCUSDT / BTC-USDT-SWAP
func (n *SymbolNormalizer) Instrument(base, quote string) string {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if base == "" || quote == "" {
		return ""
	}
	if n.sep != "" {
		return base + n.sep + quote + n.suffix
	}
	for _, k := range n.specialK {
		if n.special[k] == quote {
			return base + k + n.suffix
		}
	}
	return base + quote + n.suffix
}

func (n *SymbolNormalizer) splitConcat(s string) (string, string) {
	for _, k := range n.specialK {
		if len(s) > len(k) && strings.HasSuffix(s, k) {
			return strings.TrimSuffix(s, k), n.special[k]
		}
	}
	for _, q := range n.quotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return strings.TrimSuffix(s, q), q
		}
	}
	return "", ""
}

func (n *SymbolNormalizer) canonical(base, quote string) model.Symbol {
	settle := quote
	if _, ok := n.inverse[quote]; ok {
		settle = base
	}
	if a, ok := n.aliases[quote]; ok {
		if settle == quote {
			settle = a
		}
		quote = a
	}
	return model.NewSymbol(base, quote, settle)
}

func alnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
