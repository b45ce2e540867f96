package model

import (
	"errors"
	"strings"
)

// ErrUnmappable is returned when a raw exchange identifier has no canonical form.
var ErrUnmappable = errors.New("symbol unmappable")

// Symbol 统一的跨交易所合约标识 BASE/QUOTE:SETTLE
type Symbol struct {
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Settle string `json:"settle"`
}

func NewSymbol(base, quote, settle string) Symbol {
	return Symbol{
		Base:   strings.ToUpper(strings.TrimSpace(base)),
		Quote:  strings.ToUpper(strings.TrimSpace(quote)),
		Settle: strings.ToUpper(strings.TrimSpace(settle)),
	}
}

// String renders e.g. BTC/USDT:USDT
func (s Symbol) String() string {
	return s.Base + "/" + s.Quote + ":" + s.Settle
}

func (s Symbol) IsZero() bool {
	return s.Base == "" && s.Quote == "" && s.Settle == ""
}

// Inverse reports whether the contract is margined in its own base asset.
func (s Symbol) Inverse() bool {
	return s.Settle != "" && s.Settle == s.Base
}

// ParseSymbol parses the canonical BASE/QUOTE:SETTLE form. A missing settle part
// defaults to the quote asset.
func ParseSymbol(v string) (Symbol, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	base, rest, ok := strings.Cut(v, "/")
	if !ok || base == "" || rest == "" {
		return Symbol{}, ErrUnmappable
	}
	quote, settle, _ := strings.Cut(rest, ":")
	if quote == "" {
		return Symbol{}, ErrUnmappable
	}
	if settle == "" {
		settle = quote
	}
	return NewSymbol(base, quote, settle), nil
}
